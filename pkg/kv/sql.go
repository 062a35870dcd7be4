package kv

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// entryModel is one row of kv_entries.
type entryModel struct {
	Key       string         `gorm:"column:entry_key;primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"column:value;not null"`
	Version   int64          `gorm:"column:version;not null;default:1"`
	ExpiresAt *time.Time     `gorm:"column:expires_at;index"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (entryModel) TableName() string { return "kv_entries" }

// SQLBackend stores entries in a relational table through gorm. Update is a
// version-checked conditional UPDATE retried on conflict.
type SQLBackend struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLBackend opens driver ("postgres" or "sqlite") at dsn and migrates the
// kv_entries table.
func OpenSQLBackend(driver, dsn string) (*SQLBackend, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("kv: unsupported sql driver %q", driver)
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// each pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewSQLBackend(db)
}

// NewSQLBackend migrates kv_entries on an already opened connection.
func NewSQLBackend(db *gorm.DB) (*SQLBackend, error) {
	if err := db.AutoMigrate(&entryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate kv_entries: %w", err)
	}
	return &SQLBackend{db: db, now: time.Now}, nil
}

func (b *SQLBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	row, ok, err := b.load(ctx, b.db, key)
	if err != nil || !ok || b.expired(row) {
		return nil, false, err
	}
	return []byte(row.Value), true, nil
}

func (b *SQLBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := b.now().UTC()
	row := entryModel{Key: key, Value: datatypes.JSON(value), Version: 1, UpdatedAt: now}
	if ttl > 0 {
		expires := now.Add(ttl)
		row.ExpiresAt = &expires
	}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"expires_at": row.ExpiresAt,
			"updated_at": now,
			"version":    gorm.Expr("kv_entries.version + 1"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := b.db.WithContext(ctx).Where("entry_key IN ?", keys).Delete(&entryModel{}).Error; err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (b *SQLBackend) Update(ctx context.Context, key string, fn UpdateFunc) error {
	db := b.db.WithContext(ctx)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		row, found, err := b.load(ctx, db, key)
		if err != nil {
			return err
		}
		live := found && !b.expired(row)
		var current []byte
		if live {
			current = []byte(row.Value)
		}
		next, err := fn(current, live)
		if err != nil || next == nil {
			return err
		}

		now := b.now().UTC()
		var res *gorm.DB
		if found {
			res = db.Model(&entryModel{}).
				Where("entry_key = ? AND version = ?", key, row.Version).
				Updates(map[string]any{
					"value":      datatypes.JSON(next),
					"version":    row.Version + 1,
					"expires_at": nil,
					"updated_at": now,
				})
		} else {
			res = db.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&entryModel{Key: key, Value: datatypes.JSON(next), Version: 1, UpdatedAt: now})
		}
		if res.Error != nil {
			return fmt.Errorf("kv update %s: %w", key, res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return fmt.Errorf("kv update %s: %w", key, ErrConflict)
}

func (b *SQLBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *SQLBackend) load(ctx context.Context, db *gorm.DB, key string) (entryModel, bool, error) {
	var row entryModel
	if err := db.WithContext(ctx).First(&row, "entry_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entryModel{}, false, nil
		}
		return entryModel{}, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return row, true, nil
}

func (b *SQLBackend) expired(row entryModel) bool {
	return row.ExpiresAt != nil && !b.now().Before(*row.ExpiresAt)
}
