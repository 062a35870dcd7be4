// Package deps opens the storage, messaging and archive clients shared by the
// circle server and circlectl.
package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"carecircle/pkg/archive"
	"carecircle/pkg/kv"
	"carecircle/pkg/notify"
	"carecircle/pkg/store"
	"carecircle/services/circle/internal/config"
)

// Deps holds the opened clients. Redis, Outbox and Archive are nil when not
// configured.
type Deps struct {
	Redis   *redis.Client
	Backend kv.Backend
	Store   *store.RootStore
	Outbox  *notify.Outbox
	Archive *archive.Archiver
}

// Open connects everything cfg asks for.
func Open(ctx context.Context, cfg config.FileConfig) (*Deps, error) {
	d := &Deps{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		d.Redis = client
	}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		d.Backend = kv.NewMemoryBackend()
	case config.DriverRedis:
		d.Backend = kv.NewRedisBackend(d.Redis)
	case config.DriverPostgres, config.DriverSQLite:
		backend, err := kv.OpenSQLBackend(cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Backend = backend
	default:
		d.Close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	var opts []store.Option
	if cfg.ArchiveEnabled() {
		objects, err := archive.NewMinioStore(ctx, archive.MinioConfig{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		a, err := archive.New(objects)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Archive = a
		opts = append(opts, store.WithArchiver(a))
	}
	d.Store = store.NewRootStore(d.Backend, opts...)

	if cfg.OutboxStream != "" {
		outbox, err := notify.NewOutbox(d.Redis, notify.OutboxConfig{Stream: cfg.OutboxStream})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("init outbox: %w", err)
		}
		d.Outbox = outbox
	}

	slog.Info("dependencies ready",
		"store_driver", cfg.StoreDriver,
		"redis", d.Redis != nil,
		"outbox", d.Outbox != nil,
		"archive", d.Archive != nil)
	return d, nil
}

// Close releases the backend and the redis client.
func (d *Deps) Close() error {
	var errs []error
	if d.Backend != nil {
		errs = append(errs, d.Backend.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	return errors.Join(errs...)
}
