package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"carecircle/pkg/domain"
)

// Migration names, in application order.
const (
	MigrationClearPreviousVersions = "clear-previous-versions"
	MigrationAssignDemoAvatars     = "assign-demo-avatars"
	MigrationNormalizeMemberRoles  = "normalize-member-roles"
	MigrationAddSymptoms           = "add-symptoms-collection"
	MigrationRecurringTasks        = "migrate-to-recurring-tasks"
)

// Migration is one named, idempotent step. Run reports whether the step
// found the data it targets; only those runs are recorded.
type Migration struct {
	Name string
	// Always steps run on every Migrate call and are never recorded.
	Always bool
	Run    func(s *RootStore, ctx context.Context) (bool, error)
}

// Migrations returns the ordered step list.
func Migrations() []Migration {
	return []Migration{
		{Name: MigrationClearPreviousVersions, Always: true, Run: (*RootStore).clearPreviousVersions},
		{Name: MigrationAssignDemoAvatars, Run: (*RootStore).assignDemoAvatars},
		{Name: MigrationNormalizeMemberRoles, Run: (*RootStore).normalizeMemberRoles},
		{Name: MigrationAddSymptoms, Run: (*RootStore).ensureSymptoms},
		{Name: MigrationRecurringTasks, Run: (*RootStore).migrateToRecurringTasks},
	}
}

func fixtureMigrations() []string {
	var names []string
	for _, m := range Migrations() {
		if !m.Always {
			names = append(names, m.Name)
		}
	}
	return names
}

// Migrate applies every step not yet recorded in meta.migrations and returns
// the names of the steps that ran. A step whose target data is absent (a
// fresh, empty document) stays unrecorded and is tried again next time.
func (s *RootStore) Migrate(ctx context.Context) ([]string, error) {
	var ran []string
	for _, m := range Migrations() {
		if !m.Always && s.GetRoot(ctx).Meta.HasMigration(m.Name) {
			continue
		}
		applied, err := m.Run(s, ctx)
		if err != nil {
			return ran, fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if !applied {
			slog.Debug("migration deferred", "name", m.Name)
			continue
		}
		if !m.Always {
			if err := s.recordMigration(ctx, m.Name); err != nil {
				return ran, err
			}
		}
		ran = append(ran, m.Name)
		slog.Debug("migration applied", "name", m.Name)
	}
	return ran, nil
}

func (s *RootStore) recordMigration(ctx context.Context, name string) error {
	_, err := s.UpdateRoot(ctx, func(root *domain.Root) error {
		if root.Meta.HasMigration(name) {
			return ErrNoChange
		}
		root.Meta.Migrations = append(root.Meta.Migrations, name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return nil
}

// rewrite applies a pure step and only writes when it changed something.
// applies is evaluated on the same document the step sees.
func (s *RootStore) rewrite(ctx context.Context, applies, step func(*domain.Root) bool) (bool, error) {
	applied := false
	_, err := s.UpdateRoot(ctx, func(root *domain.Root) error {
		applied = applies(root)
		if !step(root) {
			return ErrNoChange
		}
		return nil
	})
	return applied, err
}

func always(*domain.Root) bool { return true }

// ClearPreviousVersions deletes the keys of earlier storage layouts.
func (s *RootStore) ClearPreviousVersions(ctx context.Context) error {
	_, err := s.clearPreviousVersions(ctx)
	return err
}

func (s *RootStore) clearPreviousVersions(ctx context.Context) (bool, error) {
	return true, s.backend.Delete(ctx, LegacyKeys...)
}

// AssignDemoAvatars gives recognized demo accounts their avatar when unset.
func (s *RootStore) AssignDemoAvatars(ctx context.Context) error {
	_, err := s.assignDemoAvatars(ctx)
	return err
}

func (s *RootStore) assignDemoAvatars(ctx context.Context) (bool, error) {
	return s.rewrite(ctx, func(root *domain.Root) bool { return len(root.Users) > 0 }, AssignDemoAvatars)
}

// NormalizeMemberRoles rewrites legacy role strings.
func (s *RootStore) NormalizeMemberRoles(ctx context.Context) error {
	_, err := s.normalizeMemberRoles(ctx)
	return err
}

func (s *RootStore) normalizeMemberRoles(ctx context.Context) (bool, error) {
	return s.rewrite(ctx, func(root *domain.Root) bool { return len(root.Members) > 0 }, NormalizeMemberRoles)
}

// EnsureSymptoms backfills the symptoms collection on old documents.
func (s *RootStore) EnsureSymptoms(ctx context.Context) error {
	_, err := s.ensureSymptoms(ctx)
	return err
}

func (s *RootStore) ensureSymptoms(ctx context.Context) (bool, error) {
	raw, ok, err := s.RawRoot(ctx)
	if err != nil || !ok {
		return false, err
	}
	if hasKey(raw, "symptoms") {
		return true, nil
	}
	// decoding already shapes the collection; a write persists it
	return s.rewrite(ctx, always, always)
}

// MigrateToRecurringTasks adds the daily templates to the first group when
// tasks exist but none of them recur.
func (s *RootStore) MigrateToRecurringTasks(ctx context.Context) error {
	_, err := s.migrateToRecurringTasks(ctx)
	return err
}

func (s *RootStore) migrateToRecurringTasks(ctx context.Context) (bool, error) {
	now := s.now()
	return s.rewrite(ctx, func(root *domain.Root) bool {
		return len(root.Tasks) > 0 && len(root.Groups) > 0
	}, func(root *domain.Root) bool {
		return MigrateToRecurringTasks(root, now)
	})
}

// AssignDemoAvatars is the pure form of the avatar step.
func AssignDemoAvatars(root *domain.Root) bool {
	byEmail := make(map[string]domain.Avatar, len(demoUsers))
	for _, u := range demoUsers {
		byEmail[u.email] = u.avatar
	}
	changed := false
	for id, u := range root.Users {
		if u.Avatar != "" {
			continue
		}
		if avatar, ok := byEmail[domain.NormalizeEmail(u.Email)]; ok {
			u.Avatar = avatar
			root.Users[id] = u
			changed = true
		}
	}
	return changed
}

// NormalizeMemberRoles maps WARRIOR to PATIENT and MEMBER or ADMIN to
// CAREGIVER.
func NormalizeMemberRoles(root *domain.Root) bool {
	changed := false
	for i, m := range root.Members {
		switch m.Role {
		case domain.RoleLegacyWarrior:
			root.Members[i].Role = domain.RolePatient
		case domain.RoleLegacyMember, domain.RoleLegacyAdmin:
			root.Members[i].Role = domain.RoleCaregiver
		default:
			continue
		}
		changed = true
	}
	return changed
}

// MigrateToRecurringTasks is the pure form of the recurring-template step.
func MigrateToRecurringTasks(root *domain.Root, now time.Time) bool {
	if len(root.Tasks) == 0 || len(root.Groups) == 0 {
		return false
	}
	for _, t := range root.Tasks {
		if t.IsRecurring {
			return false
		}
	}
	groupIDs := make([]string, 0, len(root.Groups))
	for id := range root.Groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)
	groupID := groupIDs[0]

	createdBy := root.Tasks[0].CreatedBy
	for _, m := range root.Members {
		if m.GroupID == groupID && m.Role == domain.RolePatient && m.Status == domain.MemberActive {
			createdBy = m.UserID
			break
		}
	}
	root.Tasks = append(root.Tasks, recurringTemplates(groupID, createdBy, now.UTC().Truncate(time.Second))...)
	return true
}

// recurringTemplates are the four standing daily needs.
func recurringTemplates(groupID, createdBy string, createdAt time.Time) []domain.Task {
	tpl := func(id, title string, cat domain.TaskCategory, start, end string) domain.Task {
		return domain.Task{
			ID: id, GroupID: groupID, Title: title, Category: cat,
			TaskDate: createdAt.Format(dateLayout), StartTime: start, EndTime: end,
			Slots: 1, CreatedBy: createdBy, CreatedAt: createdAt,
			IsRecurring: true, RecurringType: domain.RecurringDaily,
		}
	}
	return []domain.Task{
		tpl("rt-morning-meds", "Morning medication check", domain.CategoryMeds, "08:00", "08:30"),
		tpl("rt-evening-visit", "Evening check-in visit", domain.CategoryVisit, "19:00", "20:00"),
		tpl("rt-lunch", "Lunch drop-off", domain.CategoryMeal, "12:00", "12:30"),
		tpl("rt-dog-walk", "Walk the dog", domain.CategoryOther, "16:00", "16:30"),
	}
}

// hasKey reports whether the top-level JSON object raw carries key.
func hasKey(raw []byte, key string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	_, ok := fields[key]
	return ok
}
