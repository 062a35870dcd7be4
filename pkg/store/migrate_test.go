package store

import (
	"context"
	"testing"

	"carecircle/pkg/domain"
)

func legacyRoot() domain.Root {
	root := domain.NewRoot()
	root.Users["u1"] = domain.User{ID: "u1", Email: "Sarah@CareCircle.demo"}
	root.Users["u2"] = domain.User{ID: "u2", Email: "someone@example.com"}
	root.Users["u3"] = domain.User{ID: "u3", Email: "mike@carecircle.demo", Avatar: domain.AvatarMoon}
	root.Groups["g1"] = domain.Group{ID: "g1", Name: "Circle", InviteCode: "CARE-0001"}
	root.Members = []domain.GroupMember{
		{GroupID: "g1", UserID: "u1", Role: domain.RoleLegacyWarrior, Status: domain.MemberActive},
		{GroupID: "g1", UserID: "u2", Role: domain.RoleLegacyMember, Status: domain.MemberActive},
		{GroupID: "g1", UserID: "u3", Role: domain.RoleLegacyAdmin, Status: domain.MemberActive},
	}
	root.Tasks = []domain.Task{{ID: "t1", GroupID: "g1", Title: "Dinner", Category: domain.CategoryMeal, TaskDate: "2026-03-10", Slots: 1, CreatedBy: "u2"}}
	return root
}

func TestNormalizeMemberRoles(t *testing.T) {
	root := legacyRoot()
	if !NormalizeMemberRoles(&root) {
		t.Fatalf("expected legacy roles to change")
	}
	want := []domain.MemberRole{domain.RolePatient, domain.RoleCaregiver, domain.RoleCaregiver}
	for i, m := range root.Members {
		if m.Role != want[i] {
			t.Fatalf("member %d role = %s, want %s", i, m.Role, want[i])
		}
	}
	if NormalizeMemberRoles(&root) {
		t.Fatalf("second run must be a no-op")
	}
}

func TestAssignDemoAvatars(t *testing.T) {
	root := legacyRoot()
	if !AssignDemoAvatars(&root) {
		t.Fatalf("expected a demo avatar assignment")
	}
	if root.Users["u1"].Avatar != domain.AvatarSunflower {
		t.Fatalf("sarah avatar = %q", root.Users["u1"].Avatar)
	}
	if root.Users["u2"].Avatar != "" {
		t.Fatalf("non-demo users keep no avatar")
	}
	if root.Users["u3"].Avatar != domain.AvatarMoon {
		t.Fatalf("existing avatar must not be overwritten")
	}
	if AssignDemoAvatars(&root) {
		t.Fatalf("second run must be a no-op")
	}
}

func TestMigrateToRecurringTasksTwiceDoesNotDuplicate(t *testing.T) {
	root := legacyRoot()
	if !MigrateToRecurringTasks(&root, fixedNow) {
		t.Fatalf("expected templates to be added")
	}
	if MigrateToRecurringTasks(&root, fixedNow) {
		t.Fatalf("second run must be a no-op")
	}
	recurring := 0
	for _, task := range root.Tasks {
		if task.IsRecurring {
			recurring++
			if task.GroupID != "g1" || task.CreatedBy != "u1" {
				t.Fatalf("template %s attached to %s by %s", task.ID, task.GroupID, task.CreatedBy)
			}
		}
	}
	if recurring != 4 {
		t.Fatalf("expected 4 templates, got %d", recurring)
	}
}

func TestMigrateToRecurringTasksSkipsEmptyDocuments(t *testing.T) {
	root := domain.NewRoot()
	if MigrateToRecurringTasks(&root, fixedNow) {
		t.Fatalf("no tasks means nothing to migrate")
	}
}

func TestMigrateAppliesStepsOnceAndRecordsThem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SetRoot(ctx, legacyRoot()); err != nil {
		t.Fatalf("set root: %v", err)
	}
	for _, key := range LegacyKeys {
		if err := s.Backend().Set(ctx, key, []byte(`{}`), 0); err != nil {
			t.Fatalf("seed legacy key: %v", err)
		}
	}

	ran, err := s.Migrate(ctx)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(ran) != len(Migrations()) {
		t.Fatalf("expected every step to run, got %v", ran)
	}
	for _, key := range LegacyKeys {
		if _, ok, _ := s.Backend().Get(ctx, key); ok {
			t.Fatalf("legacy key %s survived", key)
		}
	}

	root := s.GetRoot(ctx)
	for _, name := range fixtureMigrations() {
		if !root.Meta.HasMigration(name) {
			t.Fatalf("migration %s not recorded", name)
		}
	}
	tasks := len(root.Tasks)

	ran, err = s.Migrate(ctx)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(ran) != 1 || ran[0] != MigrationClearPreviousVersions {
		t.Fatalf("only the key cleanup should repeat, got %v", ran)
	}
	if got := len(s.GetRoot(ctx).Tasks); got != tasks {
		t.Fatalf("tasks changed on second migrate: %d -> %d", tasks, got)
	}
}

func TestStepsAreNoOpsWithoutMarkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SetRoot(ctx, legacyRoot()); err != nil {
		t.Fatalf("set root: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.MigrateToRecurringTasks(ctx); err != nil {
			t.Fatalf("recurring: %v", err)
		}
		if err := s.NormalizeMemberRoles(ctx); err != nil {
			t.Fatalf("roles: %v", err)
		}
	}
	root := s.GetRoot(ctx)
	if len(root.Tasks) != 5 {
		t.Fatalf("expected 1 task + 4 templates, got %d", len(root.Tasks))
	}
	if len(root.Meta.Migrations) != 0 {
		t.Fatalf("direct step calls do not record markers")
	}
}

func TestEnsureSymptomsBackfillsMissingCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Backend().Set(ctx, s.Key(), []byte(`{"users":{},"meta":{"version":"v3"}}`), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.EnsureSymptoms(ctx); err != nil {
		t.Fatalf("ensure symptoms: %v", err)
	}
	raw, _, _ := s.RawRoot(ctx)
	if !hasKey(raw, "symptoms") {
		t.Fatalf("expected symptoms key after backfill: %s", raw)
	}
}

func TestMigrateOnEmptyDocumentDefersDataSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ran, err := s.Migrate(ctx)
	if err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if len(ran) != 1 || ran[0] != MigrationClearPreviousVersions {
		t.Fatalf("empty document should only run the key cleanup, got %v", ran)
	}
	if got := s.GetRoot(ctx).Meta.Migrations; len(got) != 0 {
		t.Fatalf("nothing should be recorded against an empty document, got %v", got)
	}

	_, err = s.UpdateRoot(ctx, func(root *domain.Root) error {
		root.Groups["g1"] = domain.Group{ID: "g1", Name: "Circle", InviteCode: "CARE-0001"}
		root.Tasks = append(root.Tasks, domain.Task{ID: "t1", GroupID: "g1", Title: "Dinner", Category: domain.CategoryMeal, TaskDate: "2026-03-10", Slots: 1, CreatedBy: "u1"})
		return nil
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if _, err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	root := s.GetRoot(ctx)
	recurring := 0
	for _, task := range root.Tasks {
		if task.IsRecurring {
			recurring++
		}
	}
	if recurring != 4 {
		t.Fatalf("recurring templates after second boot = %d, migrations=%v", recurring, root.Meta.Migrations)
	}
	if !root.Meta.HasMigration(MigrationRecurringTasks) {
		t.Fatalf("recurring step should be recorded once it applied")
	}
}
