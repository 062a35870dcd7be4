package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"carecircle/pkg/domain"
	"carecircle/pkg/notify"
	"carecircle/pkg/store"
)

func TestRecurringInstanceID(t *testing.T) {
	if got := RecurringInstanceID("rt-lunch", "2026-03-10"); got != "rt-lunch-2026-03-10" {
		t.Fatalf("unexpected id %q", got)
	}
	date, ok := splitInstanceID("rt-lunch-2026-03-10", "rt-lunch")
	if !ok || date != "2026-03-10" {
		t.Fatalf("split failed: %q %v", date, ok)
	}
	if _, ok := splitInstanceID("rt-lunch-soon", "rt-lunch"); ok {
		t.Fatalf("expected non-date suffix to be rejected")
	}
}

func TestTasksForDateProjectsTemplatesOnce(t *testing.T) {
	root := store.Fixture(baseTime)
	// a duplicated template row must still project a single instance
	dup := root.Tasks[3]
	root.Tasks = append(root.Tasks, dup)

	tasks := TasksForDate(root, store.DemoGroupID, today())
	want := []string{
		RecurringInstanceID("rt-morning-meds", today()),
		"t-dinner",
		RecurringInstanceID("rt-evening-visit", today()),
	}
	if len(tasks) != len(want) {
		t.Fatalf("expected %d tasks, got %+v", len(want), tasks)
	}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("position %d: want %s got %s", i, id, tasks[i].ID)
		}
		if tasks[i].TaskDate != today() {
			t.Fatalf("task %s has date %s", tasks[i].ID, tasks[i].TaskDate)
		}
	}

	// another day carries only the templates plus that day's one-time task
	tomorrow := baseTime.AddDate(0, 0, 1).Format(dateLayout)
	next := TasksForDate(root, store.DemoGroupID, tomorrow)
	if len(next) != 3 || next[1].ID != "t-chemo-ride" {
		t.Fatalf("unexpected tasks for tomorrow: %+v", next)
	}
}

func TestGetTasksForRangeBounds(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "emma@carecircle.demo")
	ctx := context.Background()

	days, err := env.app.GetTasksForRange(ctx, "", today(), baseTime.AddDate(0, 0, 6).Format(dateLayout))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(days) != 7 {
		t.Fatalf("expected 7 days, got %d", len(days))
	}
	if !days[0].Tasks[1].ClaimedByMe {
		t.Fatalf("expected emma's dinner claim to be visible: %+v", days[0].Tasks[1])
	}
	if _, err := env.app.GetTasksForRange(ctx, "", today(), "2027-01-01"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected oversized range to fail, got %v", err)
	}
	if _, err := env.app.GetTasksForRange(ctx, "", today(), "2026-01-01"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected inverted range to fail, got %v", err)
	}
}

func TestClaimUnclaimRecurringInstance(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "mike@carecircle.demo")
	ctx := context.Background()
	id := RecurringInstanceID("rt-morning-meds", today())
	mailsBefore := len(env.app.Root(ctx).Mailbox)

	view, err := env.app.ClaimTask(ctx, id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if view.Available != 0 || !view.ClaimedByMe {
		t.Fatalf("unexpected view after claim: %+v", view)
	}
	root := env.app.Root(ctx)
	if len(root.Mailbox) != mailsBefore+1 {
		t.Fatalf("expected one claim mail")
	}
	last := root.Mailbox[len(root.Mailbox)-1]
	if last.To != "sarah@carecircle.demo" || last.Meta["kind"] != notify.KindTaskClaimed {
		t.Fatalf("unexpected claim mail %+v", last)
	}

	if _, err := env.app.ClaimTask(ctx, id); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	tasks, err := env.app.GetTasksForDate(ctx, "", today())
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if tasks[0].ID != id || tasks[0].Available != 0 || len(tasks[0].HelperIDs) != 1 {
		t.Fatalf("projection did not see the claim: %+v", tasks[0])
	}

	view, err = env.app.UnclaimTask(ctx, id)
	if err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if view.Available != 1 || view.ClaimedByMe {
		t.Fatalf("unexpected view after unclaim: %+v", view)
	}
	if _, err := env.app.UnclaimTask(ctx, id); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed, got %v", err)
	}
}

func TestClaimRejectsRawTemplateID(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "mike@carecircle.demo")
	if _, err := env.app.ClaimTask(context.Background(), "rt-morning-meds"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestClaimFullTaskDoesNotWrite(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.loginAs(t, "mike@carecircle.demo")
	if _, err := env.app.ClaimTask(ctx, "t-chemo-ride"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	env.loginAs(t, "david@carecircle.demo")
	before := env.app.Root(ctx)

	if _, err := env.app.ClaimTask(ctx, "t-chemo-ride"); !errors.Is(err, ErrTaskFull) {
		t.Fatalf("expected ErrTaskFull, got %v", err)
	}
	after := env.app.Root(ctx)
	if len(after.Signups) != len(before.Signups) || len(after.Mailbox) != len(before.Mailbox) {
		t.Fatalf("full claim wrote state")
	}
}

func TestConcurrentClaimsNeverOverfill(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.loginAs(t, "sarah@carecircle.demo")
	task, err := env.app.CreateTask(ctx, TaskInput{
		Title: "Pharmacy run", Category: domain.CategoryDelivery, TaskDate: today(), Slots: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.app.ClaimTask(ctx, task.ID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadyClaimed) && !errors.Is(err, ErrTaskFull) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", successes)
	}
	if n := env.app.Root(ctx).ClaimedCount(task.ID); n != 1 {
		t.Fatalf("expected one signup, got %d", n)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "emma@carecircle.demo")
	ctx := context.Background()
	cases := []TaskInput{
		{Category: domain.CategoryMeal, TaskDate: today(), Slots: 1},
		{Title: "x", Category: "gardening", TaskDate: today(), Slots: 1},
		{Title: "x", Category: domain.CategoryMeal, TaskDate: "tomorrow", Slots: 1},
		{Title: "x", Category: domain.CategoryMeal, TaskDate: today(), Slots: 0},
		{Title: "x", Category: domain.CategoryMeal, TaskDate: today(), Slots: 1, StartTime: "25:00"},
		{Title: "x", Category: domain.CategoryMeal, TaskDate: today(), Slots: 1, StartTime: "10:00", EndTime: "09:00"},
	}
	for i, in := range cases {
		if _, err := env.app.CreateTask(ctx, in); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	task, err := env.app.CreateTask(ctx, TaskInput{
		Title: "Water plants", Category: domain.CategoryOther, TaskDate: today(), Slots: 2, IsRecurring: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !task.IsDailyTemplate() || task.CreatedBy != "u-emma" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestDeleteTaskPermissionsAndSignups(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.loginAs(t, "mike@carecircle.demo")
	instance := RecurringInstanceID("rt-evening-visit", today())
	if _, err := env.app.ClaimTask(ctx, instance); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := env.app.DeleteTask(ctx, "rt-evening-visit"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := env.app.DeleteTask(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	env.loginAs(t, "sarah@carecircle.demo")
	if err := env.app.DeleteTask(ctx, "rt-evening-visit"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	root := env.app.Root(ctx)
	if _, ok := root.FindTask("rt-evening-visit"); ok {
		t.Fatalf("template still stored")
	}
	if root.ClaimedCount(instance) != 0 {
		t.Fatalf("instance signups survived template deletion")
	}
}

func TestListMyTasks(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "emma@carecircle.demo")
	mine, err := env.app.ListMyTasks(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].Task.ID != "t-dinner" {
		t.Fatalf("unexpected tasks %+v", mine)
	}
}

func TestAvailableSlotsNeverNegative(t *testing.T) {
	root := domain.NewRoot()
	task := domain.Task{ID: "t", Slots: 1}
	root.Signups = []domain.TaskSignup{
		{TaskID: "t", Status: domain.SignupClaimed},
		{TaskID: "t", Status: domain.SignupClaimed},
	}
	if got := AvailableSlots(root, task); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestUnclaimRejectsTaskFromAnotherGroup(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	_, err := env.store.UpdateRoot(ctx, func(root *domain.Root) error {
		root.Groups["g2"] = domain.Group{ID: "g2", Name: "Book club", InviteCode: "CARE-0002"}
		root.Tasks = append(root.Tasks, domain.Task{
			ID: "t-other", GroupID: "g2", Title: "Library run", Category: domain.CategoryOther,
			TaskDate: today(), Slots: 1, CreatedBy: "u-sarah",
		})
		root.Signups = append(root.Signups, domain.TaskSignup{
			ID: "s-other", TaskID: "t-other", UserID: "u-emma", Status: domain.SignupClaimed, ClaimedAt: baseTime,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("add foreign task: %v", err)
	}
	env.loginAs(t, "emma@carecircle.demo")

	if _, err := env.app.UnclaimTask(ctx, "t-other"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if env.app.Root(ctx).ClaimedCount("t-other") != 1 {
		t.Fatalf("signup on another group's task must survive")
	}
}
