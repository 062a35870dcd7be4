package app

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"carecircle/internal/util"
	"carecircle/pkg/domain"
	"carecircle/pkg/notify"
)

// maxRangeDays bounds GetTasksForRange.
const maxRangeDays = 62

var clockTime = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// RecurringInstanceID derives the id of a daily template's occurrence on date.
// Render and claim paths both go through it, so they always agree.
func RecurringInstanceID(templateID, date string) string {
	return templateID + "-" + date
}

// splitInstanceID reverses RecurringInstanceID for a known template id.
func splitInstanceID(id, templateID string) (string, bool) {
	prefix := templateID + "-"
	if !strings.HasPrefix(id, prefix) {
		return "", false
	}
	date := id[len(prefix):]
	return date, validDate(date)
}

func projectTemplate(t domain.Task, date string) domain.Task {
	t.ID = RecurringInstanceID(t.ID, date)
	t.TaskDate = date
	return t
}

// TasksForDate returns the one-time tasks on date plus one projected instance
// of every daily template of the group, ordered by start time then title.
func TasksForDate(root domain.Root, groupID, date string) []domain.Task {
	seen := make(map[string]bool)
	var out []domain.Task
	for _, t := range root.Tasks {
		if t.GroupID != groupID {
			continue
		}
		var candidate domain.Task
		switch {
		case t.IsDailyTemplate():
			candidate = projectTemplate(t, date)
		case !t.IsRecurring && t.TaskDate == date:
			candidate = t
		default:
			continue
		}
		if seen[candidate.ID] {
			continue
		}
		seen[candidate.ID] = true
		out = append(out, candidate)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			// untimed tasks go last
			if out[i].StartTime == "" || out[j].StartTime == "" {
				return out[j].StartTime == ""
			}
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// resolveTask finds a claimable task by id: a stored one-time task, or a
// projected instance of a daily template. Raw template ids do not resolve.
func resolveTask(root domain.Root, id string) (domain.Task, bool) {
	for _, t := range root.Tasks {
		if t.ID == id {
			if t.IsRecurring {
				return domain.Task{}, false
			}
			return t, true
		}
	}
	for _, t := range root.Tasks {
		if !t.IsDailyTemplate() {
			continue
		}
		if date, ok := splitInstanceID(id, t.ID); ok {
			return projectTemplate(t, date), true
		}
	}
	return domain.Task{}, false
}

// AvailableSlots is slots minus CLAIMED signups, never below zero.
func AvailableSlots(root domain.Root, task domain.Task) int {
	return max(0, task.Slots-root.ClaimedCount(task.ID))
}

// TaskView is a task with its derived availability for the current user.
type TaskView struct {
	domain.Task
	Available   int      `json:"available"`
	HelperIDs   []string `json:"helperIds"`
	ClaimedByMe bool     `json:"claimedByMe"`
}

func viewTask(root domain.Root, t domain.Task, userID string) TaskView {
	v := TaskView{Task: t, Available: AvailableSlots(root, t), HelperIDs: []string{}}
	for _, s := range root.Signups {
		if s.TaskID != t.ID || s.Status != domain.SignupClaimed {
			continue
		}
		v.HelperIDs = append(v.HelperIDs, s.UserID)
		if s.UserID == userID {
			v.ClaimedByMe = true
		}
	}
	return v
}

// GetTasksForDate lists the group's tasks on date with availability.
func (a *App) GetTasksForDate(ctx context.Context, groupID, date string) ([]TaskView, error) {
	if !validDate(date) {
		return nil, ErrInvalidDate
	}
	root := a.store.GetRoot(ctx)
	user, group, err := requireGroupAccess(&root, groupID)
	if err != nil {
		return nil, err
	}
	tasks := TasksForDate(root, group.ID, date)
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, viewTask(root, t, user.ID))
	}
	return out, nil
}

// DayTasks groups a calendar day's tasks.
type DayTasks struct {
	Date  string     `json:"date"`
	Tasks []TaskView `json:"tasks"`
}

// GetTasksForRange projects every day in [from, to].
func (a *App) GetTasksForRange(ctx context.Context, groupID, from, to string) ([]DayTasks, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, ErrInvalidDate
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil || end.Before(start) {
		return nil, ErrInvalidDate
	}
	if end.Sub(start) > maxRangeDays*24*time.Hour {
		return nil, invalid("date range exceeds %d days", maxRangeDays)
	}
	root := a.store.GetRoot(ctx)
	user, group, err := requireGroupAccess(&root, groupID)
	if err != nil {
		return nil, err
	}
	var days []DayTasks
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		day := DayTasks{Date: date, Tasks: []TaskView{}}
		for _, t := range TasksForDate(root, group.ID, date) {
			day.Tasks = append(day.Tasks, viewTask(root, t, user.ID))
		}
		days = append(days, day)
	}
	return days, nil
}

// TaskInput is the create-task form.
type TaskInput struct {
	Title       string              `json:"title"`
	Category    domain.TaskCategory `json:"category"`
	TaskDate    string              `json:"taskDate"`
	StartTime   string              `json:"startTime"`
	EndTime     string              `json:"endTime"`
	Location    string              `json:"location"`
	Details     string              `json:"details"`
	Slots       int                 `json:"slots"`
	IsRecurring bool                `json:"isRecurring"`
}

func (in TaskInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return invalid("title is required")
	case !in.Category.Valid():
		return invalid("unknown category %q", in.Category)
	case !validDate(in.TaskDate):
		return ErrInvalidDate
	case in.Slots < 1:
		return invalid("slots must be at least 1")
	case in.StartTime != "" && !clockTime.MatchString(in.StartTime):
		return invalid("startTime must be HH:MM")
	case in.EndTime != "" && !clockTime.MatchString(in.EndTime):
		return invalid("endTime must be HH:MM")
	case in.StartTime != "" && in.EndTime != "" && in.EndTime < in.StartTime:
		return invalid("endTime is before startTime")
	}
	return nil
}

// CreateTask adds a task to the current group.
func (a *App) CreateTask(ctx context.Context, in TaskInput) (domain.Task, error) {
	if err := in.validate(); err != nil {
		return domain.Task{}, err
	}
	var task domain.Task
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		user, group, _, err := currentMember(root)
		if err != nil {
			return err
		}
		task = domain.Task{
			ID:        util.NewID(),
			GroupID:   group.ID,
			Title:     strings.TrimSpace(in.Title),
			Category:  in.Category,
			TaskDate:  in.TaskDate,
			StartTime: in.StartTime,
			EndTime:   in.EndTime,
			Location:  strings.TrimSpace(in.Location),
			Details:   strings.TrimSpace(in.Details),
			Slots:     in.Slots,
			CreatedBy: user.ID,
			CreatedAt: a.clock(),
		}
		if in.IsRecurring {
			task.IsRecurring = true
			task.RecurringType = domain.RecurringDaily
		}
		root.Tasks = append(root.Tasks, task)
		return nil
	})
	return task, err
}

// DeleteTask removes a stored task and every signup against it, including
// signups on a template's projected instances. Only the creator or the
// group's patient may delete.
func (a *App) DeleteTask(ctx context.Context, taskID string) error {
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		user, group, member, err := currentMember(root)
		if err != nil {
			return err
		}
		idx := -1
		for i, t := range root.Tasks {
			if t.ID == taskID && t.GroupID == group.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrTaskNotFound
		}
		task := root.Tasks[idx]
		if task.CreatedBy != user.ID && member.Role != domain.RolePatient {
			return ErrForbidden
		}
		root.Tasks = append(root.Tasks[:idx], root.Tasks[idx+1:]...)
		kept := root.Signups[:0]
		for _, s := range root.Signups {
			if s.TaskID == task.ID {
				continue
			}
			if task.IsRecurring {
				if _, ok := splitInstanceID(s.TaskID, task.ID); ok {
					continue
				}
			}
			kept = append(kept, s)
		}
		root.Signups = kept
		return nil
	})
	return err
}

// ClaimTask signs the current user up for taskID. The capacity check and the
// append happen in the same Root update, so concurrent claims cannot overfill.
func (a *App) ClaimTask(ctx context.Context, taskID string) (TaskView, error) {
	var view TaskView
	_, err := a.update(ctx, func(root *domain.Root, fx *effects) error {
		user, group, _, err := currentMember(root)
		if err != nil {
			return err
		}
		task, ok := resolveTask(*root, taskID)
		if !ok || task.GroupID != group.ID {
			return ErrTaskNotFound
		}
		for _, s := range root.Signups {
			if s.TaskID == task.ID && s.UserID == user.ID && s.Status == domain.SignupClaimed {
				return ErrAlreadyClaimed
			}
		}
		if root.ClaimedCount(task.ID) >= task.Slots {
			return ErrTaskFull
		}
		now := a.clock()
		root.Signups = append(root.Signups, domain.TaskSignup{
			ID:        util.NewID(),
			TaskID:    task.ID,
			UserID:    user.ID,
			Status:    domain.SignupClaimed,
			ClaimedAt: now,
		})
		fx.mail(root, notify.TaskClaimed(ownerEmail(*root, task, user), user, task, group), now)
		view = viewTask(*root, task, user.ID)
		return nil
	})
	return view, err
}

// UnclaimTask removes the current user's signup for taskID.
func (a *App) UnclaimTask(ctx context.Context, taskID string) (TaskView, error) {
	var view TaskView
	_, err := a.update(ctx, func(root *domain.Root, fx *effects) error {
		user, group, _, err := currentMember(root)
		if err != nil {
			return err
		}
		task, ok := resolveTask(*root, taskID)
		if ok && task.GroupID != group.ID {
			return ErrTaskNotFound
		}
		idx := -1
		for i, s := range root.Signups {
			if s.TaskID == taskID && s.UserID == user.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNotClaimed
		}
		root.Signups = append(root.Signups[:idx], root.Signups[idx+1:]...)
		if !ok {
			view = TaskView{Task: domain.Task{ID: taskID}, HelperIDs: []string{}}
			return nil
		}
		fx.mail(root, notify.TaskUnclaimed(ownerEmail(*root, task, user), user, task, group), a.clock())
		view = viewTask(*root, task, user.ID)
		return nil
	})
	return view, err
}

// ownerEmail addresses task notifications to the task's creator, falling back
// to the acting user when the creator is gone.
func ownerEmail(root domain.Root, task domain.Task, actor domain.User) string {
	if owner, ok := root.Users[task.CreatedBy]; ok && owner.Email != "" {
		return owner.Email
	}
	return actor.Email
}

// MyTask is one of the current user's signups with its task.
type MyTask struct {
	Signup domain.TaskSignup `json:"signup"`
	Task   domain.Task       `json:"task"`
}

// ListMyTasks returns the current user's signups in the current group,
// soonest first.
func (a *App) ListMyTasks(ctx context.Context) ([]MyTask, error) {
	root := a.store.GetRoot(ctx)
	user, group, _, err := currentMember(&root)
	if err != nil {
		return nil, err
	}
	out := []MyTask{}
	for _, s := range root.Signups {
		if s.UserID != user.ID || s.Status != domain.SignupClaimed {
			continue
		}
		task, ok := resolveTask(root, s.TaskID)
		if !ok || task.GroupID != group.ID {
			continue
		}
		out = append(out, MyTask{Signup: s, Task: task})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Task.TaskDate != out[j].Task.TaskDate {
			return out[i].Task.TaskDate < out[j].Task.TaskDate
		}
		return out[i].Task.StartTime < out[j].Task.StartTime
	})
	return out, nil
}
