package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"carecircle/internal/util"
	"carecircle/pkg/domain"
	"carecircle/pkg/notify"
)

const (
	minRating       = 1
	maxRating       = 5
	maxChatText     = 2000
	maxCycleDays    = 120
	defaultMailList = 50
)

// SymptomInput is one day's ratings for the current user.
type SymptomInput struct {
	Date    string         `json:"date"`
	Ratings map[string]int `json:"ratings"`
	Notes   string         `json:"notes"`
}

func knownAxis(name string) bool {
	for _, axis := range domain.SymptomAxes {
		if axis == name {
			return true
		}
	}
	return false
}

// UpsertSymptoms records the current user's ratings for a date, replacing an
// earlier entry for the same user, group and date.
func (a *App) UpsertSymptoms(ctx context.Context, in SymptomInput) (domain.SymptomEntry, error) {
	date := in.Date
	if date == "" {
		date = a.today()
	}
	if !validDate(date) {
		return domain.SymptomEntry{}, ErrInvalidDate
	}
	ratings := make(map[string]int, len(in.Ratings))
	for axis, v := range in.Ratings {
		if !knownAxis(axis) {
			return domain.SymptomEntry{}, invalid("unknown symptom %q", axis)
		}
		if v < minRating || v > maxRating {
			return domain.SymptomEntry{}, ErrInvalidRating
		}
		ratings[axis] = v
	}
	notes := strings.TrimSpace(in.Notes)
	var entry domain.SymptomEntry
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		user, group, _, err := currentMember(root)
		if err != nil {
			return err
		}
		now := a.clock()
		for i, e := range root.Symptoms {
			if e.UserID == user.ID && e.GroupID == group.ID && e.Date == date {
				e.Ratings = ratings
				e.Notes = notes
				e.UpdatedAt = now
				root.Symptoms[i] = e
				entry = e
				return nil
			}
		}
		entry = domain.SymptomEntry{
			ID:        util.NewID(),
			UserID:    user.ID,
			GroupID:   group.ID,
			Date:      date,
			Ratings:   ratings,
			Notes:     notes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		root.Symptoms = append(root.Symptoms, entry)
		return nil
	})
	return entry, err
}

// ListSymptoms returns entries of the group ordered by date. An empty userID
// lists every member's entries.
func (a *App) ListSymptoms(ctx context.Context, groupID, userID string) ([]domain.SymptomEntry, error) {
	root := a.store.GetRoot(ctx)
	_, group, err := requireGroupAccess(&root, groupID)
	if err != nil {
		return nil, err
	}
	out := []domain.SymptomEntry{}
	for _, e := range root.Symptoms {
		if e.GroupID != group.ID || (userID != "" && e.UserID != userID) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// PostChatMessage appends a text message to the current group's chat.
func (a *App) PostChatMessage(ctx context.Context, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, invalid("text is required")
	}
	if len(text) > maxChatText {
		return domain.ChatMessage{}, invalid("text exceeds %d bytes", maxChatText)
	}
	var msg domain.ChatMessage
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		user, group, _, err := currentMember(root)
		if err != nil {
			return err
		}
		msg = domain.ChatMessage{
			ID:        util.NewID(),
			GroupID:   group.ID,
			UserID:    user.ID,
			Text:      text,
			Kind:      domain.ChatText,
			CreatedAt: a.clock(),
		}
		root.ChatMessages = append(root.ChatMessages, msg)
		return nil
	})
	return msg, err
}

// ListChatMessages returns the group's messages oldest first. A non-zero since
// keeps only messages created strictly after it.
func (a *App) ListChatMessages(ctx context.Context, groupID string, since time.Time) ([]domain.ChatMessage, error) {
	root := a.store.GetRoot(ctx)
	_, group, err := requireGroupAccess(&root, groupID)
	if err != nil {
		return nil, err
	}
	out := []domain.ChatMessage{}
	for _, m := range root.ChatMessages {
		if m.GroupID != group.ID {
			continue
		}
		if !since.IsZero() && !m.CreatedAt.After(since) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CycleStatus is the selected group's chemo cycle as seen on Date.
type CycleStatus struct {
	StartDate  string `json:"startDate"`
	LengthDays int    `json:"lengthDays"`
	Date       string `json:"date"`
	CycleDay   int    `json:"cycleDay"`
}

// GetCycle reports the cycle day for date, defaulting to today.
func (a *App) GetCycle(ctx context.Context, date string) (CycleStatus, error) {
	if date == "" {
		date = a.today()
	}
	if !validDate(date) {
		return CycleStatus{}, ErrInvalidDate
	}
	root := a.Root(ctx)
	_, group, _, err := currentMember(&root)
	if err != nil {
		return CycleStatus{}, err
	}
	return CycleStatus{
		StartDate:  group.CycleStartDate,
		LengthDays: group.CycleLengthDays,
		Date:       date,
		CycleDay:   CycleDay(group, date),
	}, nil
}

// CycleDay returns the 1-based day of the chemo cycle on date, or 0 when the
// group has no cycle or date precedes its start.
func CycleDay(group domain.Group, date string) int {
	if group.CycleStartDate == "" || group.CycleLengthDays <= 0 {
		return 0
	}
	start, err := time.Parse(dateLayout, group.CycleStartDate)
	if err != nil {
		return 0
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil || day.Before(start) {
		return 0
	}
	elapsed := int(day.Sub(start).Hours() / 24)
	return elapsed%group.CycleLengthDays + 1
}

// UpdateCycle sets the current group's chemo cycle. Only the patient may.
// A zero length clears the cycle.
func (a *App) UpdateCycle(ctx context.Context, startDate string, lengthDays int) (domain.Group, error) {
	if lengthDays < 0 || lengthDays > maxCycleDays {
		return domain.Group{}, invalid("cycle length must be between 0 and %d days", maxCycleDays)
	}
	if lengthDays > 0 && !validDate(startDate) {
		return domain.Group{}, ErrInvalidDate
	}
	var group domain.Group
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		_, g, member, err := currentMember(root)
		if err != nil {
			return err
		}
		if member.Role != domain.RolePatient {
			return ErrForbidden
		}
		if lengthDays == 0 {
			g.CycleStartDate, g.CycleLengthDays = "", 0
		} else {
			g.CycleStartDate, g.CycleLengthDays = startDate, lengthDays
		}
		root.Groups[g.ID] = g
		group = g
		return nil
	})
	return group, err
}

// CreateInvite records an invite bound to the current group's code and mails
// it to email.
func (a *App) CreateInvite(ctx context.Context, email string) (domain.Invite, error) {
	email = domain.NormalizeEmail(email)
	if !validEmail(email) {
		return domain.Invite{}, ErrInvalidEmail
	}
	var inv domain.Invite
	_, err := a.update(ctx, func(root *domain.Root, fx *effects) error {
		user, group, _, err := currentMember(root)
		if err != nil {
			return err
		}
		now := a.clock()
		inv = domain.Invite{
			ID:        util.NewID(),
			GroupID:   group.ID,
			Code:      group.InviteCode,
			Email:     email,
			CreatedBy: user.ID,
			CreatedAt: now,
		}
		root.Invites = append(root.Invites, inv)
		fx.mail(root, notify.Invite(inv, group, user, a.joinURL(inv.Code)), now)
		return nil
	})
	return inv, err
}

func (a *App) joinURL(code string) string {
	return a.baseURL + "/join?code=" + code
}

// ListMailbox returns up to limit mails, newest first.
func (a *App) ListMailbox(ctx context.Context, limit int) []domain.Mail {
	if limit <= 0 {
		limit = defaultMailList
	}
	root := a.store.GetRoot(ctx)
	out := make([]domain.Mail, 0, min(limit, len(root.Mailbox)))
	for i := len(root.Mailbox) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, root.Mailbox[i])
	}
	return out
}
