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

// AlertCooldown is the minimum gap between two bad-day alerts.
const AlertCooldown = 12 * time.Hour

const maxUpdateText = 2000

// PostUpdate records a mood update for the current group. A BAD mood alerts
// every other active member unless an alert went out within AlertCooldown.
func (a *App) PostUpdate(ctx context.Context, mood domain.Mood, text string) (domain.Update, error) {
	if !mood.Valid() {
		return domain.Update{}, ErrInvalidMood
	}
	text = strings.TrimSpace(text)
	if len(text) > maxUpdateText {
		return domain.Update{}, invalid("text exceeds %d bytes", maxUpdateText)
	}
	var upd domain.Update
	alerted := false
	_, err := a.update(ctx, func(root *domain.Root, fx *effects) error {
		alerted = false
		user, group, _, err := currentMember(root)
		if err != nil {
			return err
		}
		now := a.clock()
		upd = domain.Update{
			ID:        util.NewID(),
			GroupID:   group.ID,
			AuthorID:  user.ID,
			Mood:      mood,
			Text:      text,
			CreatedAt: now,
		}
		root.Updates = append(root.Updates, upd)
		if mood != domain.MoodBad || coolingDown(root.Session.LastAlertAt, now) {
			return nil
		}
		to := alertRecipients(*root, group.ID, user.ID)
		if len(to) == 0 {
			return nil
		}
		fx.mail(root, notify.BadDayAlert(to, user, group, text), now)
		root.Session.LastAlertAt = &now
		alerted = true
		return nil
	})
	if err != nil {
		return domain.Update{}, err
	}
	if alerted {
		logger(ctx).Info("bad day alert sent", "group_id", upd.GroupID, "user_id", upd.AuthorID)
	}
	return upd, nil
}

func coolingDown(last *time.Time, now time.Time) bool {
	return last != nil && now.Sub(*last) < AlertCooldown
}

// alertRecipients lists the emails of active members other than the author.
func alertRecipients(root domain.Root, groupID, authorID string) []string {
	var to []string
	for _, m := range root.Members {
		if m.GroupID != groupID || m.UserID == authorID || m.Status != domain.MemberActive {
			continue
		}
		if u, ok := root.Users[m.UserID]; ok && u.Email != "" {
			to = append(to, u.Email)
		}
	}
	sort.Strings(to)
	return to
}

// ListUpdates returns up to limit updates of the group, newest first.
// limit <= 0 returns all of them.
func (a *App) ListUpdates(ctx context.Context, groupID string, limit int) ([]domain.Update, error) {
	root := a.store.GetRoot(ctx)
	_, group, err := requireGroupAccess(&root, groupID)
	if err != nil {
		return nil, err
	}
	out := []domain.Update{}
	for _, u := range root.Updates {
		if u.GroupID == group.ID {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
