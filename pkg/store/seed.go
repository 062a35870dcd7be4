package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"carecircle/pkg/domain"
	"carecircle/pkg/notify"
)

const dateLayout = "2006-01-02"

// Demo fixture identifiers.
const (
	DemoGroupID    = "g-demo"
	DemoInviteCode = "CARE-1234"
	DemoPatientID  = "u-sarah"
)

type demoUser struct {
	id, email, name, relationship string
	avatar                        domain.Avatar
	role                          domain.MemberRole
}

var demoUsers = []demoUser{
	{DemoPatientID, "sarah@carecircle.demo", "Sarah Johnson", "Patient", domain.AvatarSunflower, domain.RolePatient},
	{"u-mike", "mike@carecircle.demo", "Mike Johnson", "Husband", domain.AvatarButterfly, domain.RoleCaregiver},
	{"u-emma", "emma@carecircle.demo", "Emma Davis", "Best friend", domain.AvatarHeart, domain.RoleCaregiver},
	{"u-david", "david@carecircle.demo", "David Chen", "Neighbor", domain.AvatarStar, domain.RoleCaregiver},
}

// SeedIfEmpty replaces the document with the demo fixture unless it is already
// seeded at CurrentVersion. It reports whether the fixture was written.
func (s *RootStore) SeedIfEmpty(ctx context.Context) (bool, error) {
	current := s.GetRoot(ctx)
	if isSeeded(current) {
		return false, nil
	}
	if !current.IsEmpty() {
		s.archive(ctx, current.Meta.Version)
	}

	seeded := false
	_, err := s.UpdateRoot(ctx, func(root *domain.Root) error {
		seeded = false
		if isSeeded(*root) {
			return ErrNoChange
		}
		*root = Fixture(s.now())
		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("seed root: %w", err)
	}
	if seeded {
		slog.Info("root seeded", "version", CurrentVersion)
	}
	return seeded, nil
}

// Reset archives the current document and writes a fresh fixture. It returns
// the snapshot key, empty when archiving is disabled.
func (s *RootStore) Reset(ctx context.Context) (string, error) {
	key := s.archive(ctx, s.GetRoot(ctx).Meta.Version)
	if err := s.SetRoot(ctx, Fixture(s.now())); err != nil {
		return key, fmt.Errorf("reset root: %w", err)
	}
	return key, nil
}

func (s *RootStore) archive(ctx context.Context, version string) string {
	if s.archiver == nil {
		return ""
	}
	raw, ok, err := s.RawRoot(ctx)
	if err != nil || !ok {
		return ""
	}
	key, err := s.archiver.Snapshot(ctx, version, raw)
	if err != nil {
		slog.Warn("root snapshot failed", "err", err)
		return ""
	}
	slog.Info("root snapshot stored", "key", key)
	return key
}

func isSeeded(root domain.Root) bool {
	return root.Meta.Seeded && root.Meta.Version == CurrentVersion
}

// Fixture builds the demo document. Timestamps and dates derive from now only,
// so equal clocks produce byte-identical documents.
func Fixture(now time.Time) domain.Root {
	now = now.UTC().Truncate(time.Second)
	day := func(offset int) string { return now.AddDate(0, 0, offset).Format(dateLayout) }
	at := func(d time.Duration) time.Time { return now.Add(-d) }

	root := domain.NewRoot()
	for i, u := range demoUsers {
		root.Users[u.id] = domain.User{
			ID:           u.id,
			Email:        u.email,
			Name:         u.name,
			Avatar:       u.avatar,
			Relationship: u.relationship,
			CreatedAt:    at(time.Duration(30-i) * 24 * time.Hour),
		}
		root.Members = append(root.Members, domain.GroupMember{
			GroupID:  DemoGroupID,
			UserID:   u.id,
			Role:     u.role,
			Status:   domain.MemberActive,
			JoinedAt: at(time.Duration(30-i) * 24 * time.Hour),
		})
	}
	group := domain.Group{
		ID:              DemoGroupID,
		Name:            "Sarah's Care Circle",
		Description:     "Helping Sarah through treatment, one day at a time.",
		InviteCode:      DemoInviteCode,
		PatientName:     "Sarah",
		CycleStartDate:  day(-4),
		CycleLengthDays: 21,
		CreatedAt:       at(30 * 24 * time.Hour),
	}
	root.Groups[group.ID] = group

	root.Tasks = []domain.Task{
		{ID: "t-dinner", GroupID: DemoGroupID, Title: "Bring dinner", Category: domain.CategoryMeal,
			TaskDate: day(0), StartTime: "17:30", EndTime: "18:30", Details: "No spicy food please.",
			Slots: 2, CreatedBy: DemoPatientID, CreatedAt: at(48 * time.Hour)},
		{ID: "t-chemo-ride", GroupID: DemoGroupID, Title: "Ride to chemo", Category: domain.CategoryRide,
			TaskDate: day(1), StartTime: "09:00", EndTime: "13:00", Location: "City Cancer Center",
			Slots: 1, CreatedBy: "u-mike", CreatedAt: at(36 * time.Hour)},
		{ID: "t-laundry", GroupID: DemoGroupID, Title: "Laundry pickup", Category: domain.CategoryLaundry,
			TaskDate: day(2), StartTime: "11:00", Slots: 1, CreatedBy: DemoPatientID, CreatedAt: at(24 * time.Hour)},
	}
	root.Tasks = append(root.Tasks, recurringTemplates(DemoGroupID, DemoPatientID, at(72*time.Hour))[:2]...)

	root.Signups = []domain.TaskSignup{
		{ID: "s-dinner-emma", TaskID: "t-dinner", UserID: "u-emma", Status: domain.SignupClaimed, ClaimedAt: at(20 * time.Hour)},
	}
	root.Updates = []domain.Update{
		{ID: "up-1", GroupID: DemoGroupID, AuthorID: DemoPatientID, Mood: domain.MoodOkay,
			Text: "Tired after yesterday's infusion but managing.", CreatedAt: at(26 * time.Hour)},
		{ID: "up-2", GroupID: DemoGroupID, AuthorID: DemoPatientID, Mood: domain.MoodGood,
			Text: "Slept well and went for a short walk!", CreatedAt: at(2 * time.Hour)},
	}
	root.Donations = []domain.Donation{
		{ID: "d-1", GroupID: DemoGroupID, DonorID: "u-david", DonorName: "David Chen",
			DonorEmail: "david@carecircle.demo", AmountCents: 5000, Message: "For groceries this week.",
			Status: domain.DonationRecorded, CreatedAt: at(50 * time.Hour)},
	}
	root.Invites = []domain.Invite{
		{ID: "inv-1", GroupID: DemoGroupID, Code: DemoInviteCode, Email: "aunt.linda@example.com",
			CreatedBy: DemoPatientID, CreatedAt: at(10 * 24 * time.Hour)},
	}
	root.Symptoms = []domain.SymptomEntry{
		symptomEntry("sym-1", day(-1), at(28*time.Hour), [8]int{4, 3, 2, 2, 3, 3, 2, 1}, "Nausea in the evening."),
		symptomEntry("sym-2", day(0), at(3*time.Hour), [8]int{3, 2, 2, 3, 4, 4, 2, 1}, ""),
	}
	root.ChatMessages = []domain.ChatMessage{
		{ID: "c-1", GroupID: DemoGroupID, Text: "Sarah's Care Circle was created.", Kind: domain.ChatSystem, CreatedAt: at(30 * 24 * time.Hour)},
		{ID: "c-2", GroupID: DemoGroupID, UserID: "u-mike", Text: "Thanks everyone for signing up this week.", Kind: domain.ChatText, CreatedAt: at(5 * time.Hour)},
		{ID: "c-3", GroupID: DemoGroupID, UserID: "u-emma", Text: "Happy to help! Dinner is covered tonight.", Kind: domain.ChatText, CreatedAt: at(4 * time.Hour)},
	}

	welcome := notify.Welcome(root.Users[DemoPatientID], group)
	welcome.ID = "mail-welcome"
	welcome.CreatedAt = at(30 * 24 * time.Hour)
	root.Mailbox = []domain.Mail{welcome}

	root.Meta = domain.Meta{Seeded: true, Version: CurrentVersion, Migrations: fixtureMigrations()}
	return root
}

func symptomEntry(id, date string, ts time.Time, ratings [8]int, notes string) domain.SymptomEntry {
	m := make(map[string]int, len(domain.SymptomAxes))
	for i, axis := range domain.SymptomAxes {
		m[axis] = ratings[i]
	}
	return domain.SymptomEntry{
		ID: id, UserID: DemoPatientID, GroupID: DemoGroupID, Date: date,
		Ratings: m, Notes: notes, CreatedAt: ts, UpdatedAt: ts,
	}
}

// EncodeRoot is the canonical serialization used for byte comparisons.
func EncodeRoot(root domain.Root) ([]byte, error) {
	root.Normalize()
	return json.Marshal(root)
}
