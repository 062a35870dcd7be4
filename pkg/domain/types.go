package domain

import "time"

type Avatar string

const (
	AvatarSunflower Avatar = "sunflower"
	AvatarButterfly Avatar = "butterfly"
	AvatarHeart     Avatar = "heart"
	AvatarStar      Avatar = "star"
	AvatarRainbow   Avatar = "rainbow"
	AvatarTree      Avatar = "tree"
	AvatarMoon      Avatar = "moon"
	AvatarSun       Avatar = "sun"
)

// Avatars lists the selectable avatar tags in display order.
var Avatars = []Avatar{
	AvatarSunflower, AvatarButterfly, AvatarHeart, AvatarStar,
	AvatarRainbow, AvatarTree, AvatarMoon, AvatarSun,
}

// Valid reports whether a is one of the known avatar tags.
func (a Avatar) Valid() bool {
	for _, known := range Avatars {
		if a == known {
			return true
		}
	}
	return false
}

type MemberRole string

const (
	RolePatient   MemberRole = "PATIENT"
	RoleCaregiver MemberRole = "CAREGIVER"

	// Legacy role strings still found in old documents.
	RoleLegacyWarrior MemberRole = "WARRIOR"
	RoleLegacyMember  MemberRole = "MEMBER"
	RoleLegacyAdmin   MemberRole = "ADMIN"
)

type MemberStatus string

const (
	MemberActive  MemberStatus = "ACTIVE"
	MemberPending MemberStatus = "PENDING"
	MemberRemoved MemberStatus = "REMOVED"
)

type TaskCategory string

const (
	CategoryMeal     TaskCategory = "meal"
	CategoryDelivery TaskCategory = "delivery"
	CategoryLaundry  TaskCategory = "laundry"
	CategoryRide     TaskCategory = "ride"
	CategoryVisit    TaskCategory = "visit"
	CategoryMeds     TaskCategory = "meds"
	CategoryOther    TaskCategory = "other"
)

// Valid reports whether c is a known task category.
func (c TaskCategory) Valid() bool {
	switch c {
	case CategoryMeal, CategoryDelivery, CategoryLaundry, CategoryRide,
		CategoryVisit, CategoryMeds, CategoryOther:
		return true
	}
	return false
}

const RecurringDaily = "daily"

type SignupStatus string

const SignupClaimed SignupStatus = "CLAIMED"

type Mood string

const (
	MoodGood Mood = "GOOD"
	MoodOkay Mood = "OKAY"
	MoodBad  Mood = "BAD"
)

// Valid reports whether m is a known mood.
func (m Mood) Valid() bool {
	return m == MoodGood || m == MoodOkay || m == MoodBad
}

const DonationRecorded = "recorded"

type ChatKind string

const (
	ChatText   ChatKind = "text"
	ChatSystem ChatKind = "system"
)

// SymptomAxes are the fixed rating dimensions of a symptom entry.
var SymptomAxes = []string{
	"fatigue", "nausea", "pain", "appetite", "sleep", "mood", "anxiety", "breathing",
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Avatar       Avatar    `json:"avatar,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	Relationship string    `json:"relationship,omitempty"`
	Location     string    `json:"location,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Group struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	InviteCode      string    `json:"inviteCode"`
	PatientName     string    `json:"patientName,omitempty"`
	CycleStartDate  string    `json:"cycleStartDate,omitempty"`
	CycleLengthDays int       `json:"cycleLengthDays,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type GroupMember struct {
	GroupID  string       `json:"groupId"`
	UserID   string       `json:"userId"`
	Role     MemberRole   `json:"role"`
	Status   MemberStatus `json:"status"`
	JoinedAt time.Time    `json:"joinedAt"`
}

type Task struct {
	ID            string       `json:"id"`
	GroupID       string       `json:"groupId"`
	Title         string       `json:"title"`
	Category      TaskCategory `json:"category"`
	TaskDate      string       `json:"taskDate"`
	StartTime     string       `json:"startTime,omitempty"`
	EndTime       string       `json:"endTime,omitempty"`
	Location      string       `json:"location,omitempty"`
	Details       string       `json:"details,omitempty"`
	Slots         int          `json:"slots"`
	CreatedBy     string       `json:"createdBy"`
	CreatedAt     time.Time    `json:"createdAt"`
	IsRecurring   bool         `json:"isRecurring,omitempty"`
	RecurringType string       `json:"recurringType,omitempty"`
}

// IsDailyTemplate reports whether t is projected onto every date.
func (t Task) IsDailyTemplate() bool {
	return t.IsRecurring && t.RecurringType == RecurringDaily
}

type TaskSignup struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"taskId"`
	UserID    string       `json:"userId"`
	Status    SignupStatus `json:"status"`
	ClaimedAt time.Time    `json:"claimedAt"`
}

type Update struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"groupId"`
	AuthorID  string    `json:"authorId"`
	Mood      Mood      `json:"mood"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Donation struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"groupId"`
	DonorID     string    `json:"donorId,omitempty"`
	DonorName   string    `json:"donorName"`
	DonorEmail  string    `json:"donorEmail"`
	AmountCents int       `json:"amountCents"`
	Message     string    `json:"message,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Invite struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"groupId"`
	Code      string    `json:"code"`
	Email     string    `json:"email,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

type SymptomEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	GroupID   string         `json:"groupId"`
	Date      string         `json:"date"`
	Ratings   map[string]int `json:"ratings"`
	Notes     string         `json:"notes,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"groupId"`
	UserID    string    `json:"userId,omitempty"`
	Text      string    `json:"text"`
	Kind      ChatKind  `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

type Mail struct {
	ID        string            `json:"id"`
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	HTML      string            `json:"html"`
	Text      string            `json:"text,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// SessionPointer is the in-document notion of "who is using the app".
type SessionPointer struct {
	UserID      string     `json:"userId,omitempty"`
	GroupID     string     `json:"groupId,omitempty"`
	LastAlertAt *time.Time `json:"lastAlertAt,omitempty"`
}

type Meta struct {
	Seeded     bool     `json:"seeded"`
	Version    string   `json:"version"`
	Migrations []string `json:"migrations"`
}

// HasMigration reports whether name was recorded as applied.
func (m Meta) HasMigration(name string) bool {
	for _, applied := range m.Migrations {
		if applied == name {
			return true
		}
	}
	return false
}

// RememberRecord is the long-lived login pointer kept outside Root.
type RememberRecord struct {
	UserID    string    `json:"userId"`
	GroupID   string    `json:"groupId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the record is no longer usable at now.
func (r RememberRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
