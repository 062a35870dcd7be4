package domain

import "strings"

// Root is the single aggregate document holding every entity of the app.
type Root struct {
	Users        map[string]User  `json:"users"`
	Groups       map[string]Group `json:"groups"`
	Members      []GroupMember    `json:"members"`
	Tasks        []Task           `json:"tasks"`
	Signups      []TaskSignup     `json:"signups"`
	Updates      []Update         `json:"updates"`
	Donations    []Donation       `json:"donations"`
	Invites      []Invite         `json:"invites"`
	Symptoms     []SymptomEntry   `json:"symptoms"`
	ChatMessages []ChatMessage    `json:"chatMessages"`
	Mailbox      []Mail           `json:"mailbox"`
	Session      SessionPointer   `json:"session"`
	Meta         Meta             `json:"meta"`
}

// NewRoot returns an empty, fully shaped document.
func NewRoot() Root {
	var r Root
	r.Normalize()
	return r
}

// Normalize defaults every missing collection so partially migrated documents
// are safe to range over and serialize as {} / [] rather than null.
func (r *Root) Normalize() {
	if r.Users == nil {
		r.Users = map[string]User{}
	}
	if r.Groups == nil {
		r.Groups = map[string]Group{}
	}
	if r.Members == nil {
		r.Members = []GroupMember{}
	}
	if r.Tasks == nil {
		r.Tasks = []Task{}
	}
	if r.Signups == nil {
		r.Signups = []TaskSignup{}
	}
	if r.Updates == nil {
		r.Updates = []Update{}
	}
	if r.Donations == nil {
		r.Donations = []Donation{}
	}
	if r.Invites == nil {
		r.Invites = []Invite{}
	}
	if r.Symptoms == nil {
		r.Symptoms = []SymptomEntry{}
	}
	if r.ChatMessages == nil {
		r.ChatMessages = []ChatMessage{}
	}
	if r.Mailbox == nil {
		r.Mailbox = []Mail{}
	}
	if r.Meta.Migrations == nil {
		r.Meta.Migrations = []string{}
	}
}

// IsEmpty reports whether the document holds no user data.
func (r Root) IsEmpty() bool {
	return len(r.Users) == 0 && len(r.Groups) == 0 && len(r.Tasks) == 0 &&
		len(r.Members) == 0 && len(r.Mailbox) == 0
}

// NormalizeEmail is the comparison form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindUserByEmail looks a user up by case-insensitive email.
func (r Root) FindUserByEmail(email string) (User, bool) {
	needle := NormalizeEmail(email)
	if needle == "" {
		return User{}, false
	}
	for _, u := range r.Users {
		if NormalizeEmail(u.Email) == needle {
			return u, true
		}
	}
	return User{}, false
}

// FindGroupByInviteCode returns the group whose own invite code matches.
func (r Root) FindGroupByInviteCode(code string) (Group, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Group{}, false
	}
	for _, g := range r.Groups {
		if strings.ToUpper(g.InviteCode) == code {
			return g, true
		}
	}
	return Group{}, false
}

// MembershipIndex returns the position of the (groupID, userID) row, or -1.
func (r Root) MembershipIndex(groupID, userID string) int {
	for i, m := range r.Members {
		if m.GroupID == groupID && m.UserID == userID {
			return i
		}
	}
	return -1
}

// ActiveMembership returns the ACTIVE row for (groupID, userID).
func (r Root) ActiveMembership(groupID, userID string) (GroupMember, bool) {
	idx := r.MembershipIndex(groupID, userID)
	if idx < 0 || r.Members[idx].Status != MemberActive {
		return GroupMember{}, false
	}
	return r.Members[idx], true
}

// FindTask returns the stored task with the given id.
func (r Root) FindTask(id string) (Task, bool) {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// ClaimedCount counts CLAIMED signups against taskID.
func (r Root) ClaimedCount(taskID string) int {
	n := 0
	for _, s := range r.Signups {
		if s.TaskID == taskID && s.Status == SignupClaimed {
			n++
		}
	}
	return n
}
