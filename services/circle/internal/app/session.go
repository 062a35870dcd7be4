package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"carecircle/internal/util"
	"carecircle/pkg/domain"
	"carecircle/pkg/notify"
	"carecircle/pkg/store"
)

// Session is the resolved identity behind Root.session.
type Session struct {
	User  *domain.User      `json:"user"`
	Group *domain.Group     `json:"group"`
	Role  domain.MemberRole `json:"role,omitempty"`
}

// LoggedIn reports whether a user is resolved.
func (s Session) LoggedIn() bool { return s.User != nil }

// SessionFrom dereferences the session pointer against root. A user without a
// selected group yields a user-only session; any other broken link yields an
// empty one.
func SessionFrom(root domain.Root) Session {
	user, ok := root.Users[root.Session.UserID]
	if root.Session.UserID == "" || !ok {
		return Session{}
	}
	if root.Session.GroupID == "" {
		return Session{User: &user}
	}
	group, ok := root.Groups[root.Session.GroupID]
	if !ok {
		return Session{}
	}
	member, ok := root.ActiveMembership(group.ID, user.ID)
	if !ok {
		return Session{}
	}
	return Session{User: &user, Group: &group, Role: member.Role}
}

// GetSession returns the current session.
func (a *App) GetSession(ctx context.Context) Session {
	return SessionFrom(a.store.GetRoot(ctx))
}

func currentUser(root *domain.Root) (domain.User, error) {
	s := SessionFrom(*root)
	if s.User == nil {
		return domain.User{}, ErrNotLoggedIn
	}
	return *s.User, nil
}

// currentMember resolves the session user, group and membership.
func currentMember(root *domain.Root) (domain.User, domain.Group, domain.GroupMember, error) {
	s := SessionFrom(*root)
	if s.User == nil {
		if root.Session.UserID != "" && root.Session.GroupID != "" {
			if _, ok := root.Users[root.Session.UserID]; ok {
				return domain.User{}, domain.Group{}, domain.GroupMember{}, ErrNotMember
			}
		}
		return domain.User{}, domain.Group{}, domain.GroupMember{}, ErrNotLoggedIn
	}
	if s.Group == nil {
		return *s.User, domain.Group{}, domain.GroupMember{}, ErrNoGroupSelected
	}
	member, _ := root.ActiveMembership(s.Group.ID, s.User.ID)
	return *s.User, *s.Group, member, nil
}

// Login finds or creates the user for email and points the session at it.
// A new user gets a name derived from the email's local part.
func (a *App) Login(ctx context.Context, email string, rememberMe bool) (domain.User, error) {
	if !validEmail(email) {
		return domain.User{}, ErrInvalidEmail
	}
	var user domain.User
	root, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		user = a.findOrCreateUser(root, email, "")
		if root.Session.UserID != user.ID {
			root.Session.GroupID = ""
		}
		if _, ok := root.ActiveMembership(root.Session.GroupID, user.ID); !ok {
			root.Session.GroupID = ""
		}
		root.Session.UserID = user.ID
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	a.remember.Save(ctx, user.ID, root.Session.GroupID, rememberMe)
	logger(ctx).Info("user logged in", "user_id", user.ID)
	return user, nil
}

func (a *App) findOrCreateUser(root *domain.Root, email, name string) domain.User {
	if u, ok := root.FindUserByEmail(email); ok {
		if strings.TrimSpace(u.Name) == "" && strings.TrimSpace(name) != "" {
			u.Name = strings.TrimSpace(name)
			root.Users[u.ID] = u
		}
		return u
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(email)
	}
	u := domain.User{
		ID:        util.NewID(),
		Email:     strings.TrimSpace(email),
		Name:      name,
		CreatedAt: a.clock(),
	}
	root.Users[u.ID] = u
	return u
}

// DefaultName turns "mary-jane.smith@x" into "Mary Jane Smith".
func DefaultName(email string) string {
	local := strings.TrimSpace(email)
	if at := strings.Index(local, "@"); at >= 0 {
		local = local[:at]
	}
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return local
	}
	return strings.Join(words, " ")
}

// SelectGroup points the session at groupID; the user must be an ACTIVE member.
func (a *App) SelectGroup(ctx context.Context, groupID string, rememberMe bool) (Session, error) {
	root, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		user, err := currentUser(root)
		if err != nil {
			return err
		}
		if _, ok := root.ActiveMembership(groupID, user.ID); !ok {
			return ErrNotMember
		}
		root.Session.GroupID = groupID
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	a.remember.Save(ctx, root.Session.UserID, groupID, rememberMe)
	return SessionFrom(root), nil
}

// Logout clears the session pointer and the remember-me record. The bad-day
// cooldown survives.
func (a *App) Logout(ctx context.Context) error {
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		if root.Session.UserID == "" && root.Session.GroupID == "" {
			return store.ErrNoChange
		}
		root.Session.UserID = ""
		root.Session.GroupID = ""
		return nil
	})
	a.remember.Clear(ctx)
	return err
}

// AutoLogin restores the session from a valid remember-me record. Stale
// records are deleted.
func (a *App) AutoLogin(ctx context.Context) bool {
	rec, ok := a.remember.Load(ctx)
	if !ok || rec.GroupID == "" {
		a.remember.Clear(ctx)
		return false
	}
	restored := false
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		restored = false
		if _, ok := root.Users[rec.UserID]; !ok {
			return store.ErrNoChange
		}
		if _, ok := root.ActiveMembership(rec.GroupID, rec.UserID); !ok {
			return store.ErrNoChange
		}
		root.Session.UserID = rec.UserID
		root.Session.GroupID = rec.GroupID
		restored = true
		return nil
	})
	if err != nil {
		logger(ctx).Warn("auto login failed", "err", err)
		return false
	}
	if !restored {
		a.remember.Clear(ctx)
	}
	return restored
}

// upsertMember flips an existing row to ACTIVE with role, or inserts one.
func upsertMember(root *domain.Root, userID, groupID string, role domain.MemberRole, now func() time.Time) {
	if idx := root.MembershipIndex(groupID, userID); idx >= 0 {
		root.Members[idx].Role = role
		root.Members[idx].Status = domain.MemberActive
		return
	}
	root.Members = append(root.Members, domain.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		Status:   domain.MemberActive,
		JoinedAt: now(),
	})
}

// AddMemberToGroup upserts an ACTIVE membership; a REMOVED row is
// reactivated with the new role. Only the group's patient may add members.
func (a *App) AddMemberToGroup(ctx context.Context, userID, groupID string, role domain.MemberRole) error {
	if role != domain.RolePatient && role != domain.RoleCaregiver {
		return ErrInvalidRole
	}
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		actor, err := currentUser(root)
		if err != nil {
			return err
		}
		if m, ok := root.ActiveMembership(groupID, actor.ID); !ok || m.Role != domain.RolePatient {
			return ErrForbidden
		}
		if _, ok := root.Users[userID]; !ok {
			return ErrUserNotFound
		}
		if _, ok := root.Groups[groupID]; !ok {
			return ErrGroupNotFound
		}
		upsertMember(root, userID, groupID, role, a.clock)
		return nil
	})
	return err
}

// RemoveMemberFromGroup marks the membership REMOVED. Members may remove
// themselves; the group's patient may remove anyone.
func (a *App) RemoveMemberFromGroup(ctx context.Context, userID, groupID string) error {
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		actor, err := currentUser(root)
		if err != nil {
			return err
		}
		if actor.ID != userID {
			m, ok := root.ActiveMembership(groupID, actor.ID)
			if !ok || m.Role != domain.RolePatient {
				return ErrForbidden
			}
		}
		idx := root.MembershipIndex(groupID, userID)
		if idx < 0 {
			return ErrNotMember
		}
		if root.Members[idx].Status == domain.MemberRemoved {
			return store.ErrNoChange
		}
		root.Members[idx].Status = domain.MemberRemoved
		if actor.ID == userID && root.Session.GroupID == groupID {
			root.Session.GroupID = ""
		}
		return nil
	})
	return err
}

// RegisterInput describes a patient creating a new circle.
type RegisterInput struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	GroupName   string `json:"groupName"`
	Description string `json:"description"`
	PatientName string `json:"patientName"`
	RememberMe  bool   `json:"rememberMe"`
}

// RegisterPatient logs in, creates a group with a fresh invite code, makes the
// user its PATIENT and selects it.
func (a *App) RegisterPatient(ctx context.Context, in RegisterInput) (Session, error) {
	if !validEmail(in.Email) {
		return Session{}, ErrInvalidEmail
	}
	groupName := strings.TrimSpace(in.GroupName)
	if groupName == "" {
		return Session{}, invalid("groupName is required")
	}
	root, err := a.update(ctx, func(root *domain.Root, fx *effects) error {
		now := a.clock()
		user := a.findOrCreateUser(root, in.Email, in.Name)
		patientName := strings.TrimSpace(in.PatientName)
		if fields := strings.Fields(user.Name); patientName == "" && len(fields) > 0 {
			patientName = fields[0]
		}
		group := domain.Group{
			ID:          util.NewID(),
			Name:        groupName,
			Description: strings.TrimSpace(in.Description),
			InviteCode:  uniqueInviteCode(*root),
			PatientName: patientName,
			CreatedAt:   now,
		}
		root.Groups[group.ID] = group
		upsertMember(root, user.ID, group.ID, domain.RolePatient, a.clock)
		root.Session.UserID = user.ID
		root.Session.GroupID = group.ID
		root.ChatMessages = append(root.ChatMessages, domain.ChatMessage{
			ID: util.NewID(), GroupID: group.ID, Text: group.Name + " was created.",
			Kind: domain.ChatSystem, CreatedAt: now,
		})
		fx.mail(root, notify.Welcome(user, group), now)
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	a.remember.Save(ctx, root.Session.UserID, root.Session.GroupID, in.RememberMe)
	s := SessionFrom(root)
	logger(ctx).Info("circle registered", "group_id", root.Session.GroupID, "user_id", root.Session.UserID)
	return s, nil
}

func uniqueInviteCode(root domain.Root) string {
	for digits := 4; ; digits++ {
		for attempt := 0; attempt < 20; attempt++ {
			code := "CARE-" + util.RandomDigits(digits)
			if _, taken := root.FindGroupByInviteCode(code); !taken {
				return code
			}
		}
	}
}

// JoinInput carries the join form.
type JoinInput struct {
	Code       string `json:"code"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	RememberMe bool   `json:"rememberMe"`
}

// JoinResult tells the client where to go next.
type JoinResult struct {
	Session  Session `json:"session"`
	Redirect string  `json:"redirect"`
}

// resolveInviteCode checks the groups' own codes first, then stored invites.
func resolveInviteCode(root domain.Root, code string) (domain.Group, bool) {
	if g, ok := root.FindGroupByInviteCode(code); ok {
		return g, true
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, inv := range root.Invites {
		if strings.ToUpper(inv.Code) != code {
			continue
		}
		if g, ok := root.Groups[inv.GroupID]; ok {
			return g, true
		}
	}
	return domain.Group{}, false
}

// JoinGroup validates code, logs the user in, adds a CAREGIVER membership and
// selects the group. An existing ACTIVE membership keeps its role.
func (a *App) JoinGroup(ctx context.Context, in JoinInput) (JoinResult, error) {
	if strings.TrimSpace(in.Code) == "" {
		return JoinResult{}, ErrInvalidInviteCode
	}
	if !validEmail(in.Email) {
		return JoinResult{}, ErrInvalidEmail
	}
	root, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		group, ok := resolveInviteCode(*root, in.Code)
		if !ok {
			return ErrInvalidInviteCode
		}
		user := a.findOrCreateUser(root, in.Email, in.Name)
		if _, active := root.ActiveMembership(group.ID, user.ID); !active {
			upsertMember(root, user.ID, group.ID, domain.RoleCaregiver, a.clock)
			root.ChatMessages = append(root.ChatMessages, domain.ChatMessage{
				ID: util.NewID(), GroupID: group.ID, Text: user.Name + " joined the circle.",
				Kind: domain.ChatSystem, CreatedAt: a.clock(),
			})
		}
		root.Session.UserID = user.ID
		root.Session.GroupID = group.ID
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	a.remember.Save(ctx, root.Session.UserID, root.Session.GroupID, in.RememberMe)
	return JoinResult{Session: SessionFrom(root), Redirect: "/dashboard"}, nil
}

// ProfileInput holds optional profile edits; nil fields are left unchanged.
type ProfileInput struct {
	Name         *string `json:"name"`
	Avatar       *string `json:"avatar"`
	Phone        *string `json:"phone"`
	Bio          *string `json:"bio"`
	Relationship *string `json:"relationship"`
	Location     *string `json:"location"`
}

// UpdateProfile edits the current user.
func (a *App) UpdateProfile(ctx context.Context, in ProfileInput) (domain.User, error) {
	if in.Avatar != nil && *in.Avatar != "" && !domain.Avatar(*in.Avatar).Valid() {
		return domain.User{}, ErrInvalidAvatar
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return domain.User{}, invalid("name cannot be empty")
	}
	var user domain.User
	_, err := a.update(ctx, func(root *domain.Root, _ *effects) error {
		u, err := currentUser(root)
		if err != nil {
			return err
		}
		set := func(dst *string, src *string) {
			if src != nil {
				*dst = strings.TrimSpace(*src)
			}
		}
		set(&u.Name, in.Name)
		set(&u.Phone, in.Phone)
		set(&u.Bio, in.Bio)
		set(&u.Relationship, in.Relationship)
		set(&u.Location, in.Location)
		if in.Avatar != nil {
			u.Avatar = domain.Avatar(*in.Avatar)
		}
		root.Users[u.ID] = u
		user = u
		return nil
	})
	return user, err
}

// MemberView joins a membership row with its user.
type MemberView struct {
	User     domain.User         `json:"user"`
	Role     domain.MemberRole   `json:"role"`
	Status   domain.MemberStatus `json:"status"`
	JoinedAt time.Time          `json:"joinedAt"`
}

// ListMembers returns the ACTIVE members of groupID, patient first then by
// join time. The caller must be an active member.
func (a *App) ListMembers(ctx context.Context, groupID string) ([]MemberView, error) {
	root := a.store.GetRoot(ctx)
	user, err := currentUser(&root)
	if err != nil {
		return nil, err
	}
	if _, ok := root.Groups[groupID]; !ok {
		return nil, ErrGroupNotFound
	}
	if _, ok := root.ActiveMembership(groupID, user.ID); !ok {
		return nil, ErrNotMember
	}
	var out []MemberView
	for _, m := range root.Members {
		if m.GroupID != groupID || m.Status != domain.MemberActive {
			continue
		}
		u, ok := root.Users[m.UserID]
		if !ok {
			continue
		}
		out = append(out, MemberView{User: u, Role: m.Role, Status: m.Status, JoinedAt: m.JoinedAt})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if (out[i].Role == domain.RolePatient) != (out[j].Role == domain.RolePatient) {
			return out[i].Role == domain.RolePatient
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func requireGroupAccess(root *domain.Root, groupID string) (domain.User, domain.Group, error) {
	user, group, _, err := currentMember(root)
	if err != nil {
		return domain.User{}, domain.Group{}, err
	}
	if groupID != "" && groupID != group.ID {
		if _, ok := root.ActiveMembership(groupID, user.ID); !ok {
			return domain.User{}, domain.Group{}, ErrNotMember
		}
		g, ok := root.Groups[groupID]
		if !ok {
			return domain.User{}, domain.Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}
		group = g
	}
	return user, group, nil
}
