package app

import "errors"

var (
	ErrNotLoggedIn       = errors.New("not logged in")
	ErrNoGroupSelected   = errors.New("no group selected")
	ErrNotMember         = errors.New("not a member of this group")
	ErrForbidden         = errors.New("not allowed")
	ErrUserNotFound      = errors.New("user not found")
	ErrGroupNotFound     = errors.New("group not found")
	ErrInvalidInviteCode = errors.New("invalid invite code")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidAvatar     = errors.New("invalid avatar")
	ErrInvalidDate       = errors.New("invalid date")

	// ErrTaskNotFound indicates neither a stored task nor a recurring instance matched.
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskFull       = errors.New("task is full")
	ErrAlreadyClaimed = errors.New("task already claimed by you")
	ErrNotClaimed     = errors.New("task not claimed by you")

	ErrInvalidMood   = errors.New("invalid mood")
	ErrInvalidAmount = errors.New("amount must be between 100 and 1000000 cents")
	ErrInvalidRating = errors.New("symptom ratings must be between 1 and 5")

	ErrAssistantUnavailable = errors.New("assistant unavailable")
	ErrAssistantFailed      = errors.New("assistant request failed")
)
