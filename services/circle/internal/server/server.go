package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carecircle/internal/ratelimit"
	"carecircle/internal/util"
	"carecircle/pkg/domain"
	"carecircle/services/circle/internal/app"
)

const (
	maxBodyBytes = 1 << 20

	msgAssistantUnavailable = "The assistant is not configured. Please try again later."
	msgAssistantFailed      = "Sorry, I'm having trouble responding right now. Please try again."
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// ChatbotLimiter is optional; nil disables rate limiting on /api/chatbot.
	ChatbotLimiter *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	CORSOrigin     string
}

// Server exposes the CareCircle HTTP API.
type Server struct {
	app            *app.App
	chatbotLimiter *ratelimit.FixedWindowLimiter
	trusted        *util.TrustedProxies
	corsOrigin     string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		chatbotLimiter: cfg.ChatbotLimiter,
		trusted:        cfg.TrustedProxies,
		corsOrigin:     cfg.CORSOrigin,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("circle",
		util.WithSecurityHeaders(util.WithCORS(s.corsOrigin, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// session
	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/session/login", s.handleLogin)
	s.mux.HandleFunc("/api/session/auto-login", s.handleAutoLogin)
	s.mux.HandleFunc("/api/session/logout", s.handleLogout)
	s.mux.HandleFunc("/api/session/group", s.handleSelectGroup)
	s.mux.HandleFunc("/api/register", s.handleRegister)
	s.mux.HandleFunc("/api/join", s.handleJoin)
	s.mux.HandleFunc("/api/profile", s.handleProfile)
	s.mux.HandleFunc("/api/groups/", s.handleGroupByID)
	s.mux.HandleFunc("/api/cycle", s.handleCycle)

	// tasks
	s.mux.HandleFunc("/api/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/tasks/mine", s.handleMyTasks)
	s.mux.HandleFunc("/api/tasks/", s.handleTaskByID)

	// circle activity
	s.mux.HandleFunc("/api/updates", s.handleUpdates)
	s.mux.HandleFunc("/api/symptoms", s.handleSymptoms)
	s.mux.HandleFunc("/api/chat/messages", s.handleChatMessages)
	s.mux.HandleFunc("/api/invites", s.handleInvites)
	s.mux.HandleFunc("/api/mailbox", s.handleMailbox)

	// simulated external services
	s.mux.HandleFunc("/api/donations", s.handleDonations)
	s.mux.HandleFunc("/api/create-payment-intent", s.handleCreatePaymentIntent)
	s.mux.HandleFunc("/api/confirm-donation", s.handleConfirmDonation)
	s.mux.HandleFunc("/api/send-email", s.handleSendEmail)
	s.mux.HandleFunc("/api/chatbot", s.handleChatbot)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session

type loginRequest struct {
	Email      string `json:"email"`
	RememberMe bool   `json:"rememberMe"`
}

type selectGroupRequest struct {
	GroupID    string `json:"groupId"`
	RememberMe bool   `json:"rememberMe"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.GetSession(r.Context()))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := s.app.Login(r.Context(), req.Email, req.RememberMe); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.app.GetSession(r.Context()))
}

func (s *Server) handleAutoLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	restored := s.app.AutoLogin(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"restored": restored,
		"session":  s.app.GetSession(r.Context()),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Logout(r.Context()); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleSelectGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req selectGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.app.SelectGroup(r.Context(), req.GroupID, req.RememberMe)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.app.RegisterPatient(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.JoinInput
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.JoinGroup(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req app.ProfileInput
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.app.UpdateProfile(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleGroupByID serves /api/groups/{id}/members[/{userId}]. PUT on a member
// adds or reactivates it, DELETE removes it.
func (s *Server) handleGroupByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/groups/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "members" || len(parts) > 3 {
		http.NotFound(w, r)
		return
	}
	groupID := parts[0]
	if len(parts) == 3 {
		if parts[2] == "" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodPut:
			var req memberRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := s.app.AddMemberToGroup(r.Context(), parts[2], groupID, req.Role); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
		case http.MethodDelete:
			if err := s.app.RemoveMemberFromGroup(r.Context(), parts[2], groupID); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
		default:
			methodNotAllowed(w)
		}
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	members, err := s.app.ListMembers(r.Context(), groupID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": members, "count": len(members)})
}

type memberRequest struct {
	Role domain.MemberRole `json:"role"`
}

type cycleRequest struct {
	StartDate  string `json:"startDate"`
	LengthDays int    `json:"lengthDays"`
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status, err := s.app.GetCycle(r.Context(), r.URL.Query().Get("date"))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodPut:
		var req cycleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		group, err := s.app.UpdateCycle(r.Context(), req.StartDate, req.LengthDays)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	default:
		methodNotAllowed(w)
	}
}

// tasks

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		groupID, date, to := q.Get("groupId"), q.Get("date"), q.Get("to")
		if to != "" {
			days, err := s.app.GetTasksForRange(r.Context(), groupID, date, to)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"days": days})
			return
		}
		tasks, err := s.app.GetTasksForDate(r.Context(), groupID, date)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": tasks, "count": len(tasks)})
	case http.MethodPost:
		var req app.TaskInput
		if !decodeJSON(w, r, &req) {
			return
		}
		task, err := s.app.CreateTask(r.Context(), req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMyTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	mine, err := s.app.ListMyTasks(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mine, "count": len(mine)})
}

// handleTaskByID serves /api/tasks/{id} and /api/tasks/{id}/claim.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "claim" {
			http.NotFound(w, r)
			return
		}
		s.handleClaim(w, r, id)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteTask(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, id string) {
	var (
		view app.TaskView
		err  error
	)
	switch r.Method {
	case http.MethodPost:
		view, err = s.app.ClaimTask(r.Context(), id)
	case http.MethodDelete:
		view, err = s.app.UnclaimTask(r.Context(), id)
	default:
		methodNotAllowed(w)
		return
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// circle activity

type updateRequest struct {
	Mood domain.Mood `json:"mood"`
	Text string      `json:"text"`
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		updates, err := s.app.ListUpdates(r.Context(), q.Get("groupId"), limit)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": updates, "count": len(updates)})
	case http.MethodPost:
		var req updateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		upd, err := s.app.PostUpdate(r.Context(), req.Mood, req.Text)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, upd)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSymptoms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		entries, err := s.app.ListSymptoms(r.Context(), q.Get("groupId"), q.Get("userId"))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
	case http.MethodPost:
		var req app.SymptomInput
		if !decodeJSON(w, r, &req) {
			return
		}
		entry, err := s.app.UpsertSymptoms(r.Context(), req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	default:
		methodNotAllowed(w)
	}
}

type chatMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		var since time.Time
		if raw := q.Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "since must be RFC3339")
				return
			}
			since = parsed
		}
		msgs, err := s.app.ListChatMessages(r.Context(), q.Get("groupId"), since)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": msgs, "count": len(msgs)})
	case http.MethodPost:
		var req chatMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		msg, err := s.app.PostChatMessage(r.Context(), req.Text)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

type inviteRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleInvites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := s.app.CreateInvite(r.Context(), req.Email)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleMailbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	mails := s.app.ListMailbox(r.Context(), limit)
	writeJSON(w, http.StatusOK, map[string]any{"items": mails, "count": len(mails)})
}

// simulated external services

type paymentIntentRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleDonations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	summary, err := s.app.ListDonations(r.Context(), r.URL.Query().Get("groupId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req paymentIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	intent, err := s.app.CreatePaymentIntent(r.Context(), req.Amount)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleConfirmDonation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.DonationInput
	if !decodeJSON(w, r, &req) {
		return
	}
	donation, err := s.app.ConfirmDonation(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"donationId": donation.ID,
		"donation":   donation,
	})
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.EmailInput
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.app.SendEmail(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": id})
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.chatbotLimiter, "too many chatbot requests") {
		return
	}
	var req app.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.app.Chat(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// helpers

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps application errors to HTTP statuses. ok is false for
// errors that are not domain preconditions.
func statusFor(err error) (status int, msg string, ok bool) {
	switch {
	case errors.Is(err, app.ErrAssistantUnavailable):
		return http.StatusServiceUnavailable, msgAssistantUnavailable, true
	case errors.Is(err, app.ErrAssistantFailed):
		return http.StatusBadGateway, msgAssistantFailed, true
	case errors.Is(err, app.ErrNotLoggedIn):
		return http.StatusUnauthorized, err.Error(), true
	case errors.Is(err, app.ErrNotMember), errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, err.Error(), true
	case errors.Is(err, app.ErrUserNotFound), errors.Is(err, app.ErrGroupNotFound),
		errors.Is(err, app.ErrTaskNotFound):
		return http.StatusNotFound, err.Error(), true
	case errors.Is(err, app.ErrNoGroupSelected), errors.Is(err, app.ErrTaskFull),
		errors.Is(err, app.ErrAlreadyClaimed), errors.Is(err, app.ErrNotClaimed):
		return http.StatusConflict, err.Error(), true
	case app.IsPrecondition(err):
		return http.StatusBadRequest, err.Error(), true
	}
	return http.StatusInternalServerError, "internal error", false
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, ok := statusFor(err)
	if !ok {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, msg)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
