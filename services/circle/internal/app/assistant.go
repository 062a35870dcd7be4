package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"carecircle/pkg/ai"
)

const (
	maxHistoryTurns  = 10
	maxQuickActions  = 5
	maxFeatures      = 3
	maxChatbotPrompt = 4000
)

// Feature is one entry of the assistant's product catalog.
type Feature struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Path        string   `json:"path"`
	Keywords    []string `json:"-"`
}

// QuickAction is a navigation shortcut suggested next to a reply.
type QuickAction struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Features is the static catalog the assistant describes and links to.
var Features = []Feature{
	{
		Name:        "Dashboard",
		Description: "See today's mood update, open tasks and recent activity for your circle.",
		Path:        "/dashboard",
		Keywords:    []string{"dashboard", "home", "overview", "today"},
	},
	{
		Name:        "Mood updates",
		Description: "Share how you feel as good, okay or bad. A bad day alerts your caregivers at most once every 12 hours.",
		Path:        "/updates",
		Keywords:    []string{"mood", "feel", "feeling", "update", "bad day", "alert"},
	},
	{
		Name:        "Help calendar",
		Description: "Post tasks such as meals, rides or visits and let caregivers claim open slots. Daily routines repeat automatically.",
		Path:        "/calendar",
		Keywords:    []string{"task", "calendar", "help", "meal", "ride", "visit", "claim", "schedule", "recurring"},
	},
	{
		Name:        "My tasks",
		Description: "Review the tasks you signed up for and release the ones you can no longer do.",
		Path:        "/my-tasks",
		Keywords:    []string{"my tasks", "signed up", "unclaim", "commitment"},
	},
	{
		Name:        "Symptom tracker",
		Description: "Rate fatigue, nausea, pain and other symptoms from 1 to 5 each day and watch trends over a chemo cycle.",
		Path:        "/symptoms",
		Keywords:    []string{"symptom", "pain", "nausea", "fatigue", "chemo", "cycle", "track"},
	},
	{
		Name:        "Group chat",
		Description: "Talk with everyone in the circle in one shared conversation.",
		Path:        "/chat",
		Keywords:    []string{"chat", "message", "talk", "conversation"},
	},
	{
		Name:        "Donations",
		Description: "Support the patient with a donation and get a receipt by email. No real payment is processed.",
		Path:        "/donate",
		Keywords:    []string{"donate", "donation", "money", "pay", "payment", "support", "fund"},
	},
	{
		Name:        "Invite caregivers",
		Description: "Share the circle's invite code or email an invite to friends and family.",
		Path:        "/invite",
		Keywords:    []string{"invite", "join", "code", "add member", "family", "friend"},
	},
	{
		Name:        "Members",
		Description: "See who is in the circle and their role.",
		Path:        "/members",
		Keywords:    []string{"member", "caregiver", "people", "who"},
	},
	{
		Name:        "Profile",
		Description: "Edit your name, avatar, phone and relationship to the patient.",
		Path:        "/profile",
		Keywords:    []string{"profile", "avatar", "name", "phone", "settings"},
	},
}

// ChatRequest is the assistant endpoint payload.
type ChatRequest struct {
	Message             string       `json:"message"`
	ConversationHistory []ai.Message `json:"conversationHistory"`
	CurrentPath         string       `json:"currentPath"`
}

// ChatResponse is the assistant reply with navigation hints.
type ChatResponse struct {
	Response         string        `json:"response"`
	QuickActions     []QuickAction `json:"quickActions"`
	RelevantFeatures []Feature     `json:"relevantFeatures"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Chat answers a user question about the product.
func (a *App) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if a.assistant == nil {
		return ChatResponse{}, ErrAssistantUnavailable
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ChatResponse{}, invalid("message is required")
	}
	if len(message) > maxChatbotPrompt {
		return ChatResponse{}, invalid("message exceeds %d bytes", maxChatbotPrompt)
	}
	messages := buildConversation(req.CurrentPath, req.ConversationHistory, message)
	reply, err := a.assistant.CompleteChat(ctx, messages)
	if err != nil {
		logger(ctx).Error("assistant completion failed", "err", err)
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrAssistantFailed, err)
	}
	features := relevantFeatures(message, req.CurrentPath)
	return ChatResponse{
		Response:         strings.TrimSpace(reply),
		QuickActions:     quickActions(features),
		RelevantFeatures: features,
		Timestamp:        a.clock(),
	}, nil
}

// SystemPrompt describes the catalog and where the user currently is.
func SystemPrompt(currentPath string) string {
	var b strings.Builder
	b.WriteString("You are the CareCircle assistant. CareCircle helps a cancer patient and their ")
	b.WriteString("friends and family coordinate care. Answer briefly and warmly, only about ")
	b.WriteString("using the app. Do not give medical advice.\n\nFeatures:\n")
	for _, f := range Features {
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, f.Path, f.Description)
	}
	if p := strings.TrimSpace(currentPath); p != "" {
		fmt.Fprintf(&b, "\nThe user is currently on %s.\n", p)
	}
	return b.String()
}

func buildConversation(currentPath string, history []ai.Message, message string) []ai.Message {
	var turns []ai.Message
	for _, m := range history {
		if m.Role != ai.RoleUser && m.Role != ai.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	out := make([]ai.Message, 0, len(turns)+2)
	out = append(out, ai.Message{Role: ai.RoleSystem, Content: SystemPrompt(currentPath)})
	out = append(out, turns...)
	return append(out, ai.Message{Role: ai.RoleUser, Content: message})
}

// relevantFeatures ranks catalog entries by keyword hits in message and falls
// back to the feature at currentPath plus the dashboard.
func relevantFeatures(message, currentPath string) []Feature {
	lower := strings.ToLower(message)
	type scored struct {
		f     Feature
		score int
	}
	var hits []scored
	for _, f := range Features {
		score := 0
		for _, kw := range f.Keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{f, score})
		}
	}
	// catalog order breaks ties
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]Feature, 0, maxFeatures)
	for _, h := range hits {
		if len(out) == maxFeatures {
			break
		}
		out = append(out, h.f)
	}
	if len(out) > 0 {
		return out
	}
	for _, f := range Features {
		if currentPath != "" && strings.HasPrefix(currentPath, f.Path) {
			out = append(out, f)
		}
	}
	if len(out) == 0 || out[0].Path != "/dashboard" {
		out = append(out, Features[0])
	}
	return out[:min(len(out), maxFeatures)]
}

// quickActions links the relevant features first, then pads with the most
// common destinations.
func quickActions(features []Feature) []QuickAction {
	seen := make(map[string]bool)
	var out []QuickAction
	add := func(f Feature) {
		if seen[f.Path] || len(out) == maxQuickActions {
			return
		}
		seen[f.Path] = true
		out = append(out, QuickAction{Label: "Open " + f.Name, Path: f.Path})
	}
	for _, f := range features {
		add(f)
	}
	for _, f := range Features[:4] {
		add(f)
	}
	return out
}
