package app

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"carecircle/internal/util"
	"carecircle/pkg/domain"
	"carecircle/pkg/notify"
)

// Donation bounds in cents.
const (
	MinDonationCents = 100
	MaxDonationCents = 1_000_000
)

// PaymentIntent is the simulated payment handshake. No gateway is involved.
type PaymentIntent struct {
	ID           string `json:"paymentIntentId"`
	ClientSecret string `json:"clientSecret"`
	AmountCents  int    `json:"amount"`
	Currency     string `json:"currency"`
}

// CreatePaymentIntent validates the amount and fabricates an intent.
func (a *App) CreatePaymentIntent(ctx context.Context, amountCents int) (PaymentIntent, error) {
	if amountCents < MinDonationCents || amountCents > MaxDonationCents {
		return PaymentIntent{}, ErrInvalidAmount
	}
	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	intent := PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_" + util.NewID(),
		AmountCents:  amountCents,
		Currency:     "usd",
	}
	logger(ctx).Info("payment intent created", "payment_intent", id, "amount_cents", amountCents)
	return intent, nil
}

// DonationInput is the confirm-donation payload. GroupID defaults to the
// session's group.
type DonationInput struct {
	GroupID         string `json:"groupId"`
	PaymentIntentID string `json:"paymentIntentId"`
	AmountCents     int    `json:"amount"`
	DonorName       string `json:"donorName"`
	DonorEmail      string `json:"donorEmail"`
	Message         string `json:"message"`
	// SendReceipt defaults to true.
	SendReceipt *bool `json:"sendReceipt"`
}

// ConfirmDonation records a donation and, unless disabled, a receipt mail to
// the donor.
func (a *App) ConfirmDonation(ctx context.Context, in DonationInput) (domain.Donation, error) {
	if in.AmountCents < MinDonationCents || in.AmountCents > MaxDonationCents {
		return domain.Donation{}, ErrInvalidAmount
	}
	email := domain.NormalizeEmail(in.DonorEmail)
	if !validEmail(email) {
		return domain.Donation{}, ErrInvalidEmail
	}
	name := notify.Sanitize(in.DonorName)
	if name == "" {
		name = DefaultName(email)
	}
	sendReceipt := in.SendReceipt == nil || *in.SendReceipt
	var donation domain.Donation
	_, err := a.update(ctx, func(root *domain.Root, fx *effects) error {
		groupID := in.GroupID
		if groupID == "" {
			groupID = root.Session.GroupID
		}
		if groupID == "" {
			return ErrNoGroupSelected
		}
		group, ok := root.Groups[groupID]
		if !ok {
			return ErrGroupNotFound
		}
		now := a.clock()
		donation = domain.Donation{
			ID:          util.NewID(),
			GroupID:     group.ID,
			DonorName:   name,
			DonorEmail:  email,
			AmountCents: in.AmountCents,
			Message:     strings.TrimSpace(in.Message),
			Status:      domain.DonationRecorded,
			CreatedAt:   now,
		}
		if u, ok := root.Users[root.Session.UserID]; ok {
			donation.DonorID = u.ID
		}
		root.Donations = append(root.Donations, donation)
		if sendReceipt {
			fx.mail(root, notify.DonationReceipt(donation, group), now)
		}
		return nil
	})
	if err != nil {
		return domain.Donation{}, err
	}
	logger(ctx).Info("donation recorded",
		"donation_id", donation.ID, "group_id", donation.GroupID,
		"amount_cents", donation.AmountCents, "payment_intent", in.PaymentIntentID)
	return donation, nil
}

// DonationTotal sums the recorded donations of groupID.
func DonationTotal(root domain.Root, groupID string) int {
	total := 0
	for _, d := range root.Donations {
		if d.GroupID == groupID {
			total += d.AmountCents
		}
	}
	return total
}

// DonationSummary is the donations list with its total.
type DonationSummary struct {
	Items      []domain.Donation `json:"items"`
	TotalCents int               `json:"totalCents"`
}

// ListDonations returns the group's donations newest first.
func (a *App) ListDonations(ctx context.Context, groupID string) (DonationSummary, error) {
	root := a.store.GetRoot(ctx)
	_, group, err := requireGroupAccess(&root, groupID)
	if err != nil {
		return DonationSummary{}, err
	}
	items := []domain.Donation{}
	for _, d := range root.Donations {
		if d.GroupID == group.ID {
			items = append(items, d)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return DonationSummary{Items: items, TotalCents: DonationTotal(root, group.ID)}, nil
}

// EmailInput is the send-email payload.
type EmailInput struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// SendEmail simulates an email provider: it logs the request, mirrors the
// rendered mail to the outbox and returns a fabricated message id.
func (a *App) SendEmail(ctx context.Context, in EmailInput) (string, error) {
	to := domain.NormalizeEmail(in.To)
	if !validEmail(to) {
		return "", ErrInvalidEmail
	}
	if strings.TrimSpace(in.Subject) == "" {
		return "", invalid("subject is required")
	}
	fields := make([]string, 0, len(in.Data))
	for k := range in.Data {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	m := notify.Custom(to, in.Subject, in.Template, fields, in.Data)
	m.ID = "msg_" + uuid.NewString()
	m.CreatedAt = a.clock()
	logger(ctx).Info("email simulated", "message_id", m.ID, "to", to, "template", in.Template)
	a.publish(ctx, []domain.Mail{m})
	return m.ID, nil
}
