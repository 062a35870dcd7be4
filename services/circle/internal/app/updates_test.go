package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"carecircle/pkg/domain"
	"carecircle/pkg/notify"
	"carecircle/pkg/store"
)

func countKind(mails []domain.Mail, kind string) int {
	n := 0
	for _, m := range mails {
		if m.Meta["kind"] == kind {
			n++
		}
	}
	return n
}

func TestBadDayAlertCooldown(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "sarah@carecircle.demo")
	ctx := context.Background()
	alerts := func() int { return countKind(env.app.Root(ctx).Mailbox, notify.KindBadDayAlert) }

	if _, err := env.app.PostUpdate(ctx, domain.MoodBad, "Everything hurts today."); err != nil {
		t.Fatalf("post: %v", err)
	}
	env.clock.Advance(time.Hour)
	if _, err := env.app.PostUpdate(ctx, domain.MoodBad, "Still bad."); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := alerts(); got != 1 {
		t.Fatalf("expected one alert within the cooldown, got %d", got)
	}

	env.clock.Advance(12 * time.Hour)
	if _, err := env.app.PostUpdate(ctx, domain.MoodBad, "Another rough one."); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := alerts(); got != 2 {
		t.Fatalf("expected a second alert after the cooldown, got %d", got)
	}

	root := env.app.Root(ctx)
	alert := root.Mailbox[len(root.Mailbox)-1]
	for _, email := range []string{"mike@carecircle.demo", "emma@carecircle.demo", "david@carecircle.demo"} {
		if !strings.Contains(alert.To, email) {
			t.Fatalf("alert missing %s: %q", email, alert.To)
		}
	}
	if strings.Contains(alert.To, "sarah@") {
		t.Fatalf("alert addressed to its author: %q", alert.To)
	}
}

func TestGoodMoodSendsNoAlert(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "sarah@carecircle.demo")
	ctx := context.Background()
	if _, err := env.app.PostUpdate(ctx, domain.MoodGood, "Nice walk"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := env.app.PostUpdate(ctx, "GREAT", ""); !errors.Is(err, ErrInvalidMood) {
		t.Fatalf("expected ErrInvalidMood, got %v", err)
	}
	if n := countKind(env.app.Root(ctx).Mailbox, notify.KindBadDayAlert); n != 0 {
		t.Fatalf("unexpected alerts: %d", n)
	}
	updates, err := env.app.ListUpdates(ctx, "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(updates) != 2 || updates[0].Text != "Nice walk" {
		t.Fatalf("expected newest first, got %+v", updates)
	}
}

func TestConfirmDonationRecordsReceipt(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "mike@carecircle.demo")
	ctx := context.Background()

	d, err := env.app.ConfirmDonation(ctx, DonationInput{
		AmountCents: 5000,
		DonorName:   "Aunt <b>Linda</b>",
		DonorEmail:  "Linda@Example.com",
		Message:     "Thinking of you",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if d.Status != domain.DonationRecorded || d.DonorName != "Aunt Linda" || d.DonorID != "u-mike" {
		t.Fatalf("unexpected donation %+v", d)
	}
	root := env.app.Root(ctx)
	receipt := root.Mailbox[len(root.Mailbox)-1]
	if receipt.To != "linda@example.com" || !strings.Contains(receipt.Subject, "$50.00") {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if got := DonationTotal(root, store.DemoGroupID); got != 10000 {
		t.Fatalf("expected total 10000, got %d", got)
	}

	no := false
	before := len(root.Mailbox)
	if _, err := env.app.ConfirmDonation(ctx, DonationInput{
		AmountCents: 100, DonorEmail: "quiet@example.com", SendReceipt: &no,
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if after := len(env.app.Root(ctx).Mailbox); after != before {
		t.Fatalf("receipt sent despite sendReceipt=false")
	}

	summary, err := env.app.ListDonations(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summary.Items) != 3 || summary.TotalCents != 10100 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestDonationAmountBounds(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	for _, amount := range []int{0, 99, 1_000_001} {
		if _, err := env.app.CreatePaymentIntent(ctx, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
		if _, err := env.app.ConfirmDonation(ctx, DonationInput{
			GroupID: store.DemoGroupID, AmountCents: amount, DonorEmail: "a@b.c",
		}); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	intent, err := env.app.CreatePaymentIntent(ctx, 2500)
	if err != nil {
		t.Fatalf("intent: %v", err)
	}
	if !strings.HasPrefix(intent.ID, "pi_") || !strings.HasPrefix(intent.ClientSecret, intent.ID+"_secret_") {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestSendEmailMirrorsToOutboxOnly(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	before := len(env.app.Root(ctx).Mailbox)

	id, err := env.app.SendEmail(ctx, EmailInput{
		To: "friend@example.com", Subject: "Hello", Template: "note",
		Data: map[string]string{"b": "two", "a": "<i>one</i>"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.HasPrefix(id, "msg_") {
		t.Fatalf("unexpected id %q", id)
	}
	if len(env.out.mails) != 1 || env.out.mails[0].ID != id {
		t.Fatalf("expected mail on the outbox, got %+v", env.out.mails)
	}
	if !strings.Contains(env.out.mails[0].Text, "a: one") {
		t.Fatalf("unexpected text %q", env.out.mails[0].Text)
	}
	if after := len(env.app.Root(ctx).Mailbox); after != before {
		t.Fatalf("send-email must not touch the mailbox")
	}
	if _, err := env.app.SendEmail(ctx, EmailInput{To: "nope", Subject: "x"}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestSymptomsUpsertPerDay(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "sarah@carecircle.demo")
	ctx := context.Background()

	if _, err := env.app.UpsertSymptoms(ctx, SymptomInput{Ratings: map[string]int{"pain": 6}}); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
	first, err := env.app.UpsertSymptoms(ctx, SymptomInput{Ratings: map[string]int{"pain": 2}, Notes: "ok"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := env.app.UpsertSymptoms(ctx, SymptomInput{Date: today(), Ratings: map[string]int{"pain": 4}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.ID != second.ID || second.Ratings["pain"] != 4 {
		t.Fatalf("expected in-place update: %+v vs %+v", first, second)
	}
	entries, err := env.app.ListSymptoms(ctx, "", "u-sarah")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Date >= entries[1].Date {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestChatSinceFiltersOlderMessages(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "emma@carecircle.demo")
	ctx := context.Background()
	mark := env.clock.Now()
	env.clock.Advance(time.Second)
	if _, err := env.app.PostChatMessage(ctx, "On my way"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := env.app.PostChatMessage(ctx, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	all, err := env.app.ListChatMessages(ctx, "", time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(all))
	}
	fresh, err := env.app.ListChatMessages(ctx, "", mark)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fresh) != 1 || fresh[0].Text != "On my way" {
		t.Fatalf("unexpected incremental result %+v", fresh)
	}
}

func TestCycleDay(t *testing.T) {
	g := domain.Group{CycleStartDate: "2026-03-06", CycleLengthDays: 21}
	cases := map[string]int{
		"2026-03-05": 0,
		"2026-03-06": 1,
		"2026-03-10": 5,
		"2026-03-27": 1,
		"2026-03-26": 21,
	}
	for date, want := range cases {
		if got := CycleDay(g, date); got != want {
			t.Fatalf("CycleDay(%s) = %d, want %d", date, got, want)
		}
	}
	if got := CycleDay(domain.Group{}, "2026-03-10"); got != 0 {
		t.Fatalf("expected 0 without a cycle, got %d", got)
	}
}

func TestCreateInviteMailsJoinLink(t *testing.T) {
	env := newTestEnv(t, true)
	env.loginAs(t, "sarah@carecircle.demo")
	ctx := context.Background()
	inv, err := env.app.CreateInvite(ctx, "Cousin.Ann@Example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.Code != store.DemoInviteCode || inv.Email != "cousin.ann@example.com" {
		t.Fatalf("unexpected invite %+v", inv)
	}
	mails := env.app.ListMailbox(ctx, 1)
	if len(mails) != 1 || !strings.Contains(mails[0].HTML, "http://circle.test/join?code="+store.DemoInviteCode) {
		t.Fatalf("expected join link in newest mail, got %+v", mails)
	}
}

func TestUpdateCyclePatientOnly(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.loginAs(t, "mike@carecircle.demo")
	if _, err := env.app.UpdateCycle(ctx, today(), 14); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	env.loginAs(t, "sarah@carecircle.demo")
	g, err := env.app.UpdateCycle(ctx, today(), 14)
	if err != nil {
		t.Fatalf("update cycle: %v", err)
	}
	if CycleDay(g, today()) != 1 {
		t.Fatalf("expected day 1, got %d", CycleDay(g, today()))
	}
}

func TestGetCycleDefaultsToClockDate(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.loginAs(t, "sarah@carecircle.demo")
	if _, err := env.app.UpdateCycle(ctx, today(), 21); err != nil {
		t.Fatalf("update cycle: %v", err)
	}
	env.clock.Advance(48 * time.Hour)

	status, err := env.app.GetCycle(ctx, "")
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	want := baseTime.Add(48 * time.Hour).Format(dateLayout)
	if status.Date != want || status.CycleDay != 3 {
		t.Fatalf("expected day 3 on %s, got %+v", want, status)
	}
	if _, err := env.app.GetCycle(ctx, "03/10/2026"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if err := env.app.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.app.GetCycle(ctx, ""); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}
