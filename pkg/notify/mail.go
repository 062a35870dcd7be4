// Package notify composes the mailbox records written on domain events.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"carecircle/pkg/domain"
)

const appName = "CareCircle"

// Mail kinds recorded in Mail.Meta["kind"].
const (
	KindTaskClaimed     = "task_claimed"
	KindTaskUnclaimed   = "task_unclaimed"
	KindBadDayAlert     = "bad_day_alert"
	KindDonationReceipt = "donation_receipt"
	KindInvite          = "invite"
	KindWelcome         = "welcome"
	KindCustom          = "custom"
)

var strict = bluemonday.StrictPolicy()

// Sanitize strips every tag from user supplied text and returns plain text;
// the mail layout escapes it again on render.
func Sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Subject}}</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
<h1 style="color: #7c3aed;">` + appName + `</h1>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .Quote}}<blockquote style="border-left: 3px solid #ddd; padding-left: 12px;">{{.Quote}}</blockquote>
{{end}}{{if .Link}}<p><a href="{{.Link}}">{{.LinkText}}</a></p>
{{end}}<p style="font-size: 12px; color: #666;">Sent with love from {{.Group}}.</p>
</body>
</html>`))

type body struct {
	Subject    string
	Paragraphs []string
	Quote      string
	Link       string
	LinkText   string
	Group      string
}

func compose(to, subject, kind string, b body, meta map[string]string) domain.Mail {
	b.Subject = subject
	if b.Group == "" {
		b.Group = appName
	}
	var buf bytes.Buffer
	if err := layout.Execute(&buf, b); err != nil {
		buf.Reset()
		buf.WriteString("<p>" + template.HTMLEscapeString(strings.Join(b.Paragraphs, " ")) + "</p>")
	}
	rendered := buf.String()
	if meta == nil {
		meta = map[string]string{}
	}
	meta["kind"] = kind
	return domain.Mail{
		To:      to,
		Subject: subject,
		HTML:    rendered,
		Text:    HTMLToText(rendered),
		Meta:    meta,
	}
}

func displayName(u domain.User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return u.Email
}

func describeTask(t domain.Task) string {
	when := t.TaskDate
	if t.StartTime != "" {
		when += " at " + t.StartTime
	}
	return fmt.Sprintf("%s (%s)", Sanitize(t.Title), when)
}

// TaskClaimed tells the task owner that someone signed up.
func TaskClaimed(to string, claimer domain.User, task domain.Task, group domain.Group) domain.Mail {
	subject := fmt.Sprintf("%s signed up to help", displayName(claimer))
	return compose(to, subject, KindTaskClaimed, body{
		Paragraphs: []string{
			fmt.Sprintf("%s claimed %s.", displayName(claimer), describeTask(task)),
			"Thank you for coordinating care for " + group.Name + ".",
		},
		Group: group.Name,
	}, map[string]string{"taskId": task.ID, "userId": claimer.ID})
}

// TaskUnclaimed tells the task owner that a helper withdrew.
func TaskUnclaimed(to string, helper domain.User, task domain.Task, group domain.Group) domain.Mail {
	subject := fmt.Sprintf("%s can no longer help", displayName(helper))
	return compose(to, subject, KindTaskUnclaimed, body{
		Paragraphs: []string{
			fmt.Sprintf("%s released their spot on %s.", displayName(helper), describeTask(task)),
			"The slot is open again for someone else in the circle.",
		},
		Group: group.Name,
	}, map[string]string{"taskId": task.ID, "userId": helper.ID})
}

// BadDayAlert asks caregivers to check in after a BAD mood update.
func BadDayAlert(to []string, patient domain.User, group domain.Group, text string) domain.Mail {
	subject := fmt.Sprintf("%s is having a hard day", displayName(patient))
	return compose(strings.Join(to, ","), subject, KindBadDayAlert, body{
		Paragraphs: []string{
			fmt.Sprintf("%s shared that today is a bad day.", displayName(patient)),
			"A short message or a visit can make a real difference.",
		},
		Quote: Sanitize(text),
		Group: group.Name,
	}, map[string]string{"userId": patient.ID, "groupId": group.ID})
}

// DonationReceipt thanks the donor and states the amount.
func DonationReceipt(d domain.Donation, group domain.Group) domain.Mail {
	amount := FormatCents(d.AmountCents)
	return compose(d.DonorEmail, "Thank you for your donation of "+amount, KindDonationReceipt, body{
		Paragraphs: []string{
			fmt.Sprintf("Dear %s,", Sanitize(d.DonorName)),
			fmt.Sprintf("We recorded your gift of %s to %s.", amount, group.Name),
			"This is a receipt for your records. No payment was processed.",
		},
		Quote: Sanitize(d.Message),
		Group: group.Name,
	}, map[string]string{"donationId": d.ID, "amountCents": strconv.Itoa(d.AmountCents)})
}

// Invite carries the circle's invite code to a prospective caregiver.
func Invite(inv domain.Invite, group domain.Group, inviter domain.User, joinURL string) domain.Mail {
	subject := fmt.Sprintf("%s invited you to %s", displayName(inviter), group.Name)
	return compose(inv.Email, subject, KindInvite, body{
		Paragraphs: []string{
			fmt.Sprintf("%s would like you to join %s on %s.", displayName(inviter), group.Name, appName),
			"Your invite code is " + inv.Code + ".",
		},
		Link:     joinURL,
		LinkText: "Join the circle",
		Group:    group.Name,
	}, map[string]string{"inviteId": inv.ID, "code": inv.Code})
}

// Welcome greets a new member of a circle.
func Welcome(user domain.User, group domain.Group) domain.Mail {
	return compose(user.Email, "Welcome to "+group.Name, KindWelcome, body{
		Paragraphs: []string{
			fmt.Sprintf("Hi %s, welcome to %s.", displayName(user), group.Name),
			"Share the invite code " + group.InviteCode + " with friends and family who want to help.",
		},
		Group: group.Name,
	}, map[string]string{"userId": user.ID, "groupId": group.ID})
}

// Custom renders a free-form mail from the send-email endpoint. Values in data
// are sanitized and listed as paragraphs in key order of fields.
func Custom(to, subject, templateName string, fields []string, data map[string]string) domain.Mail {
	paragraphs := make([]string, 0, len(fields))
	for _, k := range fields {
		paragraphs = append(paragraphs, fmt.Sprintf("%s: %s", k, Sanitize(data[k])))
	}
	return compose(to, Sanitize(subject), KindCustom, body{Paragraphs: paragraphs},
		map[string]string{"template": templateName})
}

// FormatCents renders an amount in cents as dollars, e.g. 5000 -> "$50.00".
func FormatCents(cents int) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
