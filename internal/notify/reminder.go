package notify

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// AppointmentReminder carries what a reminder email needs about an upcoming visit.
type AppointmentReminder struct {
	PatientName  string
	PatientEmail string
	Provider     string
	StartsAt     time.Time
	ClinicName   string
	Location     *time.Location
}

// ReminderEmail renders the reminder as a plain text and HTML email.
func ReminderEmail(r AppointmentReminder) EmailMessage {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	clinic := strings.TrimSpace(r.ClinicName)
	if clinic == "" {
		clinic = "our clinic"
	}
	name := strings.TrimSpace(r.PatientName)
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	when := r.StartsAt.In(loc).Format("Monday, January 2 at 3:04 PM MST")

	var body strings.Builder
	fmt.Fprintf(&body, "%s,\n\nThis is a reminder of your dental appointment at %s on %s", greeting, clinic, when)
	if r.Provider != "" {
		fmt.Fprintf(&body, " with %s", r.Provider)
	}
	body.WriteString(".\n\nIf you need to reschedule, please call the office.\n")

	var htmlBody strings.Builder
	fmt.Fprintf(&htmlBody, "<p>%s,</p><p>This is a reminder of your dental appointment at <strong>%s</strong> on <strong>%s</strong>",
		html.EscapeString(greeting), html.EscapeString(clinic), html.EscapeString(when))
	if r.Provider != "" {
		fmt.Fprintf(&htmlBody, " with %s", html.EscapeString(r.Provider))
	}
	htmlBody.WriteString(".</p><p>If you need to reschedule, please call the office.</p>")

	return EmailMessage{
		To:      r.PatientEmail,
		ToName:  name,
		Subject: fmt.Sprintf("Appointment reminder: %s", r.StartsAt.In(loc).Format("Jan 2, 3:04 PM")),
		Body:    body.String(),
		HTML:    htmlBody.String(),
	}
}
