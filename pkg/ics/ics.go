// Package ics builds minimal iCalendar artifacts for logout reminders.
//
// Events are encoded with floating (zone-naive) timestamps on purpose: the
// alarm should fire when the opening device's own clock shows the target
// wall time, not at a UTC-anchored instant. For a user whose clock runs 17
// minutes fast, that is exactly the behavior they asked for.
package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	prodID = "-//offclock//EN"
	// floatingLayout is DTSTART/DTEND without a zone designator.
	floatingLayout = "20060102T150405"
)

// Event is a single calendar event with an at-time display alarm.
type Event struct {
	Start       time.Time
	Summary     string
	Description string
	UID         string
}

// LogoutEvent builds the standard "log out now" reminder for target. A
// non-zero manualOffset is called out in the description so the user knows
// the time already accounts for their clock error.
func LogoutEvent(target time.Time, manualOffset time.Duration) Event {
	desc := "Time to leave work! (Calculated by offclock)"
	if manualOffset != 0 {
		desc += fmt.Sprintf(" Note: includes your %+dmin clock offset.", int(manualOffset.Minutes()))
	}
	return Event{
		Start:       target,
		Summary:     "Log Out Now!",
		Description: desc,
		UID:         uuid.NewString(),
	}
}

// Encode renders the event as a complete VCALENDAR document, CRLF line
// endings per RFC 5545.
func (e Event) Encode() []byte {
	stamp := e.Start.Format(floatingLayout)
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + prodID,
		"BEGIN:VEVENT",
		"UID:" + e.UID,
		"DTSTART:" + stamp,
		"DTEND:" + stamp,
		"SUMMARY:" + escapeText(e.Summary),
		"DESCRIPTION:" + escapeText(e.Description),
		"BEGIN:VALARM",
		"TRIGGER:-PT0M",
		"ACTION:DISPLAY",
		"DESCRIPTION:Logout Reminder",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

// escapeText escapes TEXT values per RFC 5545 §3.3.11.
func escapeText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		";", `\;`,
		",", `\,`,
		"\r\n", `\n`,
		"\n", `\n`,
	)
	return r.Replace(s)
}
