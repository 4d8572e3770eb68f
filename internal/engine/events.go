package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
)

// Recurrence says whether an event repeats.
type Recurrence int

const (
	RecurrenceNone Recurrence = iota
	RecurrenceYearly
)

func (r Recurrence) String() string {
	if r == RecurrenceYearly {
		return "yearly"
	}
	return "none"
}

// CalendarEvent is one all-day birthday event. Events are never mutated
// after generation; each refresh replaces the whole set.
type CalendarEvent struct {
	UID        string
	Title      string
	Date       CalendarDate
	AllDay     bool
	Recurrence Recurrence

	// Source metadata, used for descriptions and listings.
	YearKnown bool
	Book      string
}

var uidNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(config.UIDNamespace))

// GenerateEvents converts entries into calendar events.
//
// An event recurs yearly iff its year is strictly before asOf's year. A
// date in the current year is a first occurrence, which includes
// year-unknown entries whose placeholder resolved to this year.
func GenerateEvents(entries []BirthdayEntry, asOf time.Time) []CalendarEvent {
	currentYear := asOf.Year()
	events := make([]CalendarEvent, 0, len(entries))

	for _, e := range entries {
		rec := RecurrenceNone
		if e.Date.Year < currentYear {
			rec = RecurrenceYearly
		}
		events = append(events, CalendarEvent{
			UID:        eventUID(e),
			Title:      e.DisplayName,
			Date:       e.Date,
			AllDay:     true,
			Recurrence: rec,
			YearKnown:  e.YearKnown,
			Book:       e.SourceBook,
		})
	}
	return events
}

// eventUID is stable across refreshes. Year-unknown entries are keyed by
// month and day only since their placeholder year moves.
func eventUID(e BirthdayEntry) string {
	date := e.Date.String()
	if !e.YearKnown {
		date = fmt.Sprintf("--%02d-%02d", int(e.Date.Month), e.Date.Day)
	}
	key := fmt.Sprintf(config.FormatUIDKey, e.SourceBook, e.DisplayName, date)
	return uuid.NewSHA1(uidNamespace, []byte(key)).String()
}
