package engine

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
)

// CalendarOptions controls feed serialization.
type CalendarOptions struct {
	// Name is published as X-WR-CALNAME.
	Name string

	// Reminder is an ISO-8601 duration trigger (e.g. "-P1D"). Empty disables alarms.
	Reminder string

	// Describe allows callers to inject localized event descriptions.
	Describe func(e CalendarEvent) string
}

// ValidateReminder checks that a trigger looks like an ISO-8601 duration.
func ValidateReminder(trigger string) error {
	if trigger == "" {
		return nil
	}
	if !strings.HasPrefix(trigger, config.ISOPeriodPrefix) && !strings.HasPrefix(trigger, config.ISONegativePrefix) {
		return fmt.Errorf("%s: %q", config.ErrReminderTrigger, trigger)
	}
	return nil
}

// EncodeCalendar serializes events as an iCalendar document.
// Each event gets a UID, a date-only DTSTART, a SUMMARY and, for yearly
// events, an RRULE without end. An empty set yields a minimal valid calendar.
func EncodeCalendar(events []CalendarEvent, asOf time.Time, opts CalendarOptions) ([]byte, error) {
	if len(events) == 0 {
		return []byte(config.StubVCalendar), nil
	}
	if err := ValidateReminder(opts.Reminder); err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(config.PropVersion, config.ICalVersion)
	cal.Props.SetText(config.PropProdid, config.ICalProdid)
	cal.Props.SetText(config.PropCalScale, config.ICalScale)
	cal.Props.SetText(config.PropMethod, config.ICalMethod)

	name := opts.Name
	if name == "" {
		name = config.FallbackCalName
	}
	cal.Props.SetText(config.PropXWRCalName, name)

	// RFC 7986: Suggest a refresh interval
	refreshProp := ical.NewProp(config.PropRefresh)
	refreshProp.SetDuration(config.DefaultICalRefresh)
	cal.Props.Set(refreshProp)

	dtStampProp := ical.NewProp(config.PropDTStamp)
	dtStampProp.SetDateTime(asOf.UTC())

	for _, e := range events {
		event := ical.NewEvent()
		event.Props.SetText(config.PropUID, e.UID)
		event.Props.Set(dtStampProp)
		event.Props.SetText(config.PropSummary, e.Title)

		dtStartProp := ical.NewProp(config.PropDTStart)
		dtStartProp.SetDate(e.Date.In(asOf.Location()))
		event.Props.Set(dtStartProp)

		if e.Recurrence == RecurrenceYearly {
			event.Props.SetRecurrenceRule(&rrule.ROption{Freq: rrule.YEARLY})
		}

		description := describe(e)
		if opts.Describe != nil {
			description = opts.Describe(e)
		}
		if description != "" {
			event.Props.SetText(config.PropDescription, description)
		}

		if opts.Reminder != "" {
			addAlarm(event, opts.Reminder, e.Title)
		}

		cal.Children = append(cal.Children, event.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrICalEncode, err)
	}
	return buf.Bytes(), nil
}

func describe(e CalendarEvent) string {
	if e.Book == "" {
		return ""
	}
	return fmt.Sprintf(config.FallbackDescription, e.Title, e.Book)
}

// addAlarm appends a DISPLAY alarm (notification) to the event.
func addAlarm(event *ical.Event, trigger, description string) {
	alarm := ical.NewComponent(config.ICalComponent)
	alarm.Props.SetText(config.PropAction, config.ICalAction)
	alarm.Props.SetText(config.PropDescription, description)

	// Set trigger manually to avoid "VALUE=TEXT" param
	triggerProp := ical.NewProp(config.PropTrigger)
	triggerProp.Value = trigger
	alarm.Props.Set(triggerProp)

	event.Children = append(event.Children, alarm)
}

// NextOccurrence returns the first occurrence of a yearly birthday on or
// after the start of asOf's day. Leap-day birthdays only occur in leap years.
func NextOccurrence(date CalendarDate, asOf time.Time) (time.Time, error) {
	loc := asOf.Location()
	start := time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, loc)
	rule, err := rrule.NewRRule(rrule.ROption{Freq: rrule.YEARLY, Dtstart: start})
	if err != nil {
		return time.Time{}, err
	}

	todayStart := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, loc)
	next := rule.After(todayStart, true)
	if next.IsZero() {
		return time.Time{}, errors.New(config.ErrInvalidDate)
	}
	return next, nil
}
