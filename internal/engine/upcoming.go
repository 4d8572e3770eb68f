package engine

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
)

// Upcoming lists events ordered by their next occurrence relative to asOf,
// ties broken by name.
func Upcoming(events []CalendarEvent, asOf time.Time) []UpcomingBirthday {
	list := make([]UpcomingBirthday, 0, len(events))

	for _, e := range events {
		next, err := NextOccurrence(e.Date, asOf)
		if err != nil {
			slog.Debug(config.MsgSkippedRecord,
				config.LogKeyComponent, config.CompEngine,
				config.LogKeyValue, e.Date.String(),
				config.LogKeyError, err)
			continue
		}

		item := UpcomingBirthday{
			Name:           e.Title,
			Date:           e.Date.String(),
			YearKnown:      e.YearKnown,
			Book:           e.Book,
			NextOccurrence: next,
		}
		if e.YearKnown {
			item.AgeNext = next.Year() - e.Date.Year
		}
		list = append(list, item)
	}

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.NextOccurrence.Equal(b.NextOccurrence) {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
		return a.NextOccurrence.Before(b.NextOccurrence)
	})
	return list
}
