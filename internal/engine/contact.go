package engine

import "time"

// BirthdayEntry is a contact whose record carried a usable birthday.
type BirthdayEntry struct {
	// DisplayName is the FN value; empty when the record had none.
	DisplayName string

	// Date is always a concrete date. When YearKnown is false the year is a
	// placeholder chosen relative to the run's as-of time.
	Date      CalendarDate
	YearKnown bool

	// SourceBook is the display name of the address book the record came from.
	SourceBook string
}

// UpcomingBirthday is a read-model of an event for list displays, sorted by
// the next time the birthday occurs.
type UpcomingBirthday struct {
	Name           string    `json:"name"`
	Date           string    `json:"date"`
	YearKnown      bool      `json:"year_known"`
	Book           string    `json:"address_book"`
	NextOccurrence time.Time `json:"next_occurrence"`

	// AgeNext is the age reached at NextOccurrence. Only set if YearKnown.
	AgeNext int `json:"age_next,omitempty"`
}
