package engine_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/engine"
)

// card builds a CRLF-terminated vCard 3.0 record from property lines.
func card(lines ...string) string {
	all := append([]string{"BEGIN:VCARD", "VERSION:3.0"}, lines...)
	all = append(all, "END:VCARD")
	return strings.Join(all, "\r\n") + "\r\n"
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		wantName  string
		wantDate  engine.CalendarDate
		yearKnown bool
	}{
		{
			name:      "plain BDAY",
			raw:       card("FN:Jane Doe", "BDAY:19900101"),
			wantOK:    true,
			wantName:  "Jane Doe",
			wantDate:  date(1990, time.January, 1),
			yearKnown: true,
		},
		{
			name:     "parameterized BDAY",
			raw:      card("FN:Jane Doe", "BDAY;VALUE=date:1978-08-15"),
			wantOK:   true,
			wantName: "Jane Doe",
			wantDate: date(1978, time.August, 15), yearKnown: true,
		},
		{
			name:     "apple omit-year marker",
			raw:      card("FN:Jane Doe", "BDAY;X-APPLE-OMIT-YEAR=1604:1604-03-10"),
			wantOK:   true,
			wantName: "Jane Doe",
			wantDate: date(2024, time.March, 10),
		},
		{
			name:     "vcard4 year omitted",
			raw:      card("FN:Jane Doe", "BDAY:--0310"),
			wantOK:   false,
			wantName: "",
		},
		{
			name:     "missing name keeps empty title",
			raw:      card("BDAY:19900101"),
			wantOK:   true,
			wantDate: date(1990, time.January, 1), yearKnown: true,
		},
		{
			name: "folded photo does not break parsing",
			raw: card(
				"FN:Jane Doe",
				"PHOTO;ENCODING=b;TYPE=JPEG:/9j/4AAQSkZJRgABAQAAAQABAAD",
				" BDAYAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
				" AAAAAAAAAAAA:notadate",
				"BDAY:2001-12-24",
			),
			wantOK:    true,
			wantName:  "Jane Doe",
			wantDate:  date(2001, time.December, 24),
			yearKnown: true,
		},
		{
			name:     "first occurrence wins",
			raw:      card("FN:First", "FN:Second", "BDAY:19900101", "BDAY:19800101"),
			wantOK:   true,
			wantName: "First",
			wantDate: date(1990, time.January, 1), yearKnown: true,
		},
		{name: "no birthday", raw: card("FN:Jane Doe", "TEL:+123"), wantOK: false},
		{name: "unparseable birthday", raw: card("FN:Jane Doe", "BDAY:someday"), wantOK: false},
		{name: "invalid calendar date", raw: card("FN:Jane Doe", "BDAY:1990-02-30"), wantOK: false},
		{name: "not a vcard", raw: "hello world", wantOK: false},
		{name: "empty record", raw: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := engine.Extract(tt.raw, "Family", january2024)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				assert.Equal(t, engine.BirthdayEntry{}, entry)
				return
			}
			assert.Equal(t, tt.wantName, entry.DisplayName)
			assert.Equal(t, tt.wantDate, entry.Date)
			assert.Equal(t, tt.yearKnown, entry.YearKnown)
			assert.Equal(t, "Family", entry.SourceBook)
		})
	}
}

func TestExtract_LFLineEndings(t *testing.T) {
	raw := "BEGIN:VCARD\nVERSION:4.0\nFN:Jane Doe\nBDAY:--02-16\nEND:VCARD\n"
	entry, ok := engine.Extract(raw, "Friends", april2024)
	require.True(t, ok)
	assert.Equal(t, date(2025, time.February, 16), entry.Date)
	assert.False(t, entry.YearKnown)
}
