package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
)

// Parse failure kinds. They are matched with errors.Is on a *ParseError.
var (
	ErrUnsupportedFieldType  = errors.New(config.ErrUnsupportedField)
	ErrUnrecognizedDateShape = errors.New(config.ErrUnrecognizedShape)
	ErrInvalidCalendarDate   = errors.New(config.ErrInvalidDate)
)

// ParseError carries the rejected input for diagnostics.
type ParseError struct {
	Kind  error
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q", e.Kind, e.Input)
}

func (e *ParseError) Unwrap() error { return e.Kind }

// CalendarDate is a civil date with no timezone attached.
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

// In returns the date at noon in loc. Noon keeps the calendar day stable
// when the value is later shifted across timezones.
func (d CalendarDate) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, config.BirthdayNoonHour, 0, 0, 0, loc)
}

func (d CalendarDate) String() string {
	return d.In(time.UTC).Format(config.DateFormatFullDash)
}

// FieldShape tags which encoding a BDAY value arrived in.
type FieldShape int

const (
	ShapeInvalid FieldShape = iota
	ShapeFullNumeric
	ShapeISOLike
	ShapeMonthDay
	ShapeYearOmitted
)

var shapeNames = map[FieldShape]string{
	ShapeInvalid:     "invalid",
	ShapeFullNumeric: "full-numeric",
	ShapeISOLike:     "iso-like",
	ShapeMonthDay:    "month-day",
	ShapeYearOmitted: "year-omitted",
}

func (s FieldShape) String() string { return shapeNames[s] }

// BirthdayField is a date-of-birth value as encountered in a record.
// Year is 0 when the shape carries no year.
type BirthdayField struct {
	Shape FieldShape
	Year  int
	Month int
	Day   int
	Raw   string
}

// Birthday is the normalized result of parsing a BirthdayField.
type Birthday struct {
	Date      CalendarDate
	YearKnown bool
}

// ClassifyField splits raw on runs of non-digits and decides the shape from
// the number of numeric groups. Empty groups produced by leading or trailing
// separators (as in "--02-16") are ignored.
func ClassifyField(raw string) (BirthdayField, error) {
	field := BirthdayField{Raw: raw}
	groups := strings.FieldsFunc(raw, func(r rune) bool { return r < '0' || r > '9' })

	var parts [3]string
	switch {
	case len(groups) == 3:
		field.Shape = ShapeISOLike
		copy(parts[:], groups)
	case len(groups) == 2:
		field.Shape = ShapeMonthDay
		parts[1], parts[2] = groups[0], groups[1]
	case len(groups) == 1 && len(groups[0]) == config.CompactDateDigits:
		field.Shape = ShapeFullNumeric
		g := groups[0]
		parts = [3]string{g[0:4], g[4:6], g[6:8]}
	default:
		return field, &ParseError{Kind: ErrUnrecognizedDateShape, Input: raw}
	}

	nums := [3]int{}
	for i, p := range parts {
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return field, &ParseError{Kind: ErrInvalidCalendarDate, Input: raw}
		}
		nums[i] = n
	}
	field.Year, field.Month, field.Day = nums[0], nums[1], nums[2]

	if field.Shape != ShapeMonthDay && field.Year < config.YearUnknownThreshold {
		field.Shape = ShapeYearOmitted
	}
	return field, nil
}

// Resolve turns a classified field into a concrete date.
//
// When the year is absent or below the placeholder threshold it is replaced
// by asOf's year, or the following year if the birthday's month is already
// behind asOf's month. Only months are compared: a birthday earlier in the
// current month still resolves to the current year.
func (f BirthdayField) Resolve(asOf time.Time) (Birthday, error) {
	year, yearKnown := f.Year, true
	if f.Shape == ShapeMonthDay || f.Shape == ShapeYearOmitted {
		yearKnown = false
		year = asOf.Year()
		if time.Month(f.Month) < asOf.Month() {
			year++
		}
	}

	if f.Month < 1 || f.Month > 12 || f.Day < 1 || f.Day > 31 {
		return Birthday{}, &ParseError{Kind: ErrInvalidCalendarDate, Input: f.Raw}
	}
	// time.Date normalizes overflow (Feb 30 -> Mar 2); reject instead of clamping.
	t := time.Date(year, time.Month(f.Month), f.Day, config.BirthdayNoonHour, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != f.Month || t.Day() != f.Day {
		return Birthday{}, &ParseError{Kind: ErrInvalidCalendarDate, Input: f.Raw}
	}

	return Birthday{
		Date:      CalendarDate{Year: year, Month: time.Month(f.Month), Day: f.Day},
		YearKnown: yearKnown,
	}, nil
}

// ParseDate parses a textual BDAY value relative to asOf.
func ParseDate(raw string, asOf time.Time) (Birthday, error) {
	field, err := ClassifyField(raw)
	if err != nil {
		return Birthday{}, err
	}
	return field.Resolve(asOf)
}

// ParseValue accepts either text or a vCard field wrapping the text
// (parameterized values such as BDAY;VALUE=date). Any other type is rejected.
func ParseValue(v any, asOf time.Time) (Birthday, error) {
	switch val := v.(type) {
	case string:
		return ParseDate(val, asOf)
	case *vcard.Field:
		if val == nil {
			return Birthday{}, &ParseError{Kind: ErrUnsupportedFieldType, Input: "<nil>"}
		}
		return ParseValue(val.Value, asOf)
	case vcard.Field:
		return ParseValue(val.Value, asOf)
	default:
		return Birthday{}, &ParseError{Kind: ErrUnsupportedFieldType, Input: fmt.Sprintf("%T", v)}
	}
}
