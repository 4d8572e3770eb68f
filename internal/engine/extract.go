package engine

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
)

// Extract parses one raw directory record and returns its birthday entry.
// ok is false when the record has no birthday line, the record cannot be
// decoded, or the birthday does not parse; such records are simply left out.
//
// The decoder unfolds continuation lines before properties are read, so a
// folded base64 PHOTO never splits into spurious keys. When a property occurs
// more than once, the first occurrence in the record wins.
func Extract(raw, book string, asOf time.Time) (entry BirthdayEntry, ok bool) {
	card, err := vcard.NewDecoder(strings.NewReader(raw)).Decode()
	if err != nil {
		slog.Debug(config.MsgSkippedCard,
			config.LogKeyComponent, config.CompParser,
			config.LogKeyBook, book,
			config.LogKeyError, err)
		return BirthdayEntry{}, false
	}

	field := birthdayField(card)
	if field == nil {
		return BirthdayEntry{}, false
	}

	bday, err := ParseValue(field, asOf)
	if err != nil {
		slog.Debug(config.MsgSkippedRecord,
			config.LogKeyComponent, config.CompParser,
			config.LogKeyBook, book,
			config.LogKeyValue, field.Value,
			config.LogKeyReason, err)
		return BirthdayEntry{}, false
	}

	return BirthdayEntry{
		DisplayName: card.Value(config.VCardFN),
		Date:        bday.Date,
		YearKnown:   bday.YearKnown,
		SourceBook:  book,
	}, true
}

// birthdayField returns the first field whose property name starts with BDAY.
// Names are visited in sorted order so plain BDAY is preferred over vendor
// variants.
func birthdayField(card vcard.Card) *vcard.Field {
	names := make([]string, 0, len(card))
	for name := range card {
		if strings.HasPrefix(name, config.BirthdayFieldPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if fields := card[name]; len(fields) > 0 {
			return fields[0]
		}
	}
	return nil
}
