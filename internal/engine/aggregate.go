package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
)

// AddressBook identifies one collection on the directory server.
type AddressBook struct {
	ID          string
	DisplayName string
}

// DirectoryClient is the contract consumed from the address-book protocol
// layer. Any error it returns ends the refresh cycle.
type DirectoryClient interface {
	Login(ctx context.Context) error
	ListAddressBooks(ctx context.Context) ([]AddressBook, error)
	FetchRecords(ctx context.Context, book AddressBook) ([]string, error)
}

// AggregationFailedError reports a fatal failure of one refresh cycle.
type AggregationFailedError struct {
	Stage string
	Cause error
}

func (e *AggregationFailedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", config.ErrAggregation, e.Stage, e.Cause)
}

func (e *AggregationFailedError) Unwrap() error { return e.Cause }

// Aggregate logs in, walks every address book and extracts a birthday entry
// from each record.
//
// Login, book listing and book fetch failures are fatal and return an
// *AggregationFailedError. Records without a usable birthday are skipped.
// Zero books or zero birthdays is a valid, empty result.
func Aggregate(ctx context.Context, client DirectoryClient, asOf time.Time) ([]BirthdayEntry, error) {
	log := slog.With(config.LogKeyComponent, config.CompEngine)

	if err := client.Login(ctx); err != nil {
		return nil, &AggregationFailedError{Stage: config.ErrLogin, Cause: err}
	}
	log.Debug(config.MsgLoginOK)

	books, err := client.ListAddressBooks(ctx)
	if err != nil {
		return nil, &AggregationFailedError{Stage: config.ErrListBooks, Cause: err}
	}
	log.Info(config.MsgBooksFound, config.LogKeyBooks, len(books))

	entries := make([]BirthdayEntry, 0)
	for _, book := range books {
		records, err := client.FetchRecords(ctx, book)
		if err != nil {
			return nil, &AggregationFailedError{
				Stage: fmt.Sprintf("%s (%s)", config.ErrFetchRecords, book.DisplayName),
				Cause: err,
			}
		}

		found := 0
		for _, raw := range records {
			entry, ok := Extract(raw, book.DisplayName, asOf)
			if !ok {
				continue
			}
			entries = append(entries, entry)
			found++
		}

		log.Debug(config.MsgBookFetched,
			config.LogKeyBook, book.DisplayName,
			config.LogKeyRecords, len(records),
			config.LogKeyFound, found)
	}

	return entries, nil
}
