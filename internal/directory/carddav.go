package directory

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav/carddav"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/engine"
)

// cardDAVAPI is the subset of *carddav.Client used here.
type cardDAVAPI interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindAddressBookHomeSet(ctx context.Context, principal string) (string, error)
	FindAddressBooks(ctx context.Context, addressBookHomeSet string) ([]carddav.AddressBook, error)
	QueryAddressBook(ctx context.Context, addressBook string, query *carddav.AddressBookQuery) ([]carddav.AddressObject, error)
}

// CardDAVClient discovers address books on a CardDAV server and returns
// their cards as raw vCard text.
type CardDAVClient struct {
	api     cardDAVAPI
	homeSet string
}

// NewCardDAVClient creates a client for the server at s.ServerURL.
func NewCardDAVClient(s *config.Settings) (*CardDAVClient, error) {
	if s.ServerURL == "" {
		return nil, fmt.Errorf("%s: %s", config.ErrConnect, config.ErrServerURLEmpty)
	}
	if _, err := validateURL(s.ServerURL); err != nil {
		return nil, err
	}

	httpClient, err := NewHTTPClient(s)
	if err != nil {
		return nil, err
	}
	api, err := carddav.NewClient(httpClient, s.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrConnect, err)
	}
	return &CardDAVClient{api: api}, nil
}

// Login resolves the current user principal and its address book home set.
// Credentials are checked by the server on the first request.
func (c *CardDAVClient) Login(ctx context.Context) error {
	principal, err := c.api.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return err
	}
	homeSet, err := c.api.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return err
	}
	c.homeSet = homeSet
	return nil
}

// ListAddressBooks returns the address books under the home set.
func (c *CardDAVClient) ListAddressBooks(ctx context.Context) ([]engine.AddressBook, error) {
	books, err := c.api.FindAddressBooks(ctx, c.homeSet)
	if err != nil {
		return nil, err
	}

	out := make([]engine.AddressBook, 0, len(books))
	for _, b := range books {
		name := b.Name
		if name == "" {
			name = path.Base(strings.TrimSuffix(b.Path, "/"))
		}
		out = append(out, engine.AddressBook{ID: b.Path, DisplayName: name})
	}
	return out, nil
}

// FetchRecords queries every card of the book and re-encodes it as text.
// A card that cannot be encoded is skipped.
func (c *CardDAVClient) FetchRecords(ctx context.Context, book engine.AddressBook) ([]string, error) {
	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{AllProp: true},
	}
	objects, err := c.api.QueryAddressBook(ctx, book.ID, query)
	if err != nil {
		return nil, err
	}

	records := make([]string, 0, len(objects))
	for _, obj := range objects {
		raw, err := encodeCard(obj.Card)
		if err != nil {
			slog.Warn(config.MsgSkippedCard,
				config.LogKeyComponent, config.CompDirectory,
				config.LogKeyBook, book.DisplayName,
				config.LogKeyPath, obj.Path,
				config.LogKeyError, err)
			continue
		}
		records = append(records, raw)
	}
	return records, nil
}

// encodeCard renders a decoded card back to vCard text. The encoder
// requires VERSION, which some servers omit.
func encodeCard(card vcard.Card) (string, error) {
	if card == nil {
		return "", fmt.Errorf("%s: empty card", config.ErrVCardEncode)
	}
	if card.Value(vcard.FieldVersion) == "" {
		card.SetValue(vcard.FieldVersion, "3.0")
	}

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return "", fmt.Errorf("%s: %w", config.ErrVCardEncode, err)
	}
	return buf.String(), nil
}
