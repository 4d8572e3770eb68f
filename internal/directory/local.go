package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/engine"
)

// LocalClient reads contacts from a .vcf file on disk, presented as one
// address book named after the file.
type LocalClient struct {
	Path string
}

// Login checks that the file is readable.
func (l *LocalClient) Login(_ context.Context) error {
	if l.Path == "" {
		return errors.New(config.ErrLocalPathEmpty)
	}
	_, err := os.Stat(l.Path)
	return err
}

// ListAddressBooks returns the single synthetic book for the file.
func (l *LocalClient) ListAddressBooks(_ context.Context) ([]engine.AddressBook, error) {
	name := strings.TrimSuffix(filepath.Base(l.Path), filepath.Ext(l.Path))
	return []engine.AddressBook{{ID: l.Path, DisplayName: name}}, nil
}

// FetchRecords reads the file and splits it into vCard records.
func (l *LocalClient) FetchRecords(ctx context.Context, book engine.AddressBook) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(book.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return splitRecords(ctx, f, book.DisplayName)
}

// splitRecords decodes a multi-card stream and re-encodes each card as its
// own record. Malformed cards are logged and skipped; a failing reader
// aborts the whole book.
func splitRecords(ctx context.Context, r io.Reader, book string) ([]string, error) {
	src := &errRecorder{r: r}
	dec := vcard.NewDecoder(src)
	records := make([]string, 0)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		card, err := dec.Decode()
		if src.err != nil {
			return nil, fmt.Errorf("%s: %w", config.ErrVCardDecode, src.err)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			slog.Warn(config.MsgSkippedCard,
				config.LogKeyComponent, config.CompDirectory,
				config.LogKeyBook, book,
				config.LogKeyError, err)
			continue
		}

		raw, err := encodeCard(card)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.ErrVCardDecode, err)
		}
		records = append(records, raw)
	}
	return records, nil
}

// errRecorder keeps the first non-EOF error returned by the underlying reader,
// so stream failures can be told apart from malformed cards.
type errRecorder struct {
	r   io.Reader
	err error
}

func (e *errRecorder) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && e.err == nil {
		e.err = err
	}
	return n, err
}
