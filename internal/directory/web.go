package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/engine"
)

// WebClient reads a single .vcf export over HTTP(S). The export is
// presented as one address book named after the host.
type WebClient struct {
	Client *http.Client
	URL    string

	// MaxBytes caps the download; zero means config.MaxHTTPResponseSize.
	MaxBytes int64

	target *url.URL
}

// NewWebClient creates a WebClient using the configured auth method.
func NewWebClient(s *config.Settings) (*WebClient, error) {
	httpClient, err := NewHTTPClient(s)
	if err != nil {
		return nil, err
	}
	return &WebClient{Client: httpClient, URL: s.ServerURL}, nil
}

// validateURL accepts only absolute http and https URLs.
func validateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrInvalidURL, err)
	}
	if u.Scheme != config.SchemeHTTP && u.Scheme != config.SchemeHTTPS {
		return nil, fmt.Errorf("%s: %s", config.ErrProtocol, u.Scheme)
	}
	return u, nil
}

// Login validates the URL. Credentials are only checked by the download.
func (w *WebClient) Login(_ context.Context) error {
	if w.URL == "" {
		return errors.New(config.ErrServerURLEmpty)
	}
	u, err := validateURL(w.URL)
	if err != nil {
		return err
	}
	w.target = u
	return nil
}

// ListAddressBooks returns the single synthetic book for the export.
func (w *WebClient) ListAddressBooks(_ context.Context) ([]engine.AddressBook, error) {
	if w.target == nil {
		if err := w.Login(context.Background()); err != nil {
			return nil, err
		}
	}
	return []engine.AddressBook{{ID: w.URL, DisplayName: w.target.Host}}, nil
}

// FetchRecords downloads the export and splits it into vCard records.
// Query parameters are stripped from logged URLs since they may hold tokens.
// The response size is capped at MaxBytes; a truncated export is logged.
func (w *WebClient) FetchRecords(ctx context.Context, book engine.AddressBook) ([]string, error) {
	u, err := validateURL(book.ID)
	if err != nil {
		return nil, err
	}
	safeURL := u.Scheme + "://" + u.Host + u.Path

	log := slog.With(
		slog.String(config.LogKeyComponent, config.CompDirectory),
		slog.String(config.LogKeyURL, safeURL),
	)
	log.Debug(config.MsgDownloadStart)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, book.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error during fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		log.Warn(config.MsgDownloadStatus, slog.Int(config.LogKeyStatus, resp.StatusCode))
		return nil, fmt.Errorf("%s: %d %s", config.ErrUnexpectedStatus, resp.StatusCode, resp.Status)
	}

	log.Info(config.MsgDownloading, slog.Int64(config.LogKeyLength, resp.ContentLength))

	limit := w.MaxBytes
	if limit <= 0 {
		limit = config.MaxHTTPResponseSize
	}
	body := &cappedReader{r: resp.Body, remaining: limit}

	records, err := splitRecords(ctx, body, book.DisplayName)
	if body.truncated {
		log.Warn(config.MsgBodyTruncated,
			slog.Int64(config.LogKeyLimit, limit),
			slog.Int(config.LogKeyRecords, len(records)))
	}
	return records, err
}

// cappedReader stops at remaining bytes like io.LimitReader, but notes
// whether the source had more data.
type cappedReader struct {
	r         io.Reader
	remaining int64
	truncated bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.truncated {
		return 0, io.EOF
	}
	if c.remaining <= 0 {
		var one [1]byte
		if n, _ := c.r.Read(one[:]); n > 0 {
			c.truncated = true
		}
		return 0, io.EOF
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}

