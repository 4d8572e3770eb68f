package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/engine"
	"golang.org/x/crypto/bcrypt"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testAsOf = time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)

func testSnapshot(data string, events ...engine.CalendarEvent) engine.FeedSnapshot {
	return engine.FeedSnapshot{
		Events:      events,
		Calendar:    []byte(data),
		GeneratedAt: testAsOf,
	}
}

func newTestServer() *CalendarServer {
	srv := NewCalendarServer("", "")
	srv.Clock = fixedClock{testAsOf}
	return srv
}

// -----------------------------------------------------------------------------
// Unit Tests (White-Box Testing of Handler Logic)
// -----------------------------------------------------------------------------

// TestHandler_ServingContent verifies that the handler correctly writes
// the standard HTTP headers and body content when data is available.
func TestHandler_ServingContent(t *testing.T) {
	srv := newTestServer()
	expectedICS := []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR")
	srv.Publish(testSnapshot(string(expectedICS)))

	req := httptest.NewRequest(http.MethodGet, config.DefaultFeedPath, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, config.MimeTextCalendar, resp.Header.Get(config.HeaderContentType))
	assert.Equal(t, config.MimeNoSniff, resp.Header.Get(config.HeaderXContentType))
	assert.Contains(t, resp.Header.Get(config.HeaderCacheControl), "no-cache")
	assert.NotEmpty(t, resp.Header.Get(config.HeaderETag))
	assert.Equal(t, testAsOf.Format(http.TimeFormat), resp.Header.Get(config.HeaderLastModified))

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, expectedICS, body)
}

func TestHandler_HeadHasNoBody(t *testing.T) {
	srv := newTestServer()
	srv.Publish(testSnapshot("BEGIN:VCALENDAR"))

	req := httptest.NewRequest(http.MethodHead, config.DefaultFeedPath, nil)
	w := httptest.NewRecorder()
	srv.handleCalendarRequest(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(config.HeaderETag))
	assert.Empty(t, w.Body.Bytes())
}

// TestHandler_Caching verifies that the server respects ETag headers (If-None-Match)
// and returns 304 Not Modified to save bandwidth.
func TestHandler_Caching(t *testing.T) {
	srv := newTestServer()
	srv.Publish(testSnapshot("DATA_VERSION_1"))

	req1 := httptest.NewRequest(http.MethodGet, config.DefaultFeedPath, nil)
	w1 := httptest.NewRecorder()
	srv.handleCalendarRequest(w1, req1)

	etag := w1.Result().Header.Get(config.HeaderETag)
	require.NotEmpty(t, etag, "Server must provide an ETag")

	req2 := httptest.NewRequest(http.MethodGet, config.DefaultFeedPath, nil)
	req2.Header.Set(config.HeaderIfNoneMatch, etag)
	w2 := httptest.NewRecorder()
	srv.handleCalendarRequest(w2, req2)

	resp2 := w2.Result()
	defer func() { _ = resp2.Body.Close() }()

	assert.Equal(t, http.StatusNotModified, resp2.StatusCode)
	body, _ := io.ReadAll(resp2.Body)
	assert.Empty(t, body, "Body must be empty on 304 Not Modified")

	// A new snapshot changes the ETag.
	srv.Publish(testSnapshot("DATA_VERSION_2"))
	w3 := httptest.NewRecorder()
	srv.handleCalendarRequest(w3, req2)
	assert.Equal(t, http.StatusOK, w3.Code)
	assert.NotEqual(t, etag, w3.Header().Get(config.HeaderETag))
}

func TestHandler_IfModifiedSince(t *testing.T) {
	srv := newTestServer()
	srv.Publish(testSnapshot("DATA"))

	tests := []struct {
		name  string
		since time.Time
		want  int
	}{
		{"same instant", testAsOf, http.StatusNotModified},
		{"client newer", testAsOf.Add(time.Hour), http.StatusNotModified},
		{"client older", testAsOf.Add(-time.Hour), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, config.DefaultFeedPath, nil)
			req.Header.Set(config.HeaderIfModifiedSince, tt.since.Format(http.TimeFormat))
			w := httptest.NewRecorder()
			srv.handleCalendarRequest(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

// TestHandler_MethodNotAllowed ensures strictly GET and HEAD are accepted.
func TestHandler_MethodNotAllowed(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodPost, config.DefaultFeedPath, nil)
	w := httptest.NewRecorder()
	srv.handleCalendarRequest(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, config.AllowedMethods, resp.Header.Get(config.HeaderAllow))
}

// TestHandler_Initializing verifies the 503 behavior before the first publish.
func TestHandler_Initializing(t *testing.T) {
	srv := newTestServer()

	for _, path := range []string{config.DefaultFeedPath, config.DefaultFeedPath + config.SuffixJSON} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Equal(t, config.RetryAfterSeconds, w.Header().Get(config.HeaderRetryAfter), path)
	}
}

// staticDirectory serves fixed records from one address book.
type staticDirectory struct{ records []string }

func (d staticDirectory) Login(context.Context) error { return nil }

func (d staticDirectory) ListAddressBooks(context.Context) ([]engine.AddressBook, error) {
	return []engine.AddressBook{{ID: "family", DisplayName: "Family"}}, nil
}

func (d staticDirectory) FetchRecords(context.Context, engine.AddressBook) ([]string, error) {
	return d.records, nil
}

// TestHandler_RefreshWithoutBirthdays serves an empty calendar once a
// refresh succeeded even though no contact had a birthday.
func TestHandler_RefreshWithoutBirthdays(t *testing.T) {
	srv := newTestServer()
	svc := &engine.Service{
		Clock: fixedClock{testAsOf},
		Connect: func(*config.Settings) (engine.DirectoryClient, error) {
			return staticDirectory{records: []string{"BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Nobody\r\nEND:VCARD\r\n"}}, nil
		},
		Publisher: srv,
	}
	require.NoError(t, svc.Refresh(context.Background(), config.DefaultSettings()))

	req := httptest.NewRequest(http.MethodGet, config.DefaultFeedPath, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, config.StubVCalendar, w.Body.String())
	assert.Empty(t, srv.CurrentEvents())

	// A later empty run keeps what is already published.
	srv.Publish(testSnapshot("DATA", engine.CalendarEvent{Title: "A"}))
	require.NoError(t, svc.Refresh(context.Background(), config.DefaultSettings()))
	assert.Len(t, srv.CurrentEvents(), 1)
}

func TestHandler_UnknownPath(t *testing.T) {
	srv := newTestServer()
	srv.Publish(testSnapshot("DATA"))

	req := httptest.NewRequest(http.MethodGet, "/elsewhere", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Upcoming(t *testing.T) {
	srv := newTestServer()
	srv.Publish(testSnapshot("DATA",
		engine.CalendarEvent{
			Title:     "Zoe",
			Date:      engine.CalendarDate{Year: 1990, Month: time.May, Day: 1},
			YearKnown: true,
			Book:      "Family",
		},
		engine.CalendarEvent{
			Title: "Adam",
			Date:  engine.CalendarDate{Year: 2024, Month: time.April, Day: 20},
			Book:  "Work",
		},
	))

	req := httptest.NewRequest(http.MethodGet, config.DefaultFeedPath+config.SuffixJSON, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, config.MimeJSON, w.Header().Get(config.HeaderContentType))

	var list []engine.UpcomingBirthday
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)

	assert.Equal(t, "Adam", list[0].Name)
	assert.Zero(t, list[0].AgeNext)
	assert.Equal(t, "Zoe", list[1].Name)
	assert.Equal(t, 34, list[1].AgeNext)
}

func TestHandler_Health(t *testing.T) {
	srv := newTestServer()

	get := func() healthResponse {
		req := httptest.NewRequest(http.MethodGet, config.RouteHealth, nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var resp healthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	assert.False(t, get().Ready)

	srv.Publish(testSnapshot("DATA", engine.CalendarEvent{Title: "A"}))
	resp := get()
	assert.True(t, resp.Ready)
	assert.Equal(t, 1, resp.Events)
}

func TestHandler_BasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	srv := newTestServer()
	srv.Auth = &config.FeedAuth{Username: "mirror", PasswordHash: string(hash)}
	srv.Publish(testSnapshot("DATA"))
	h := srv.Handler()

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		want       int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "mirror", "nope", true, http.StatusUnauthorized},
		{"wrong user", "other", "s3cret", true, http.StatusUnauthorized},
		{"valid", "mirror", "s3cret", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, config.DefaultFeedPath, nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, config.AuthRealm, w.Header().Get(config.HeaderWWWAuthenticate))
			}
		})
	}

	// Health stays public.
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, config.RouteHealth, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCurrentEvents(t *testing.T) {
	srv := newTestServer()
	assert.Empty(t, srv.CurrentEvents())
	_, ok := srv.GeneratedAt()
	assert.False(t, ok)

	srv.Publish(testSnapshot("A", engine.CalendarEvent{Title: "One"}))
	events := srv.CurrentEvents()
	require.Len(t, events, 1)

	// Mutating the returned slice must not leak into the published state.
	events[0].Title = "Changed"
	assert.Equal(t, "One", srv.CurrentEvents()[0].Title)

	at, ok := srv.GeneratedAt()
	assert.True(t, ok)
	assert.Equal(t, testAsOf, at)
}

// -----------------------------------------------------------------------------
// Concurrency Tests (Race Detection)
// -----------------------------------------------------------------------------

// TestServer_RaceCondition validates that readers always see a complete
// snapshot while writers keep publishing. Run this with `go test -race`.
func TestServer_RaceCondition(t *testing.T) {
	srv := newTestServer()
	var wg sync.WaitGroup

	end := time.Now().Add(500 * time.Millisecond)

	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			i := 0
			for time.Now().Before(end) {
				n := i%3 + 1
				events := make([]engine.CalendarEvent, n)
				for k := range events {
					events[k] = engine.CalendarEvent{Title: fmt.Sprintf("%d", n)}
				}
				srv.Publish(testSnapshot(fmt.Sprintf("VERSION:%d-%d", id, i), events...))
				i++
				time.Sleep(1 * time.Microsecond)
			}
		}(w)
	}

	for r := 0; r < 20; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				req := httptest.NewRequest(http.MethodGet, config.DefaultFeedPath, nil)
				w := httptest.NewRecorder()
				srv.handleCalendarRequest(w, req)

				code := w.Code
				if code != http.StatusOK && code != http.StatusServiceUnavailable {
					t.Errorf("Unexpected status code during race test: %d", code)
				}

				// Every event in one snapshot carries the snapshot's size.
				events := srv.CurrentEvents()
				for _, e := range events {
					if e.Title != fmt.Sprintf("%d", len(events)) {
						t.Errorf("Observed a mixed snapshot: %d events, title %q", len(events), e.Title)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
}

// -----------------------------------------------------------------------------
// Integration Tests (Real TCP Lifecycle)
// -----------------------------------------------------------------------------

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// TestServer_Lifecycle spins up the actual TCP listener to verify network binding
// and graceful shutdown logic.
func TestServer_Lifecycle(t *testing.T) {
	addr := freeAddr(t)
	srv := NewCalendarServer(addr, "")
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- srv.Start(ctx)
	}()

	url := "http://" + addr + config.DefaultFeedPath

	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, 2*time.Second, 50*time.Millisecond, "Server failed to bind/listen in time")

	resp, err := http.Get(url)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	srv.Publish(testSnapshot("BEGIN:VCALENDAR\nEND:VCALENDAR"))

	resp, err = http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, config.MimeTextCalendar, resp.Header.Get(config.HeaderContentType))

	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")

	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err, "Server should shutdown gracefully without error")
	case <-time.After(5 * time.Second):
		t.Fatal("Server shutdown timed out")
	}
}

func TestServer_StartRequiresListen(t *testing.T) {
	srv := NewCalendarServer("", "")
	err := srv.Start(context.Background())
	assert.ErrorContains(t, err, config.ErrListenRequired)
}
