package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/engine"
	"golang.org/x/crypto/bcrypt"
)

// cacheItem is one published feed state plus its HTTP caching metadata.
type cacheItem struct {
	snapshot     engine.FeedSnapshot
	etag         string
	lastModified string // RFC1123 format required by HTTP headers
}

// CalendarServer serves the published birthday feed over HTTP.
type CalendarServer struct {
	// cache uses atomic.Pointer for lock-free reads: the feed is read often
	// and replaced only once per refresh.
	cache atomic.Pointer[cacheItem]

	Listen   string
	FeedPath string
	Auth     *config.FeedAuth

	// Clock is used for the upcoming listing.
	Clock engine.Clock
}

// NewCalendarServer creates a server with an empty feed state.
func NewCalendarServer(listen, feedPath string) *CalendarServer {
	if feedPath == "" {
		feedPath = config.DefaultFeedPath
	}
	return &CalendarServer{
		Listen:   listen,
		FeedPath: feedPath,
		Clock:    engine.RealClock{},
	}
}

// Handler builds the route table.
func (s *CalendarServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.FeedPath, s.requireAuth(s.handleCalendarRequest))
	mux.HandleFunc(s.FeedPath+config.SuffixJSON, s.requireAuth(s.handleUpcomingRequest))
	mux.HandleFunc(config.RouteHealth, s.handleHealth)
	return mux
}

// Start serves HTTP and blocks until the context is cancelled.
func (s *CalendarServer) Start(ctx context.Context) error {
	if s.Listen == "" {
		return errors.New(config.ErrListenRequired)
	}

	srv := &http.Server{
		Addr:         s.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverError := make(chan error, config.ChannelBufferSize)

	go func() {
		slog.Info(config.MsgServerListen,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyListen, s.Listen,
			config.LogKeyPath, s.FeedPath,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info(config.MsgServerStop, config.LogKeyComponent, config.CompServer)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: %w", config.ErrServerShutdown, err)
		}
		return nil

	case err := <-serverError:
		return fmt.Errorf("%s: %w", config.ErrServerStartup, err)
	}
}

// Publish atomically replaces the served feed. Concurrent readers see
// either the old or the new snapshot, never a mix.
func (s *CalendarServer) Publish(snap engine.FeedSnapshot) {
	hash := sha256.Sum256(snap.Calendar)
	etag := fmt.Sprintf(config.FormatETag, hex.EncodeToString(hash[:]))

	s.cache.Store(&cacheItem{
		snapshot:     snap,
		etag:         etag,
		lastModified: snap.GeneratedAt.UTC().Format(http.TimeFormat),
	})

	slog.Debug(config.MsgCacheUpdated,
		config.LogKeyComponent, config.CompServer,
		config.LogKeySizeBytes, len(snap.Calendar),
		config.LogKeyEvents, len(snap.Events),
		config.LogKeyETag, etag,
	)
}

// HasSnapshot reports whether anything has been published yet.
func (s *CalendarServer) HasSnapshot() bool {
	return s.cache.Load() != nil
}

// CurrentEvents returns a copy of the published event set; empty before
// the first publish.
func (s *CalendarServer) CurrentEvents() []engine.CalendarEvent {
	item := s.cache.Load()
	if item == nil {
		return []engine.CalendarEvent{}
	}
	out := make([]engine.CalendarEvent, len(item.snapshot.Events))
	copy(out, item.snapshot.Events)
	return out
}

// GeneratedAt returns the as-of time of the published snapshot.
func (s *CalendarServer) GeneratedAt() (time.Time, bool) {
	item := s.cache.Load()
	if item == nil {
		return time.Time{}, false
	}
	return item.snapshot.GeneratedAt, true
}

// requireAuth enforces HTTP Basic auth when a feed password hash is configured.
func (s *CalendarServer) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.Auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Auth.Username ||
			bcrypt.CompareHashAndPassword([]byte(s.Auth.PasswordHash), []byte(pass)) != nil {
			slog.Warn(config.MsgAuthRejected,
				config.LogKeyComponent, config.CompServer,
				config.LogKeyUser, user)
			w.Header().Set(config.HeaderWWWAuthenticate, config.AuthRealm)
			http.Error(w, config.HTTPMsgUnauthorized, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// loadForRead validates the method and returns the current item, writing
// the error response itself when it returns nil.
func (s *CalendarServer) loadForRead(w http.ResponseWriter, r *http.Request) *cacheItem {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set(config.HeaderAllow, config.AllowedMethods)
		http.Error(w, config.HTTPMsgMethodNotAll, http.StatusMethodNotAllowed)
		return nil
	}

	item := s.cache.Load()
	if item == nil {
		w.Header().Set(config.HeaderRetryAfter, config.RetryAfterSeconds)
		http.Error(w, config.HTTPMsgInitializing, http.StatusServiceUnavailable)
		return nil
	}
	return item
}

// handleCalendarRequest serves the ICS content with HTTP caching support.
func (s *CalendarServer) handleCalendarRequest(w http.ResponseWriter, r *http.Request) {
	item := s.loadForRead(w, r)
	if item == nil {
		return
	}

	w.Header().Set(config.HeaderContentType, config.MimeTextCalendar)
	w.Header().Set(config.HeaderXContentType, config.MimeNoSniff)
	w.Header().Set(config.HeaderCacheControl, config.CacheControlPrivate)
	w.Header().Set(config.HeaderETag, item.etag)
	w.Header().Set(config.HeaderLastModified, item.lastModified)

	if match := r.Header.Get(config.HeaderIfNoneMatch); match == item.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if since := r.Header.Get(config.HeaderIfModifiedSince); since != "" {
		if clientTime, err := time.Parse(http.TimeFormat, since); err == nil {
			if serverTime, err := time.Parse(http.TimeFormat, item.lastModified); err == nil {
				if !serverTime.After(clientTime) {
					w.WriteHeader(http.StatusNotModified)
					return
				}
			}
		}
	}

	if r.Method == http.MethodGet {
		if _, err := io.Copy(w, bytes.NewReader(item.snapshot.Calendar)); err != nil {
			slog.Error(config.ErrWriteResp,
				config.LogKeyComponent, config.CompServer,
				config.LogKeyError, err,
			)
		}
	}
}

// handleUpcomingRequest lists published birthdays by next occurrence.
func (s *CalendarServer) handleUpcomingRequest(w http.ResponseWriter, r *http.Request) {
	item := s.loadForRead(w, r)
	if item == nil {
		return
	}

	list := engine.Upcoming(item.snapshot.Events, s.Clock.Now())

	w.Header().Set(config.HeaderContentType, config.MimeJSON)
	w.Header().Set(config.HeaderCacheControl, config.CacheControlPrivate)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(list); err != nil {
		slog.Error(config.ErrWriteResp,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyError, err,
		)
	}
}

type healthResponse struct {
	Ready       bool      `json:"ready"`
	Events      int       `json:"events"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
}

func (s *CalendarServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{}
	if item := s.cache.Load(); item != nil {
		resp.Ready = true
		resp.Events = len(item.snapshot.Events)
		resp.GeneratedAt = item.snapshot.GeneratedAt
	}

	w.Header().Set(config.HeaderContentType, config.MimeJSON)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error(config.ErrWriteResp,
			config.LogKeyComponent, config.CompServer,
			config.LogKeyError, err,
		)
	}
}
