package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
)

// FeedSnapshot is one complete, immutable published state.
type FeedSnapshot struct {
	Events      []CalendarEvent
	Calendar    []byte
	GeneratedAt time.Time
}

// FeedPublisher receives whole snapshots. Implementations must swap them
// atomically so readers never observe a partial set.
type FeedPublisher interface {
	Publish(snap FeedSnapshot)
}

// SnapshotHolder is implemented by publishers that can report whether they
// already hold a snapshot.
type SnapshotHolder interface {
	HasSnapshot() bool
}

// Connector builds a directory client from the startup settings.
type Connector func(s *config.Settings) (DirectoryClient, error)

// Publish generates events for entries and hands the snapshot to pub.
//
// An empty entry list leaves the previously published snapshot in place and
// returns false. A SnapshotHolder that holds nothing yet receives an empty
// snapshot instead, so a directory without birthdays still gets a feed.
func Publish(pub FeedPublisher, entries []BirthdayEntry, asOf time.Time, opts CalendarOptions) (bool, error) {
	log := slog.With(config.LogKeyComponent, config.CompEngine)

	if len(entries) == 0 {
		if h, ok := pub.(SnapshotHolder); ok && !h.HasSnapshot() {
			log.Info(config.MsgPublishEmpty)
			pub.Publish(FeedSnapshot{
				Events:      []CalendarEvent{},
				Calendar:    []byte(config.StubVCalendar),
				GeneratedAt: asOf,
			})
			return true, nil
		}
		log.Info(config.MsgListEmpty)
		return false, nil
	}
	log.Info(config.MsgBirthdaysFound, config.LogKeyFound, len(entries))

	events := GenerateEvents(entries, asOf)
	data, err := EncodeCalendar(events, asOf, opts)
	if err != nil {
		return false, err
	}

	pub.Publish(FeedSnapshot{
		Events:      events,
		Calendar:    data,
		GeneratedAt: asOf,
	})

	yearly := 0
	for _, e := range events {
		if e.Recurrence == RecurrenceYearly {
			yearly++
		}
	}
	log.Info(config.MsgGenSuccess,
		config.LogKeyEvents, len(events),
		config.LogKeyYearly, yearly,
		config.LogKeySizeBytes, len(data))
	return true, nil
}

// Service runs the aggregate -> generate -> publish pipeline.
type Service struct {
	Clock     Clock
	Connect   Connector
	Publisher FeedPublisher

	// Options is applied to every serialized calendar.
	Options CalendarOptions
}

// Refresh performs one pipeline run. The clock is read once so every
// year-boundary decision in the run uses the same as-of time.
//
// A failed run leaves the published snapshot untouched.
func (s *Service) Refresh(ctx context.Context, settings *config.Settings) error {
	if settings == nil {
		return errors.New(config.ErrSettingsMissing)
	}
	if s.Connect == nil {
		return errors.New(config.ErrConnectorMissing)
	}
	if s.Publisher == nil {
		return errors.New(config.ErrPublisherMissing)
	}

	start := time.Now()
	asOf := s.Clock.Now()
	log := slog.With(
		config.LogKeyComponent, config.CompEngine,
		config.LogKeySource, settings.Source,
	)
	log.InfoContext(ctx, config.MsgPipelineStart, config.LogKeyAsOf, asOf)

	client, err := s.Connect(settings)
	if err != nil {
		return s.fail(log, &AggregationFailedError{Stage: config.ErrConnect, Cause: err})
	}

	entries, err := Aggregate(ctx, client, asOf)
	if err != nil {
		return s.fail(log, err)
	}

	if _, err := Publish(s.Publisher, entries, asOf, s.Options); err != nil {
		return s.fail(log, err)
	}

	log.Debug(config.MsgPipelineDone, config.LogKeyDuration, time.Since(start).Milliseconds())
	return nil
}

func (s *Service) fail(log *slog.Logger, err error) error {
	log.Error(config.MsgPipelineFailed, config.LogKeyError, err)
	return err
}

// Snapshot runs the pipeline once and returns the serialized calendar
// without touching any publisher. Used by one-shot exports.
func (s *Service) Snapshot(ctx context.Context, settings *config.Settings) (FeedSnapshot, error) {
	var snap FeedSnapshot
	capture := publisherFunc(func(fs FeedSnapshot) { snap = fs })

	run := *s
	run.Publisher = capture
	if err := run.Refresh(ctx, settings); err != nil {
		return FeedSnapshot{}, err
	}
	return snap, nil
}

type publisherFunc func(FeedSnapshot)

func (f publisherFunc) Publish(snap FeedSnapshot) { f(snap) }
