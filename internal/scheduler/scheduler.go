// Package scheduler drives the refresh pipeline on a fixed period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ulrichwisser/MMM-CardDavBirthdaysProvider/internal/config"
)

// State is the scheduler lifecycle: Idle until configured, then Armed
// between runs and Running during one.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// Refresher runs one pipeline cycle.
type Refresher interface {
	Refresh(ctx context.Context, settings *config.Settings) error
}

// Scheduler owns the refresh timer. Runs never overlap: the next run is
// scheduled from the moment the previous one settles.
type Scheduler struct {
	refresher   Refresher
	now         func() time.Time
	newSchedule func(*config.Settings) (cron.Schedule, error)

	mu       sync.Mutex
	state    State
	settings *config.Settings
	schedule cron.Schedule

	armed   chan struct{}
	trigger chan struct{}
}

// New returns an Idle scheduler.
func New(r Refresher) *Scheduler {
	return &Scheduler{
		refresher:   r,
		now:         time.Now,
		newSchedule: BuildSchedule,
		armed:       make(chan struct{}),
		trigger:     make(chan struct{}, config.ChannelBufferSize),
	}
}

// BuildSchedule returns the cron schedule when RefreshCron is set, otherwise
// a constant delay of RefreshPeriod (default one hour).
func BuildSchedule(s *config.Settings) (cron.Schedule, error) {
	if s.RefreshCron != "" {
		sched, err := cron.ParseStandard(s.RefreshCron)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.ErrSchedule, err)
		}
		return sched, nil
	}
	period := s.RefreshPeriod
	if period <= 0 {
		period = config.DefaultRefreshPeriod
	}
	return cron.Every(period), nil
}

// Configure arms the scheduler with the startup settings. Only the first
// call has an effect; later calls are ignored and return false.
func (s *Scheduler) Configure(settings *config.Settings) (bool, error) {
	if settings == nil {
		return false, errors.New(config.ErrSettingsMissing)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := slog.With(config.LogKeyComponent, config.CompScheduler)
	if s.state != StateIdle {
		log.Info(config.MsgSchedIgnored, config.LogKeyState, s.state.String())
		return false, nil
	}

	sched, err := s.newSchedule(settings)
	if err != nil {
		return false, err
	}

	s.settings = settings
	s.schedule = sched
	s.state = StateArmed
	close(s.armed)

	log.Info(config.MsgSchedArmed,
		config.LogKeySource, settings.Source,
		config.LogKeyPeriod, settings.RefreshPeriod)
	return true, nil
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Trigger requests an immediate run. It returns false when the scheduler is
// not configured or a request is already pending.
func (s *Scheduler) Trigger() bool {
	if s.State() == StateIdle {
		slog.Info(config.MsgSchedNotArmed, config.LogKeyComponent, config.CompScheduler)
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		slog.Debug(config.MsgSchedCoalesced, config.LogKeyComponent, config.CompScheduler)
		return false
	}
}

// Run blocks until ctx is cancelled. Nothing runs while Idle; once armed,
// one run starts immediately and the next is scheduled after each run.
func (s *Scheduler) Run(ctx context.Context) error {
	log := slog.With(config.LogKeyComponent, config.CompScheduler)

	select {
	case <-ctx.Done():
		log.Info(config.MsgSchedStop)
		return nil
	case <-s.armed:
	}

	s.runOnce(ctx)

	for {
		now := s.now()
		next := s.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))
		log.Debug(config.MsgSchedNext, config.LogKeyNext, next)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info(config.MsgSchedStop)
			return nil
		case <-s.trigger:
			timer.Stop()
			s.runOnce(ctx)
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	s.state = StateRunning
	settings := s.settings
	s.mu.Unlock()

	// Failures are logged by the refresher; the next run is scheduled regardless.
	_ = s.refresher.Refresh(ctx, settings)

	s.mu.Lock()
	s.state = StateArmed
	s.mu.Unlock()
}
