// Package maintenance runs the background idle-recovery sweep
// (component C6): a periodic job, independent of request handling,
// that restores health scores for providers that have sat untouched
// long enough to qualify for idle recovery (spec.md §4.1), even when
// no inbound request arrives to trigger the lazy check in
// [proxy.Registry.Snapshot].
package maintenance

import (
	"log/slog"
	"time"

	"github.com/mintya/autoproxy/internal/proxy"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep once a minute.
const DefaultSchedule = "@every 1m"

// Sweeper drives registry.IdleRecovery on a cron schedule. It never
// touches cursor or preferred_name — idle recovery only ever raises
// score.
type Sweeper struct {
	registry *proxy.Registry
	logger   *slog.Logger
	schedule string
	now      func() time.Time

	cron *cron.Cron
}

// Option configures optional Sweeper behavior.
type Option func(*Sweeper)

// WithLogger injects a structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSchedule overrides the cron schedule expression (default: once a
// minute).
func WithSchedule(expr string) Option {
	return func(s *Sweeper) { s.schedule = expr }
}

// New builds a Sweeper bound to a Registry.
func New(registry *proxy.Registry, opts ...Option) *Sweeper {
	s := &Sweeper{
		registry: registry,
		logger:   slog.Default(),
		schedule: DefaultSchedule,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the sweep and returns immediately; the cron job runs
// on its own goroutine until Stop is called.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, s.tick)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight tick to
// finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) tick() {
	now := s.now()
	s.registry.IdleRecovery(now)

	var recovering int
	for _, snap := range s.registry.Snapshot() {
		if snap.Score < 100 {
			recovering++
		}
	}
	s.logger.Debug("maintenance sweep complete", "providers_below_max", recovering)
}
