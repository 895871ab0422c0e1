// Package dispatch runs the due-schedule dispatcher on a cron tick.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carelink/agent-portal/internal/schedules"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Dispatcher starts every schedule due at or before now.
type Dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (schedules.DispatchResult, error)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec checks a cron expression such as "*/5 * * * *" or "@every 1m".
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Scheduler calls the dispatcher on every tick. A tick that fires while the
// previous pass is still running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	target Dispatcher
	spec   string
	logger zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	now func() time.Time
}

func New(target Dispatcher, spec string, logger zerolog.Logger) (*Scheduler, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "dispatch").Logger()
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		target: target,
		spec:   spec,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Start registers the tick and starts the cron loop. It returns immediately;
// the loop stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("dispatch scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		s.cancel()
		return fmt.Errorf("register dispatch tick: %w", err)
	}
	s.started = true
	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Msg("dispatch scheduler started")

	go func() {
		<-s.ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the cron loop and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("dispatch scheduler stopped")
}

// RunOnce performs a single dispatch pass now.
func (s *Scheduler) RunOnce(ctx context.Context) (schedules.DispatchResult, error) {
	return s.target.DispatchDue(ctx, s.now())
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("dispatch pass failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
