// Package schedule drives periodic cycles with robfig/cron. Runs never
// overlap and a panicking run does not stop the schedule.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSpec runs a cycle every ten seconds.
const DefaultSpec = "@every 10s"

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

var specParser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSpec validates a schedule. Both five-field and six-field (with
// seconds) expressions are accepted, as are descriptors like "@every 10s".
func ParseSpec(spec string) (cronlib.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	sched, err := specParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Scheduler runs a Job on a cron schedule.
type Scheduler struct {
	cron    *cronlib.Cron
	sched   cronlib.Schedule
	job     Job
	log     zerolog.Logger
	wrapped cronlib.Job

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	runs   int
}

// New builds a scheduler for job. It does not start it.
func New(spec string, job Job, log zerolog.Logger) (*Scheduler, error) {
	sched, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("component", "scheduler").Logger()
	cronLog := cronLogger{log: log}
	s := &Scheduler{
		cron:  cronlib.New(cronlib.WithLogger(cronLog), cronlib.WithLocation(time.UTC)),
		sched: sched,
		job:   job,
		log:   log,
		ctx:   context.Background(),
	}
	s.wrapped = cronlib.NewChain(
		cronlib.Recover(cronLog),
		cronlib.SkipIfStillRunning(cronLog),
	).Then(cronlib.FuncJob(s.runOnce))
	s.cron.Schedule(sched, s.wrapped)
	return s, nil
}

func (s *Scheduler) runOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.runs++
	run := s.runs
	s.mu.Unlock()

	log := s.log.With().Int("run", run).Logger()
	start := time.Now()
	if err := s.job(log.WithContext(ctx)); err != nil {
		log.Err(err).Dur("elapsed", time.Since(start)).Msg("Scheduled cycle failed")
		return
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("Scheduled cycle finished")
}

// Start begins firing the job. Runs receive a context derived from ctx that
// is canceled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.log.Info().Time("next_run", s.sched.Next(time.Now())).Msg("Starting scheduler")
	s.cron.Start()
}

// Stop halts the schedule, cancels the running job and waits for it to return.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-stopped.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

// cronLogger adapts zerolog to cron's logr-style logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
