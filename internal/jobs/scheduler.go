package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TriggerCron marks runs started by the scheduler.
const TriggerCron = "cron"

// Scheduler publishes job runs on cron schedules.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	log        zerolog.Logger
	ctx        context.Context
}

// NewScheduler creates a Scheduler. ctx is handed to every triggered publish.
func NewScheduler(ctx context.Context, dispatcher *Dispatcher, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		dispatcher: dispatcher,
		log:        log,
		ctx:        ctx,
	}
}

// Add schedules t with a five-field cron spec. An empty spec leaves t unscheduled.
func (s *Scheduler) Add(t JobType, spec string) error {
	if spec == "" {
		return nil
	}
	if _, ok := s.dispatcher.runner(t); !ok {
		return fmt.Errorf("Add: no runner registered for job type %q", t)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.fire(t) }); err != nil {
		return fmt.Errorf("Add: invalid schedule %q for %s: %w", spec, t, err)
	}
	s.log.Info().Str("job_type", string(t)).Str("schedule", spec).Msg("Job scheduled")
	return nil
}

// AddAll schedules every entry of specs whose type has a runner. Types without a
// runner are skipped with a warning.
func (s *Scheduler) AddAll(specs map[JobType]string) error {
	types := make([]JobType, 0, len(specs))
	for t := range specs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		if _, ok := s.dispatcher.runner(t); !ok {
			s.log.Warn().Str("job_type", string(t)).Msg("Job not available, schedule ignored")
			continue
		}
		if err := s.Add(t, specs[t]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) fire(t JobType) {
	run, err := s.dispatcher.Trigger(s.ctx, t, TriggerCron)
	switch {
	case apperr.IsConflict(err):
		s.log.Info().Str("job_type", string(t)).Msg("Previous run still active, tick skipped")
	case err != nil:
		s.log.Error().Err(err).Str("job_type", string(t)).Msg("Failed to trigger scheduled job")
	default:
		s.log.Info().Str("job_type", string(t)).Str("job_id", run.JobID).Msg("Scheduled job enqueued")
	}
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and returns a context done once running ticks finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports how many schedules are active.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
