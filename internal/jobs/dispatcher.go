package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/google/uuid"
)

// Runner executes one batch starting at cursor. It returns a JSON-encodable summary
// and the cursor to resume from, which is empty once the batch is complete.
type Runner func(ctx context.Context, cursor string) (summary any, next string, err error)

// Dispatcher maps job types to runners. It publishes runs and handles them when the
// queue delivers them.
type Dispatcher struct {
	mu        sync.Mutex
	runners   map[JobType]Runner
	publisher Publisher
	store     JobStore
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher. publisher may be nil for synchronous use.
func NewDispatcher(publisher Publisher, store JobStore) *Dispatcher {
	return &Dispatcher{
		runners:   make(map[JobType]Runner),
		publisher: publisher,
		store:     store,
		now:       time.Now,
	}
}

// Register binds a runner to a job type.
func (d *Dispatcher) Register(t JobType, r Runner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runners[t] = r
}

// Types lists the registered job types.
func (d *Dispatcher) Types() []JobType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]JobType, 0, len(d.runners))
	for t := range d.runners {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Dispatcher) runner(t JobType) (Runner, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.runners[t]
	return r, ok
}

// Trigger publishes a new run of t. Only one active run per type is allowed.
func (d *Dispatcher) Trigger(ctx context.Context, t JobType, trigger string) (*JobRun, error) {
	if _, ok := d.runner(t); !ok {
		return nil, apperr.Validation("Unknown job type: %s", t)
	}
	if d.publisher == nil {
		return nil, fmt.Errorf("Trigger: no publisher configured")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.store != nil {
		active, err := d.store.ListJobs(ctx, JobFilter{Type: t, ActiveOnly: true, Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("Trigger: listing active runs: %w", err)
		}
		if len(active) > 0 {
			return nil, apperr.Conflict("A %s run is already in progress", t)
		}
	}

	run := &JobRun{
		JobID:     uuid.NewString(),
		Type:      t,
		Trigger:   trigger,
		Status:    JobStatusPending,
		CreatedAt: d.now().UTC(),
	}
	if err := d.publisher.Publish(ctx, run); err != nil {
		return nil, fmt.Errorf("Trigger: publishing %s run: %w", t, err)
	}
	cp := *run
	return &cp, nil
}

// Handle is the JobHandler for the queue. It runs the batch from run.Cursor and
// records the summary and resume cursor on run.
func (d *Dispatcher) Handle(ctx context.Context, run *JobRun) error {
	r, ok := d.runner(run.Type)
	if !ok {
		run.MaxRetries = run.RetryCount
		return fmt.Errorf("no runner registered for job type %q", run.Type)
	}

	summary, next, err := r(ctx, run.Cursor)
	if summary != nil {
		raw, mErr := json.Marshal(summary)
		if mErr == nil {
			run.Summary = raw
		}
	}
	run.Cursor = next
	return err
}

// RunNow executes a run of t synchronously, starting at cursor, and records it.
func (d *Dispatcher) RunNow(ctx context.Context, t JobType, cursor, trigger string) (*JobRun, error) {
	if _, ok := d.runner(t); !ok {
		return nil, apperr.Validation("Unknown job type: %s", t)
	}

	started := d.now().UTC()
	run := &JobRun{
		JobID:     uuid.NewString(),
		Type:      t,
		Trigger:   trigger,
		Status:    JobStatusRunning,
		Cursor:    cursor,
		CreatedAt: started,
		StartedAt: &started,
	}
	d.save(ctx, run)

	err := d.Handle(ctx, run)
	completed := d.now().UTC()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = JobStatusFailed
		run.Error = err.Error()
	} else {
		run.Status = JobStatusCompleted
	}
	d.save(ctx, run)
	return run, err
}

// save records run. A store failure is logged; the run itself carries on.
func (d *Dispatcher) save(ctx context.Context, run *JobRun) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveJob(ctx, run); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).
			Str("job_id", run.JobID).
			Str("job_type", string(run.Type)).
			Str("status", string(run.Status)).
			Msg("Failed to save job run")
	}
}
