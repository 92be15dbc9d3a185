// Package housekeeping runs the periodic background jobs of a Junction
// server: presence decay, presence snapshots and the pending-request drain.
package housekeeping

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/junction/internal/chaterr"
	"github.com/zulandar/junction/internal/models"
)

// Job names, used in log lines.
const (
	JobSweep    = "presence-sweep"
	JobSnapshot = "presence-snapshot"
	JobDrain    = "pending-drain"
)

const (
	drainAttempts = 3
	drainBackoff  = 200 * time.Millisecond
)

// Chat is the subset of chat.Service the jobs call.
type Chat interface {
	SweepPresence(ctx context.Context, now time.Time) int
	SnapshotPresence(ctx context.Context) error
	DrainPending(ctx context.Context) ([]models.Conversation, error)
}

// Schedules holds one cron expression per job. An empty expression
// disables that job.
type Schedules struct {
	Sweep    string
	Snapshot string
	Drain    string
}

// Runner owns the cron scheduler.
type Runner struct {
	chat    Chat
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
	timeout time.Duration
}

// Opts holds parameters for New.
type Opts struct {
	Chat      Chat
	Schedules Schedules
	Timeout   time.Duration    // per-run deadline; defaults to 30s
	Now       func() time.Time // defaults to time.Now
}

// New validates the schedules and registers the jobs. Nothing runs until
// Start.
func New(opts Opts) (*Runner, error) {
	if opts.Chat == nil {
		return nil, fmt.Errorf("housekeeping: chat service is required")
	}
	r := &Runner{
		chat:    opts.Chat,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:     opts.Now,
		timeout: opts.Timeout,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		name string
		expr string
		run  func(context.Context)
	}{
		{JobSweep, opts.Schedules.Sweep, r.Sweep},
		{JobSnapshot, opts.Schedules.Snapshot, r.Snapshot},
		{JobDrain, opts.Schedules.Drain, r.Drain},
	}
	for _, j := range jobs {
		if j.expr == "" {
			continue
		}
		run := j.run
		if _, err := r.cron.AddFunc(j.expr, func() { r.invoke(run) }); err != nil {
			return nil, fmt.Errorf("housekeeping: schedule %s %q: %w", j.name, j.expr, err)
		}
	}
	return r, nil
}

// Entries reports how many jobs are scheduled.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

// Start begins running jobs in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop cancels in-flight jobs and waits for them to return. A final
// snapshot is taken so a restart sees fresh presence.
func (r *Runner) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.Snapshot(ctx)
}

func (r *Runner) invoke(run func(context.Context)) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	run(ctx)
}

// Sweep applies presence decay.
func (r *Runner) Sweep(ctx context.Context) {
	if n := r.chat.SweepPresence(ctx, r.now()); n > 0 {
		log.Printf("housekeeping: %s: %d presence changes", JobSweep, n)
	}
}

// Snapshot persists the presence table.
func (r *Runner) Snapshot(ctx context.Context) {
	if err := r.chat.SnapshotPresence(ctx); err != nil {
		log.Printf("housekeeping: %s: %v", JobSnapshot, err)
	}
}

// Drain opens conversations for queued business requests, retrying
// transient failures.
func (r *Runner) Drain(ctx context.Context) {
	var opened []models.Conversation
	err := chaterr.Retry(ctx, drainAttempts, drainBackoff, func(ctx context.Context) error {
		var err error
		opened, err = r.chat.DrainPending(ctx)
		return err
	})
	if err != nil {
		log.Printf("housekeeping: %s: %v", JobDrain, err)
		return
	}
	for _, c := range opened {
		log.Printf("housekeeping: %s: opened %s for business %s", JobDrain, c.ID, c.Metadata[models.MetaBusinessID])
	}
}
