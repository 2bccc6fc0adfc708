// Package lifecycle drives a remote debrid job from submission until its
// links are ready, polling on a fixed interval and surfacing progress at a
// bounded rate.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/debridrelay/debridrelay/internal/clock"
	"github.com/debridrelay/debridrelay/internal/debrid"
	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/metrics"
	"github.com/debridrelay/debridrelay/internal/progress"
)

// Remote is the subset of the debrid client the controller drives.
type Remote interface {
	AddMagnet(ctx context.Context, magnetURI string) (string, error)
	SelectAllFiles(ctx context.Context, jobID string) error
	Info(ctx context.Context, jobID string) (*debrid.Job, error)
}

// Reporter receives the user-visible status of one job. Implementations
// are best-effort and must not block the caller on delivery failures.
type Reporter interface {
	Progress(ctx context.Context, stage string, percent int, text string)
	Fail(ctx context.Context, err error)
}

// Config holds controller settings.
type Config struct {
	Policy       Policy
	PollInterval time.Duration
	Clock        clock.Clock
}

// Controller submits and awaits remote jobs. It holds no per-job state and
// is safe for concurrent use.
type Controller struct {
	remote       Remote
	policy       Policy
	pollInterval time.Duration
	clock        clock.Clock
	log          *logger.Logger
}

// NewController creates a controller over remote.
func NewController(remote Remote, cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Controller{
		remote:       remote,
		policy:       cfg.Policy,
		pollInterval: cfg.PollInterval,
		clock:        cfg.Clock,
		log:          logger.Default().WithComponent("lifecycle"),
	}
}

// Submit adds the magnet and selects all of its files. A selection failure
// is logged and ignored; the job can still progress. onSubmitted, if set,
// receives the job id as soon as the remote job exists.
func (c *Controller) Submit(ctx context.Context, magnetURI string, r Reporter, onSubmitted func(jobID string)) (string, error) {
	jobID, err := c.remote.AddMagnet(ctx, magnetURI)
	if err != nil {
		c.log.Error(ctx, "magnet submission failed", err)
		metrics.Default().IncCounter(metrics.JobsFailed)
		r.Fail(ctx, err)
		return "", err
	}
	metrics.Default().IncCounter(metrics.JobsSubmitted)
	if onSubmitted != nil {
		onSubmitted(jobID)
	}

	if err := c.remote.SelectAllFiles(ctx, jobID); err != nil {
		c.log.Warn(ctx, "file selection failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}

	c.log.Info(ctx, "magnet submitted", map[string]interface{}{"job_id": jobID})
	r.Progress(ctx, string(StateQueued), 0, "🧲 Magnet accepted, waiting for the remote download")
	return jobID, nil
}

// Await polls jobID until it is ready, failing on a remote error status,
// exhausted transient-failure budget, timeout, or cancellation. Every
// failure is reported to r exactly once.
func (c *Controller) Await(ctx context.Context, jobID string, r Reporter) (*debrid.Job, error) {
	tracker := NewTracker(c.policy, c.clock.Now())
	tracker.FilesSelected()

	for {
		job, err := c.remote.Info(ctx, jobID)
		metrics.Default().IncCounter(metrics.DebridPolls)

		var d Decision
		if ctx.Err() != nil {
			d = tracker.Fail(ctx.Err())
		} else {
			d = tracker.Observe(c.clock.Now(), job, err)
		}

		if err != nil && d.State != StateFailed {
			metrics.Default().IncCounter(metrics.DebridPollFailures)
			c.log.Warn(ctx, "transient poll failure", map[string]interface{}{
				"job_id":   jobID,
				"failures": tracker.Failures(),
				"error":    err.Error(),
			})
		}

		switch d.State {
		case StateReady:
			metrics.Default().IncCounter(metrics.JobsReady)
			c.log.Info(ctx, "remote job ready", map[string]interface{}{
				"job_id": jobID,
				"links":  len(d.Job.Links),
			})
			r.Progress(ctx, string(StateReady), 100, fmt.Sprintf("✅ Downloaded: %s\nStarting relay…", d.Job.Filename))
			return d.Job, nil
		case StateFailed:
			metrics.Default().IncCounter(metrics.JobsFailed)
			c.log.Error(ctx, "remote job failed", d.Err, map[string]interface{}{"job_id": jobID})
			r.Fail(ctx, d.Err)
			return d.Job, d.Err
		}

		if d.Notify {
			r.Progress(ctx, string(d.State), int(d.Progress), statusText(d))
		}

		select {
		case <-ctx.Done():
			d = tracker.Fail(ctx.Err())
			metrics.Default().IncCounter(metrics.JobsFailed)
			c.log.Warn(ctx, "wait cancelled", map[string]interface{}{"job_id": jobID})
			r.Fail(ctx, d.Err)
			return d.Job, d.Err
		case <-c.clock.After(c.pollInterval):
		}
	}
}

func statusText(d Decision) string {
	name := "remote job"
	if d.Job != nil && d.Job.Filename != "" {
		name = d.Job.Filename
	}
	switch d.State {
	case StateQueued:
		return fmt.Sprintf("⏳ Queued: %s", name)
	default:
		return fmt.Sprintf("⬇️ Downloading: %s\n%s", name, progress.Bar(d.Progress))
	}
}
