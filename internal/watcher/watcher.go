// Package watcher reports every active remote job to the chat, whether or
// not it was started from here: one message per job, edited as it
// progresses and finalized when the download completes.
package watcher

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/debridrelay/debridrelay/internal/clock"
	"github.com/debridrelay/debridrelay/internal/debrid"
	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/metrics"
	"github.com/debridrelay/debridrelay/internal/notify"
	"github.com/debridrelay/debridrelay/internal/progress"
)

var watchedStatuses = []string{
	debrid.StatusWaitingFilesSelection,
	debrid.StatusQueued,
	debrid.StatusDownloading,
	debrid.StatusDownloaded,
	debrid.StatusMagnetError,
	debrid.StatusError,
	debrid.StatusVirus,
	debrid.StatusDead,
}

// Lister lists remote jobs.
type Lister interface {
	ListTorrents(ctx context.Context, statuses ...string) ([]debrid.Job, error)
}

// Owned reports jobs that a running task already reports on.
type Owned interface {
	Has(id string) bool
}

type Config struct {
	ChatID   int64
	Interval time.Duration
	Clock    clock.Clock
}

type Watcher struct {
	lister   Lister
	notifier *notify.Notifier
	store    Store
	owned    Owned
	cfg      Config
	log      *logger.Logger
}

func New(lister Lister, notifier *notify.Notifier, store Store, owned Owned, cfg Config) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Watcher{
		lister:   lister,
		notifier: notifier,
		store:    store,
		owned:    owned,
		cfg:      cfg,
		log:      logger.Default().WithComponent("watcher"),
	}
}

// Run sweeps every Interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info(ctx, "watcher started", map[string]interface{}{"interval": w.cfg.Interval.String()})
	for {
		if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn(ctx, "watch sweep failed", map[string]interface{}{"error": err.Error()})
		}
		if ctx.Err() != nil {
			w.log.Info(ctx, "watcher stopped")
			return
		}
		select {
		case <-ctx.Done():
			w.log.Info(ctx, "watcher stopped")
			return
		case <-w.cfg.Clock.After(w.cfg.Interval):
		}
	}
}

// Sweep lists jobs once and updates their messages in order.
func (w *Watcher) Sweep(ctx context.Context) error {
	metrics.Default().IncCounter(metrics.WatcherSweeps)

	jobs, err := w.lister.ListTorrents(ctx, watchedStatuses...)
	if err != nil {
		return err
	}

	listed := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		listed[job.ID] = true
		if w.owned != nil && w.owned.Has(job.ID) {
			continue
		}
		if err := w.observe(ctx, job); err != nil {
			w.log.Warn(ctx, "watch update failed", map[string]interface{}{
				"remote_id": job.ID,
				"error":     err.Error(),
			})
		}
	}

	// Jobs deleted remotely are forgotten.
	ids, err := w.store.IDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !listed[id] {
			w.store.Delete(ctx, id)
		}
	}
	return nil
}

func (w *Watcher) observe(ctx context.Context, job debrid.Job) error {
	entry, seen, err := w.store.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	taskID := "watch-" + job.ID

	switch {
	case job.Status == debrid.StatusDownloaded:
		if !seen {
			return nil
		}
		w.notifier.Resume(w.cfg.ChatID, taskID, entry.MessageID).Done(ctx, fmt.Sprintf("✅ Completed: %s", job.Filename))
		w.log.Info(ctx, "watched job completed", map[string]interface{}{"remote_id": job.ID})
		return w.store.Delete(ctx, job.ID)

	case debrid.IsErrorStatus(job.Status):
		if !seen {
			return nil
		}
		w.notifier.Resume(w.cfg.ChatID, taskID, entry.MessageID).Done(ctx, fmt.Sprintf("❌ %s: %s", job.Status, job.Filename))
		return w.store.Delete(ctx, job.ID)
	}

	pct := progress.Clamp(job.Progress)
	if seen && entry.Status == job.Status && math.Abs(entry.Progress-pct) < 0.1 {
		return nil
	}

	var st *notify.Status
	if seen {
		st = w.notifier.Resume(w.cfg.ChatID, taskID, entry.MessageID)
	} else {
		st = w.notifier.Status(w.cfg.ChatID, taskID)
	}
	st.SetRemoteID(job.ID)
	st.Progress(ctx, job.Status, int(pct), text(job, pct))

	if st.MessageID() == 0 {
		// Not delivered; try again next sweep.
		return nil
	}
	return w.store.Put(ctx, job.ID, Entry{
		MessageID: st.MessageID(),
		Status:    job.Status,
		Progress:  pct,
		Filename:  job.Filename,
	})
}

func text(job debrid.Job, pct float64) string {
	switch job.Status {
	case debrid.StatusDownloading:
		return fmt.Sprintf("⬇️ %s\n%s", job.Filename, progress.Bar(pct))
	default:
		return fmt.Sprintf("⏳ %s (%s)", job.Filename, job.Status)
	}
}
