package pipeline

import (
	"context"

	"github.com/debridrelay/debridrelay/internal/debrid"
	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/lifecycle"
	"github.com/debridrelay/debridrelay/internal/notify"
	"github.com/debridrelay/debridrelay/internal/relay"
)

// Lifecycle submits and awaits remote jobs.
type Lifecycle interface {
	Submit(ctx context.Context, magnetURI string, r lifecycle.Reporter, onSubmitted func(jobID string)) (string, error)
	Await(ctx context.Context, jobID string, r lifecycle.Reporter) (*debrid.Job, error)
}

// Relayer uploads a ready job.
type Relayer interface {
	Relay(ctx context.Context, job *debrid.Job, r relay.Reporter) (*relay.Outcome, error)
}

// Runner executes tasks: submit, await, relay. Each stage reports its own
// failure on the task's status message, so Run only returns the error.
type Runner struct {
	lifecycle Lifecycle
	relay     Relayer
	notifier  *notify.Notifier
	inflight  *InFlight
}

func NewRunner(lc Lifecycle, r Relayer, n *notify.Notifier, inflight *InFlight) *Runner {
	if inflight == nil {
		inflight = NewInFlight()
	}
	return &Runner{lifecycle: lc, relay: r, notifier: n, inflight: inflight}
}

// InFlight returns the set of remote ids owned by running tasks.
func (r *Runner) InFlight() *InFlight { return r.inflight }

// Run is a Handler. A panic in any stage fails the status message before
// it propagates to the pool.
func (r *Runner) Run(ctx context.Context, t *Task) error {
	status := r.notifier.Status(t.ChatID, t.ID)
	defer func() {
		if rec := recover(); rec != nil {
			status.Fail(ctx, apperrors.InternalError("task aborted unexpectedly"))
			panic(rec)
		}
	}()

	var claimed string
	claim := func(id string) {
		status.SetRemoteID(id)
		r.inflight.Add(id)
		claimed = id
	}
	defer func() {
		if claimed != "" {
			r.inflight.Remove(claimed)
		}
	}()

	remoteID := t.RemoteID
	switch t.Kind {
	case KindSubmit:
		id, err := r.lifecycle.Submit(ctx, t.Magnet, status, claim)
		if err != nil {
			return err
		}
		remoteID = id
	case KindRelay:
		if remoteID == "" {
			err := apperrors.BadRequest("relay task without a remote id")
			status.Fail(ctx, err)
			return err
		}
	default:
		err := apperrors.BadRequest("unknown task kind " + string(t.Kind))
		status.Fail(ctx, err)
		return err
	}
	if claimed == "" {
		claim(remoteID)
	}

	job, err := r.lifecycle.Await(ctx, remoteID, status)
	if err != nil {
		return err
	}
	_, err = r.relay.Relay(ctx, job, status)
	return err
}
