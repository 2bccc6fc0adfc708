package lifecycle

import (
	"fmt"
	"time"

	"github.com/debridrelay/debridrelay/internal/debrid"
	apperrors "github.com/debridrelay/debridrelay/internal/errors"
	"github.com/debridrelay/debridrelay/internal/progress"
)

// State is the local view of a remote job.
type State string

const (
	StateSubmitted   State = "submitted"
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateReady       State = "ready"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

func (s State) rank() int {
	switch s {
	case StateSubmitted:
		return 0
	case StateQueued:
		return 1
	case StateDownloading:
		return 2
	case StateReady:
		return 3
	default:
		return 4
	}
}

// Policy bounds how long and how noisily a job is tracked.
type Policy struct {
	NotifyInterval       time.Duration
	MaxTransientFailures int
	Timeout              time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		NotifyInterval:       3 * time.Second,
		MaxTransientFailures: 5,
		Timeout:              6 * time.Hour,
	}
}

// Decision is the outcome of one observation.
type Decision struct {
	State    State
	Progress float64
	// Notify is set on the transition to ready, and otherwise when the
	// surfaced view changed and the notify interval has elapsed since the
	// last surfaced update.
	Notify bool
	// Job is the latest snapshot seen, nil until the first successful poll.
	Job *debrid.Job
	// Err is set only when State is StateFailed.
	Err error
}

type view struct {
	state    State
	progress int
}

// Tracker is the job state machine. It performs no I/O: feed it each poll
// result through Observe and act on the Decision.
type Tracker struct {
	policy   Policy
	state    State
	started  time.Time
	progress float64
	failures int
	job      *debrid.Job
	err      error

	surfaced    view
	hasSurfaced bool
	throttle    *progress.Throttle
}

// NewTracker returns a Tracker in StateSubmitted whose timeout runs from
// started.
func NewTracker(policy Policy, started time.Time) *Tracker {
	if policy.MaxTransientFailures <= 0 {
		policy.MaxTransientFailures = 1
	}
	return &Tracker{
		policy:   policy,
		state:    StateSubmitted,
		started:  started,
		throttle: progress.NewThrottle(policy.NotifyInterval),
	}
}

// State returns the current state.
func (t *Tracker) State() State { return t.state }

// Progress returns the highest progress observed.
func (t *Tracker) Progress() float64 { return t.progress }

// Failures returns the current run of consecutive transient failures.
func (t *Tracker) Failures() int { return t.failures }

// FilesSelected moves a submitted job to queued.
func (t *Tracker) FilesSelected() {
	if t.state == StateSubmitted {
		t.state = StateQueued
	}
}

// Complete marks a ready job as relayed.
func (t *Tracker) Complete() error {
	if t.state != StateReady {
		return apperrors.InvalidState(fmt.Sprintf("cannot complete job in state %s", t.state))
	}
	t.state = StateDone
	return nil
}

// Fail forces the tracker into StateFailed, e.g. on cancellation.
func (t *Tracker) Fail(err error) Decision {
	if !t.state.IsTerminal() {
		t.state = StateFailed
		t.err = err
	}
	return t.decision(false)
}

// Observe folds one poll result into the machine. snapshot may be non-nil
// alongside err when the service reported an error-class status.
func (t *Tracker) Observe(now time.Time, snapshot *debrid.Job, err error) Decision {
	if t.state.IsTerminal() {
		return t.decision(false)
	}
	if snapshot != nil {
		t.job = snapshot
	}

	if err != nil {
		if !apperrors.IsRetryable(err) {
			return t.Fail(err)
		}
		t.failures++
		if t.failures >= t.policy.MaxTransientFailures {
			return t.Fail(apperrors.TransientNetwork(
				fmt.Sprintf("gave up after %d consecutive network failures", t.failures)).WithCause(err))
		}
		return t.checkTimeout(now)
	}
	t.failures = 0

	if snapshot == nil {
		return t.Fail(apperrors.RemoteJob("empty job snapshot"))
	}
	if debrid.IsErrorStatus(snapshot.Status) {
		return t.Fail(apperrors.RemoteJob(fmt.Sprintf("remote job %s", snapshot.Status)))
	}

	if p := progress.Clamp(snapshot.Progress); p > t.progress {
		t.progress = p
	}

	next := t.state
	switch snapshot.Status {
	case debrid.StatusMagnetConversion, debrid.StatusWaitingFilesSelection, debrid.StatusQueued:
		next = StateQueued
	case debrid.StatusDownloading, debrid.StatusCompressing, debrid.StatusUploading:
		next = StateDownloading
	case debrid.StatusDownloaded:
		if len(snapshot.Links) > 0 {
			t.state = StateReady
			t.progress = 100
			return t.decision(true)
		}
		next = StateDownloading
	}
	if next.rank() > t.state.rank() {
		t.state = next
	}

	if d := t.checkTimeout(now); d.State == StateFailed {
		return d
	}

	v := view{state: t.state, progress: int(t.progress)}
	notify := (!t.hasSurfaced || v != t.surfaced) && t.throttle.Ready(now)
	if notify {
		t.throttle.Mark(now)
		t.surfaced = v
		t.hasSurfaced = true
	}
	return t.decision(notify)
}

func (t *Tracker) checkTimeout(now time.Time) Decision {
	if t.policy.Timeout > 0 && now.Sub(t.started) > t.policy.Timeout {
		return t.Fail(apperrors.WaitTimeout(
			fmt.Sprintf("remote job not ready after %s", t.policy.Timeout)))
	}
	return t.decision(false)
}

func (t *Tracker) decision(notify bool) Decision {
	return Decision{
		State:    t.state,
		Progress: t.progress,
		Notify:   notify,
		Job:      t.job,
		Err:      t.err,
	}
}
