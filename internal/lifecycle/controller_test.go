package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/debridrelay/debridrelay/internal/clock"
	"github.com/debridrelay/debridrelay/internal/debrid"
	apperrors "github.com/debridrelay/debridrelay/internal/errors"
)

type pollResult struct {
	job *debrid.Job
	err error
}

type fakeRemote struct {
	mu        sync.Mutex
	addErr    error
	selectErr error
	selects   int
	polls     []pollResult
	calls     int
	onInfo    func(call int)
}

func (f *fakeRemote) AddMagnet(ctx context.Context, magnetURI string) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	return "JOB1", nil
}

func (f *fakeRemote) SelectAllFiles(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects++
	return f.selectErr
}

func (f *fakeRemote) Info(ctx context.Context, jobID string) (*debrid.Job, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	idx := call - 1
	if idx >= len(f.polls) {
		idx = len(f.polls) - 1
	}
	res := f.polls[idx]
	hook := f.onInfo
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return res.job, res.err
}

type progressCall struct {
	stage   string
	percent int
	text    string
}

type recordingReporter struct {
	mu       sync.Mutex
	progress []progressCall
	failures []error
}

func (r *recordingReporter) Progress(ctx context.Context, stage string, percent int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, progressCall{stage, percent, text})
}

func (r *recordingReporter) Fail(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func newController(remote Remote, policy Policy) *Controller {
	return NewController(remote, Config{
		Policy:       policy,
		PollInterval: 2 * time.Second,
		Clock:        clock.Stepping(t0),
	})
}

func TestAwaitScenario40_40_100(t *testing.T) {
	remote := &fakeRemote{polls: []pollResult{
		{job: snap(debrid.StatusDownloading, 40)},
		{job: snap(debrid.StatusDownloading, 40)},
		{job: snap(debrid.StatusDownloaded, 100, "L")},
	}}
	rep := &recordingReporter{}

	job, err := newController(remote, DefaultPolicy()).Await(context.Background(), "JOB1", rep)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(job.Links) != 1 || job.Links[0] != "L" {
		t.Fatalf("unexpected links %v", job.Links)
	}

	var at40 int
	for _, p := range rep.progress {
		if p.stage == string(StateDownloading) && p.percent == 40 {
			at40++
		}
	}
	if at40 != 1 {
		t.Errorf("40%% notifications = %d, want 1 (%+v)", at40, rep.progress)
	}
	last := rep.progress[len(rep.progress)-1]
	if last.stage != string(StateReady) {
		t.Errorf("last update stage = %s, want ready", last.stage)
	}
	if len(rep.failures) != 0 {
		t.Errorf("unexpected failures %v", rep.failures)
	}
}

func TestAwaitTransientBudgetReportsOnce(t *testing.T) {
	remote := &fakeRemote{polls: []pollResult{{err: apperrors.TransientNetwork("503")}}}
	rep := &recordingReporter{}

	_, err := newController(remote, DefaultPolicy()).Await(context.Background(), "JOB1", rep)
	if !apperrors.IsRetryable(err) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if remote.calls != 5 {
		t.Errorf("polls = %d, want 5", remote.calls)
	}
	if len(rep.failures) != 1 {
		t.Errorf("failure notifications = %d, want 1", len(rep.failures))
	}
}

func TestAwaitRecoversFromTransientErrors(t *testing.T) {
	remote := &fakeRemote{polls: []pollResult{
		{err: apperrors.TransientNetwork("503")},
		{err: apperrors.TransientNetwork("503")},
		{job: snap(debrid.StatusDownloaded, 100, "L")},
	}}
	rep := &recordingReporter{}

	if _, err := newController(remote, DefaultPolicy()).Await(context.Background(), "JOB1", rep); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(rep.failures) != 0 {
		t.Errorf("unexpected failures %v", rep.failures)
	}
}

func TestAwaitTimeout(t *testing.T) {
	remote := &fakeRemote{polls: []pollResult{{job: snap(debrid.StatusDownloading, 10)}}}
	rep := &recordingReporter{}
	policy := Policy{NotifyInterval: 3 * time.Second, MaxTransientFailures: 5, Timeout: 30 * time.Second}

	_, err := newController(remote, policy).Await(context.Background(), "JOB1", rep)
	if apperrors.CodeOf(err) != apperrors.CodeWaitTimeout {
		t.Fatalf("expected WAIT_TIMEOUT, got %v", err)
	}
	if len(rep.failures) != 1 {
		t.Errorf("failure notifications = %d, want 1", len(rep.failures))
	}
}

func TestAwaitRemoteError(t *testing.T) {
	remote := &fakeRemote{polls: []pollResult{
		{job: snap(debrid.StatusDownloading, 10)},
		{job: snap(debrid.StatusError, 10), err: apperrors.RemoteJob("remote job error")},
	}}
	rep := &recordingReporter{}

	_, err := newController(remote, DefaultPolicy()).Await(context.Background(), "JOB1", rep)
	if apperrors.CodeOf(err) != apperrors.CodeRemoteJob {
		t.Fatalf("expected REMOTE_JOB_ERROR, got %v", err)
	}
	if len(rep.failures) != 1 {
		t.Errorf("failure notifications = %d, want 1", len(rep.failures))
	}
}

func TestAwaitCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := &fakeRemote{
		polls:  []pollResult{{job: snap(debrid.StatusDownloading, 10)}},
		onInfo: func(call int) {
			if call == 3 {
				cancel()
			}
		},
	}
	rep := &recordingReporter{}

	_, err := newController(remote, DefaultPolicy()).Await(ctx, "JOB1", rep)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(rep.failures) != 1 {
		t.Errorf("failure notifications = %d, want 1", len(rep.failures))
	}
}

func TestSubmit(t *testing.T) {
	remote := &fakeRemote{selectErr: apperrors.TransientNetwork("flaky")}
	rep := &recordingReporter{}

	var claimed string
	selectsAtClaim := -1
	onSubmitted := func(id string) {
		claimed = id
		selectsAtClaim = remote.selects
	}

	id, err := newController(remote, DefaultPolicy()).Submit(context.Background(), "magnet:?xt=urn:btih:abc", rep, onSubmitted)
	if err != nil {
		t.Fatalf("selection failure must not fail submission: %v", err)
	}
	if claimed != "JOB1" || selectsAtClaim != 0 {
		t.Errorf("job id must be handed out before file selection: claimed = %q selects = %d", claimed, selectsAtClaim)
	}
	if id != "JOB1" || remote.selects != 1 {
		t.Errorf("id = %q selects = %d", id, remote.selects)
	}
	if len(rep.progress) != 1 || rep.progress[0].stage != string(StateQueued) {
		t.Errorf("expected a queued update, got %+v", rep.progress)
	}
}

func TestSubmitFailureReportedOnce(t *testing.T) {
	remote := &fakeRemote{addErr: apperrors.Submission("magnet rejected")}
	rep := &recordingReporter{}

	called := false
	_, err := newController(remote, DefaultPolicy()).Submit(context.Background(), "magnet:?xt=urn:btih:abc", rep, func(string) { called = true })
	if apperrors.CodeOf(err) != apperrors.CodeSubmission {
		t.Fatalf("expected SUBMISSION_ERROR, got %v", err)
	}
	if len(rep.failures) != 1 || remote.selects != 0 || called {
		t.Errorf("failures = %d selects = %d claimed = %v", len(rep.failures), remote.selects, called)
	}
}
