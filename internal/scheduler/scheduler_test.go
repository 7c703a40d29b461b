package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spendcast/internal/pipeline"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []pipeline.RunRequest
	// fail decides the outcome of each call
	fail func(req pipeline.RunRequest, call int) error
	seen chan struct{}
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.RunRequest) (pipeline.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	call := len(f.calls)
	f.mu.Unlock()
	if f.seen != nil {
		f.seen <- struct{}{}
	}

	var err error
	if f.fail != nil {
		err = f.fail(req, call)
	}
	st := pipeline.Status{UserID: req.UserID, State: pipeline.StateDone}
	if err != nil {
		st.State, st.FailedStage, st.Err = pipeline.StateFailed, pipeline.StateTrain, err
	}
	return pipeline.RunResult{Status: st}, err
}

func (f *fakeRunner) requests() []pipeline.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.RunRequest(nil), f.calls...)
}

func testConfig(users ...string) Config {
	cfg := DefaultConfig()
	cfg.Users = users
	return cfg
}

func TestRunOnceSuccess(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, testConfig("a", "b"), nil)

	outcomes := s.RunOnce(context.Background())
	if len(outcomes) != 2 {
		t.Fatalf("RunOnce() returned %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Err != nil || o.Fallback {
			t.Errorf("outcome for %s = %+v, want plain success", o.UserID, o)
		}
	}
	calls := runner.requests()
	if !calls[0].UseBudgetFeatures || !calls[0].ContinuousLearning || calls[0].Horizon != 30 {
		t.Errorf("request = %+v, want budget features, continuous learning and 30 day horizon", calls[0])
	}
}

func TestUnivariateFallbackAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("training diverged")
	runner := &fakeRunner{fail: func(req pipeline.RunRequest, _ int) error {
		if req.UseBudgetFeatures {
			return boom
		}
		return nil
	}}
	s := New(runner, testConfig("a"), nil)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		o := s.RunUser(ctx, Request{UserID: "a"})
		if !errors.Is(o.Err, boom) || o.Fallback {
			t.Fatalf("pass %d outcome = %+v, want plain failure", i, o)
		}
		if got := s.ConsecutiveFailures("a"); got != i {
			t.Errorf("ConsecutiveFailures() = %d, want %d", got, i)
		}
	}

	o := s.RunUser(ctx, Request{UserID: "a"})
	if !o.Fallback || o.Err != nil {
		t.Fatalf("third pass outcome = %+v, want successful fallback", o)
	}
	if got := s.ConsecutiveFailures("a"); got != 0 {
		t.Errorf("ConsecutiveFailures() after fallback success = %d, want 0", got)
	}

	calls := runner.requests()
	if len(calls) != 4 {
		t.Fatalf("runner called %d times, want 4", len(calls))
	}
	if calls[3].UseBudgetFeatures {
		t.Error("fallback pass should run without budget features")
	}
}

func TestNoFallbackWhenAlreadyUnivariate(t *testing.T) {
	runner := &fakeRunner{fail: func(pipeline.RunRequest, int) error { return errors.New("no data") }}
	cfg := testConfig("a")
	cfg.UseBudgetFeatures = false
	s := New(runner, cfg, nil)

	for i := 0; i < 4; i++ {
		if o := s.RunUser(context.Background(), Request{UserID: "a"}); o.Fallback {
			t.Fatalf("pass %d used fallback without budget features", i)
		}
	}
	if got := len(runner.requests()); got != 4 {
		t.Errorf("runner called %d times, want 4", got)
	}
	if got := s.ConsecutiveFailures("a"); got != 4 {
		t.Errorf("ConsecutiveFailures() = %d, want 4", got)
	}
}

func TestForceUnivariateRequest(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, testConfig(), nil)
	s.RunUser(context.Background(), Request{UserID: "a", ForceUnivariate: true})
	if runner.requests()[0].UseBudgetFeatures {
		t.Error("ForceUnivariate request should disable budget features")
	}
}

func TestCancelledPassIsNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{fail: func(pipeline.RunRequest, int) error {
		cancel()
		return context.Canceled
	}}
	s := New(runner, testConfig("a"), nil)
	s.RunUser(ctx, Request{UserID: "a"})
	if got := s.ConsecutiveFailures("a"); got != 0 {
		t.Errorf("ConsecutiveFailures() = %d, want 0 for a cancelled pass", got)
	}
}

func TestStartServesRequests(t *testing.T) {
	runner := &fakeRunner{seen: make(chan struct{}, 8)}
	cfg := testConfig("a")
	cfg.Interval = time.Hour
	s := New(runner, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	waitCall := func() {
		t.Helper()
		select {
		case <-runner.seen:
		case <-time.After(2 * time.Second):
			t.Fatal("runner was not called")
		}
	}
	waitCall() // initial pass

	if err := s.Submit(ctx, Request{UserID: "b"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitCall()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	calls := runner.requests()
	if calls[0].UserID != "a" || calls[1].UserID != "b" {
		t.Errorf("calls = %+v, want a then b", calls)
	}
}

func TestSubmitValidation(t *testing.T) {
	s := New(&fakeRunner{}, testConfig(), nil)
	if err := s.Submit(context.Background(), Request{}); err == nil {
		t.Error("Submit() without user id should fail")
	}
	if err := New(&fakeRunner{}, Config{}, nil).Start(context.Background()); err == nil {
		t.Error("Start() with zero interval should fail")
	}
}

type stubDirectory struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (d *stubDirectory) ListUsers(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.users...), d.err
}

func TestRunOnceResolvesUsersEachCycle(t *testing.T) {
	dir := &stubDirectory{users: []string{"a"}}
	runner := &fakeRunner{}
	cfg := testConfig()
	cfg.Directory = dir
	s := New(runner, cfg, nil)

	if got := s.RunOnce(context.Background()); len(got) != 1 {
		t.Fatalf("first cycle ran %d users, want 1", len(got))
	}

	dir.mu.Lock()
	dir.users = append(dir.users, "b")
	dir.mu.Unlock()
	outcomes := s.RunOnce(context.Background())
	if len(outcomes) != 2 || outcomes[1].UserID != "b" {
		t.Fatalf("second cycle = %+v, want users a and b", outcomes)
	}

	dir.mu.Lock()
	dir.err = errors.New("database unavailable")
	dir.mu.Unlock()
	if got := s.RunOnce(context.Background()); len(got) != 0 {
		t.Errorf("cycle with failing lookup ran %d passes, want 0", len(got))
	}
	if n := len(runner.requests()); n != 3 {
		t.Errorf("runner saw %d passes, want 3", n)
	}
}

func TestFixedUsersIgnoreDirectory(t *testing.T) {
	runner := &fakeRunner{}
	cfg := testConfig("a")
	cfg.Directory = &stubDirectory{users: []string{"a", "b", "c"}}
	s := New(runner, cfg, nil)

	if got := s.RunOnce(context.Background()); len(got) != 1 {
		t.Errorf("RunOnce() ran %d users, want only the fixed one", len(got))
	}
}

func TestFailureStreaksArePerUser(t *testing.T) {
	runner := &fakeRunner{fail: func(req pipeline.RunRequest, _ int) error {
		if req.UserID == "a" {
			return errors.New("boom")
		}
		return nil
	}}
	s := New(runner, testConfig("a", "b"), nil)

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	if got := s.ConsecutiveFailures("a"); got != 2 {
		t.Errorf("ConsecutiveFailures(a) = %d, want 2", got)
	}
	if got := s.ConsecutiveFailures("b"); got != 0 {
		t.Errorf("ConsecutiveFailures(b) = %d, want 0", got)
	}
}
