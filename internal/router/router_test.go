package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zakelfassi/Ralph-Kit/internal/backend"
	"github.com/zakelfassi/Ralph-Kit/internal/state"
)

// fakeBackend is a scripted backend.Backend.
type fakeBackend struct {
	id        backend.ID
	available bool
	results   []*backend.Result
	calls     int
	opts      []backend.RunOpts
}

func (f *fakeBackend) ID() backend.ID  { return f.id }
func (f *fakeBackend) Available() bool { return f.available }

func (f *fakeBackend) Run(ctx context.Context, prompt string, opts backend.RunOpts) (*backend.Result, error) {
	f.opts = append(f.opts, opts)
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	f.calls++
	return res, nil
}

// captureNotifier records notifications.
type captureNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (c *captureNotifier) Notify(_ context.Context, title, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
}

func success() *backend.Result {
	return &backend.Result{Classification: backend.ClassSuccess, Output: "done"}
}

func quotaFailure(output string) *backend.Result {
	return &backend.Result{Classification: backend.ClassQuotaFailure, Output: output, ExitCode: 1}
}

func newTestRouter(claude, codex *fakeBackend, st state.RouterState) (*Router, *state.MemStore, *captureNotifier) {
	store := state.NewMemStore(st)
	n := &captureNotifier{}
	r := New(claude, codex, store, n)
	r.SetSleeper(func(context.Context, time.Duration) error { return nil })
	return r, store, n
}

func TestTaskType_Preferred(t *testing.T) {
	tests := []struct {
		task TaskType
		want backend.ID
	}{
		{TaskPlan, backend.Claude},
		{TaskPlanWork, backend.Claude},
		{TaskReview, backend.Claude},
		{TaskSecurity, backend.Claude},
		{TaskBuild, backend.Codex},
		{TaskType("anything-else"), backend.Codex},
	}
	for _, tt := range tests {
		t.Run(string(tt.task), func(t *testing.T) {
			if got := tt.task.Preferred(); got != tt.want {
				t.Errorf("Preferred() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoute_BuildPrefersCodex(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true, results: []*backend.Result{success()}}
	codex := &fakeBackend{id: backend.Codex, available: true, results: []*backend.Result{success()}}
	r, _, _ := newTestRouter(claude, codex, state.NewRouterState())

	res, err := r.Route(context.Background(), TaskBuild, "build it", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassSuccess {
		t.Errorf("Classification = %v, want success", res.Classification)
	}
	if codex.calls != 1 || claude.calls != 0 {
		t.Errorf("calls = claude:%d codex:%d, want codex only", claude.calls, codex.calls)
	}
}

func TestRoute_SelectionFailoverWhenPreferredLimited(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true, results: []*backend.Result{success()}}
	codex := &fakeBackend{id: backend.Codex, available: true, results: []*backend.Result{success()}}

	st := state.NewRouterState()
	st.SetLimit(backend.Codex, time.Now().Add(time.Hour))
	r, _, _ := newTestRouter(claude, codex, st)

	res, err := r.Route(context.Background(), TaskBuild, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassSuccess {
		t.Errorf("Classification = %v, want success", res.Classification)
	}
	if claude.calls != 1 || codex.calls != 0 {
		t.Errorf("calls = claude:%d codex:%d, want failover to claude", claude.calls, codex.calls)
	}
}

func TestRoute_NoSelectionFailoverWhenDisabled(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true, results: []*backend.Result{success()}}
	codex := &fakeBackend{id: backend.Codex, available: true,
		results: []*backend.Result{quotaFailure("usage limit reached")}}

	st := state.NewRouterState()
	st.SetLimit(backend.Codex, time.Now().Add(time.Hour))
	r, _, _ := newTestRouter(claude, codex, st)
	r.Failover = false

	res, err := r.Route(context.Background(), TaskBuild, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassQuotaFailure {
		t.Errorf("Classification = %v, want the surfaced quota failure", res.Classification)
	}
	if claude.calls != 0 {
		t.Errorf("claude invoked %d times with failover disabled, want 0", claude.calls)
	}
	// Sleep-retry on the same backend is still allowed once.
	if codex.calls != 2 {
		t.Errorf("codex calls = %d, want 2 (original + post-cooldown retry)", codex.calls)
	}
}

func TestRoute_ForcedBackend(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true, results: []*backend.Result{success()}}
	codex := &fakeBackend{id: backend.Codex, available: true, results: []*backend.Result{success()}}
	r, _, _ := newTestRouter(claude, codex, state.NewRouterState())

	_, err := r.Route(context.Background(), TaskBuild, "p", Options{Forced: backend.Claude})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if claude.calls != 1 || codex.calls != 0 {
		t.Errorf("calls = claude:%d codex:%d, want forced claude", claude.calls, codex.calls)
	}
}

func TestRoute_AuthFailureParksBackendAndFailsOver(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true,
		results: []*backend.Result{{Classification: backend.ClassAuthFailure, Output: "Invalid API key", ExitCode: 1}}}
	codex := &fakeBackend{id: backend.Codex, available: true, results: []*backend.Result{success()}}
	r, store, n := newTestRouter(claude, codex, state.NewRouterState())

	now := time.Now()
	r.SetClock(func() time.Time { return now })

	res, err := r.Route(context.Background(), TaskPlan, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassSuccess {
		t.Errorf("Classification = %v, want success after failover", res.Classification)
	}

	st, _ := store.Load()
	want := now.Add(AuthCooldown)
	if !st.LimitUntil[backend.Claude].Equal(want) {
		t.Errorf("claude limit = %v, want %v (full day)", st.LimitUntil[backend.Claude], want)
	}

	if len(n.titles) < 2 {
		t.Fatalf("notifications = %v, want auth failure + failover", n.titles)
	}
	if n.titles[0] != "ralph: backend auth failure" {
		t.Errorf("first notification = %q", n.titles[0])
	}
	if n.titles[1] != "ralph: backend failover" {
		t.Errorf("second notification = %q", n.titles[1])
	}
}

func TestRoute_AuthFailureNoAlternateSurfaces(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true,
		results: []*backend.Result{{Classification: backend.ClassAuthFailure, Output: "not authenticated", ExitCode: 1}}}
	codex := &fakeBackend{id: backend.Codex, available: false}
	r, _, _ := newTestRouter(claude, codex, state.NewRouterState())

	res, err := r.Route(context.Background(), TaskPlan, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassAuthFailure {
		t.Errorf("Classification = %v, want surfaced auth failure", res.Classification)
	}
}

func TestRoute_QuotaFailureFailsOverImmediately(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true, results: []*backend.Result{success()}}
	codex := &fakeBackend{id: backend.Codex, available: true,
		results: []*backend.Result{quotaFailure("rate limit reached, resets in 45 minutes")}}
	r, store, _ := newTestRouter(claude, codex, state.NewRouterState())

	now := time.Now()
	r.SetClock(func() time.Time { return now })

	slept := false
	r.SetSleeper(func(context.Context, time.Duration) error { slept = true; return nil })

	res, err := r.Route(context.Background(), TaskBuild, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassSuccess {
		t.Errorf("Classification = %v, want success on claude", res.Classification)
	}
	if slept {
		t.Error("router slept despite a healthy alternate")
	}

	st, _ := store.Load()
	want := now.Add(45*time.Minute + 300*time.Second)
	if !st.LimitUntil[backend.Codex].Equal(want) {
		t.Errorf("codex limit = %v, want %v", st.LimitUntil[backend.Codex], want)
	}
}

func TestRoute_QuotaFailureSleepsAndRetriesWithoutAlternate(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: false}
	codex := &fakeBackend{id: backend.Codex, available: true,
		results: []*backend.Result{quotaFailure("resets in 10 minutes"), success()}}
	r, store, _ := newTestRouter(claude, codex, state.NewRouterState())

	var slept time.Duration
	r.SetSleeper(func(_ context.Context, d time.Duration) error { slept = d; return nil })

	res, err := r.Route(context.Background(), TaskBuild, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassSuccess {
		t.Errorf("Classification = %v, want success after sleep-retry", res.Classification)
	}
	if want := 10*time.Minute + 300*time.Second; slept != want {
		t.Errorf("slept = %v, want %v", slept, want)
	}
	if codex.calls != 2 {
		t.Errorf("codex calls = %d, want 2", codex.calls)
	}

	st, _ := store.Load()
	if st.Limited(backend.Codex, time.Now()) {
		t.Error("codex still limited after successful retry, want limit cleared")
	}
}

func TestRoute_SchemaFailureAbandonsCall(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true,
		results: []*backend.Result{{Classification: backend.ClassSchemaFailure, Output: "invalid schema", ExitCode: 1}}}
	codex := &fakeBackend{id: backend.Codex, available: true, results: []*backend.Result{success()}}
	r, store, _ := newTestRouter(claude, codex, state.NewRouterState())

	res, err := r.Route(context.Background(), TaskReview, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassSchemaFailure {
		t.Errorf("Classification = %v, want schema failure surfaced", res.Classification)
	}
	if claude.calls != 1 || codex.calls != 0 {
		t.Error("schema failure must not retry or fail over")
	}
	if store.Saves != 0 {
		t.Errorf("state saved %d times on schema failure, want 0", store.Saves)
	}
}

func TestRoute_StructuredOutputOnlyForClaudeReview(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true, results: []*backend.Result{success()}}
	codex := &fakeBackend{id: backend.Codex, available: true, results: []*backend.Result{success()}}
	r, _, _ := newTestRouter(claude, codex, state.NewRouterState())

	if _, err := r.Route(context.Background(), TaskReview, "p", Options{}); err != nil {
		t.Fatal(err)
	}
	if len(claude.opts) != 1 || !claude.opts[0].StructuredOutput {
		t.Error("review on claude should request structured output")
	}

	if _, err := r.Route(context.Background(), TaskBuild, "p", Options{}); err != nil {
		t.Fatal(err)
	}
	if len(codex.opts) != 1 || codex.opts[0].StructuredOutput {
		t.Error("build on codex must not request structured output")
	}
}

func TestRoute_AbsentBinarySilentlySwitches(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true, results: []*backend.Result{success()}}
	codex := &fakeBackend{id: backend.Codex, available: false}
	r, _, n := newTestRouter(claude, codex, state.NewRouterState())

	res, err := r.Route(context.Background(), TaskBuild, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassSuccess {
		t.Errorf("Classification = %v, want success on the present backend", res.Classification)
	}
	if claude.calls != 1 {
		t.Errorf("claude calls = %d, want 1", claude.calls)
	}
	if len(n.titles) != 0 {
		t.Errorf("notifications = %v, want none for absent-binary switch", n.titles)
	}
}

func TestRoute_NoBackendsAvailable(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: false}
	codex := &fakeBackend{id: backend.Codex, available: false}
	r, _, _ := newTestRouter(claude, codex, state.NewRouterState())

	res, err := r.Route(context.Background(), TaskBuild, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassUnavailable {
		t.Errorf("Classification = %v, want unavailable", res.Classification)
	}
}

func TestRoute_OtherFailureReturnsWithoutRetry(t *testing.T) {
	codex := &fakeBackend{id: backend.Codex, available: true,
		results: []*backend.Result{{Classification: backend.ClassOtherFailure, Output: "boom", ExitCode: 2}}}
	claude := &fakeBackend{id: backend.Claude, available: true, results: []*backend.Result{success()}}
	r, _, _ := newTestRouter(claude, codex, state.NewRouterState())

	res, err := r.Route(context.Background(), TaskBuild, "p", Options{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Classification != backend.ClassOtherFailure {
		t.Errorf("Classification = %v, want other failure", res.Classification)
	}
	if codex.calls != 1 || claude.calls != 0 {
		t.Error("unclassified failure must not retry or fail over")
	}
}

func TestRoute_SuccessPersistsActiveBackend(t *testing.T) {
	claude := &fakeBackend{id: backend.Claude, available: true, results: []*backend.Result{success()}}
	codex := &fakeBackend{id: backend.Codex, available: true, results: []*backend.Result{success()}}
	store := state.NewMemStore(state.NewRouterState())
	r := New(claude, codex, store, nil)

	if _, err := r.Route(context.Background(), TaskPlan, "p", Options{}); err != nil {
		t.Fatal(err)
	}
	st, _ := store.Load()
	if st.Active != backend.Claude {
		t.Errorf("Active = %v, want claude persisted", st.Active)
	}
}
