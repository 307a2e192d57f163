// Package router selects and invokes a backend for each task, and
// absorbs quota/auth failures via failover, backoff, and bounded retry.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zakelfassi/Ralph-Kit/internal/backend"
	"github.com/zakelfassi/Ralph-Kit/internal/notify"
	"github.com/zakelfassi/Ralph-Kit/internal/ratelimit"
	"github.com/zakelfassi/Ralph-Kit/internal/state"
)

// TaskType selects the preferred backend and invocation shape.
type TaskType string

const (
	TaskPlan     TaskType = "plan"
	TaskPlanWork TaskType = "plan-work"
	TaskReview   TaskType = "review"
	TaskSecurity TaskType = "security"
	TaskBuild    TaskType = "build"
)

// Preferred returns the backend this task type routes to when both
// backends are healthy. Planning, review, and security go to claude;
// everything else builds on codex.
func (t TaskType) Preferred() backend.ID {
	switch t {
	case TaskPlan, TaskPlanWork, TaskReview, TaskSecurity:
		return backend.Claude
	default:
		return backend.Codex
	}
}

// Structured reports whether this task requests structured JSON output
// (honored only by claude).
func (t TaskType) Structured() bool {
	return t == TaskReview || t == TaskSecurity
}

// AuthCooldown disables a backend after an auth failure. We cannot
// guess a real reset time for revoked credentials, so a full day
// effectively parks the backend until an operator intervenes.
const AuthCooldown = 24 * time.Hour

// maxAttempts bounds the selection loop. Worst case is one failover per
// failure class transition; anything deeper means both backends are
// persistently failing and the result should surface.
const maxAttempts = 4

// Options adjusts a single Route call.
type Options struct {
	// Forced pins the invocation to a specific backend, skipping the
	// preference table and the selection-time failover swap.
	Forced backend.ID

	// Model and ReasoningEffort pass through to the backend CLI.
	Model           string
	ReasoningEffort string

	// Timeout bounds each backend invocation.
	Timeout time.Duration
}

// Router routes tasks to backends with rate-limit-aware failover.
type Router struct {
	backends map[backend.ID]backend.Backend
	store    state.Store
	notifier notify.Notifier

	// Failover allows switching to the alternate backend when the
	// chosen one is rate-limited or absent.
	Failover bool

	// Logf receives one line per invocation attempt. Defaults to a
	// no-op.
	Logf func(format string, args ...any)

	// now and sleep are injectable for tests. sleep must honor ctx.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a router over the two backends.
func New(claude, codex backend.Backend, store state.Store, notifier notify.Notifier) *Router {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Router{
		backends: map[backend.ID]backend.Backend{
			backend.Claude: claude,
			backend.Codex:  codex,
		},
		store:    store,
		notifier: notifier,
		Failover: true,
		Logf:     func(string, ...any) {},
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Route invokes a backend for the task and resolves quota/auth failures
// internally. It returns once a backend produced a terminal success or
// an unrecoverable failure, or no backend is available at all (signaled
// with a ClassUnavailable result). Route returns a non-nil error only
// for context cancellation or broken persistence.
func (r *Router) Route(ctx context.Context, task TaskType, prompt string, opts Options) (*backend.Result, error) {
	st, err := r.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load router state: %w", err)
	}

	chosen := r.selectBackend(task, opts, st)

	// sleptFor marks backends already given their post-cooldown retry,
	// so a second quota failure on the same backend surfaces instead of
	// sleeping forever.
	sleptFor := map[backend.ID]bool{}
	swappedForAbsent := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		b := r.backends[chosen]
		if b == nil || !b.Available() {
			// Missing binary: silently take the other backend once.
			other := chosen.Other()
			if !swappedForAbsent && r.backendPresent(other) {
				swappedForAbsent = true
				chosen = other
				continue
			}
			return &backend.Result{Classification: backend.ClassUnavailable}, nil
		}

		r.Logf("invoking %s task=%s attempt=%d", chosen, task, attempt)

		res, err := b.Run(ctx, prompt, backend.RunOpts{
			Model:            opts.Model,
			ReasoningEffort:  opts.ReasoningEffort,
			StructuredOutput: task.Structured() && chosen == backend.Claude,
			Timeout:          opts.Timeout,
		})
		if err != nil {
			if errors.Is(err, backend.ErrNotInstalled) {
				other := chosen.Other()
				if !swappedForAbsent && r.backendPresent(other) {
					swappedForAbsent = true
					chosen = other
					continue
				}
				return &backend.Result{Classification: backend.ClassUnavailable}, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Execution failures (timeouts included) are failures of
			// the work unit, not of the router.
			res = &backend.Result{
				Output:         err.Error(),
				ExitCode:       -1,
				Classification: backend.ClassOtherFailure,
			}
		}

		switch res.Classification {
		case backend.ClassAuthFailure:
			next, recovered, err := r.handleAuthFailure(ctx, &st, chosen)
			if err != nil {
				return nil, err
			}
			if !recovered {
				return res, nil
			}
			chosen = next

		case backend.ClassQuotaFailure:
			next, recovered, err := r.handleQuotaFailure(ctx, &st, chosen, res.Output, sleptFor)
			if err != nil {
				return nil, err
			}
			if !recovered {
				return res, nil
			}
			chosen = next

		case backend.ClassSchemaFailure:
			// Abandon this call only: no retry, no rate-limit marking.
			// The caller treats the absent structured result as
			// "nothing to report".
			return res, nil

		default:
			if st.Active != chosen {
				st.Active = chosen
				if err := r.store.Save(st); err != nil {
					return nil, fmt.Errorf("save router state: %w", err)
				}
			}
			return res, nil
		}
	}

	return &backend.Result{
		Output:         "retry budget exhausted",
		Classification: backend.ClassOtherFailure,
	}, nil
}

// selectBackend applies the preference table, the forced override, and
// the selection-time failover swap.
func (r *Router) selectBackend(task TaskType, opts Options, st state.RouterState) backend.ID {
	if opts.Forced.Valid() {
		return opts.Forced
	}

	preferred := task.Preferred()
	now := r.now()

	// Swap only when the preferred backend is cooling down and the
	// alternate is not. A still-limited preferred backend is otherwise
	// kept: the cooldown may have been computed conservatively, and a
	// repeat failure is acceptable.
	if r.Failover && st.Limited(preferred, now) && !st.Limited(preferred.Other(), now) {
		return preferred.Other()
	}
	return preferred
}

// handleAuthFailure parks the backend for AuthCooldown, notifies, and
// reports whether a healthy alternate can take over.
func (r *Router) handleAuthFailure(ctx context.Context, st *state.RouterState, failed backend.ID) (backend.ID, bool, error) {
	until := r.now().Add(AuthCooldown)
	st.SetLimit(failed, until)
	if err := r.store.Save(*st); err != nil {
		return failed, false, fmt.Errorf("save router state: %w", err)
	}

	r.Logf("%s auth failure, disabled until %s", failed, until.Format(time.RFC3339))
	r.notifier.Notify(ctx, "ralph: backend auth failure",
		fmt.Sprintf("%s rejected credentials; disabled until %s", failed, until.Format(time.Kitchen)))

	other := failed.Other()
	if r.Failover && r.backendPresent(other) && !st.Limited(other, r.now()) {
		r.notifyFailover(ctx, failed, other)
		return other, true, nil
	}
	return failed, false, nil
}

// handleQuotaFailure records the estimated cooldown, then either fails
// over or sleeps through the cooldown and retries the same backend once.
func (r *Router) handleQuotaFailure(ctx context.Context, st *state.RouterState, failed backend.ID, output string, sleptFor map[backend.ID]bool) (backend.ID, bool, error) {
	wait := ratelimit.EstimateResume(output, failed, r.now())
	until := r.now().Add(wait)
	st.SetLimit(failed, until)
	if err := r.store.Save(*st); err != nil {
		return failed, false, fmt.Errorf("save router state: %w", err)
	}

	r.Logf("%s rate limited for %v (until %s)", failed, wait.Round(time.Second), until.Format(time.Kitchen))

	other := failed.Other()
	if r.Failover && r.backendPresent(other) && !st.Limited(other, r.now()) {
		r.notifyFailover(ctx, failed, other)
		return other, true, nil
	}

	if sleptFor[failed] {
		// Already slept and retried this backend; surface the failure.
		return failed, false, nil
	}
	sleptFor[failed] = true

	r.Logf("no healthy alternate; sleeping %v before retrying %s", wait.Round(time.Second), failed)
	if err := r.sleep(ctx, wait); err != nil {
		return failed, false, err
	}

	st.ClearLimit(failed)
	if err := r.store.Save(*st); err != nil {
		return failed, false, fmt.Errorf("save router state: %w", err)
	}
	return failed, true, nil
}

func (r *Router) backendPresent(id backend.ID) bool {
	b := r.backends[id]
	return b != nil && b.Available()
}

func (r *Router) notifyFailover(ctx context.Context, from, to backend.ID) {
	r.Logf("failing over %s -> %s", from, to)
	r.notifier.Notify(ctx, "ralph: backend failover",
		fmt.Sprintf("switched from %s to %s", from, to))
}

// SetClock overrides the router's clock; tests only.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// SetSleeper overrides the router's blocking wait; tests only.
func (r *Router) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	r.sleep = sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
