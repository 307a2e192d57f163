// Package loop runs bounded agent iterations against the task plan:
// route a prompt to a backend, optionally gate the result through
// review and security passes, then synchronize and push the branch.
package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/zakelfassi/Ralph-Kit/internal/backend"
	"github.com/zakelfassi/Ralph-Kit/internal/config"
	"github.com/zakelfassi/Ralph-Kit/internal/router"
)

// Process exit codes for the loop subprocess.
const (
	// ExitOK is returned on normal completion, including budget
	// exhaustion. Individual backend failures are absorbed.
	ExitOK = 0

	// ExitNoBackend signals that no backend binary was available.
	ExitNoBackend = 127
)

// Router is the routing port the loop drives. Satisfied by
// router.Router; tests substitute a fake.
type Router interface {
	Route(ctx context.Context, task router.TaskType, prompt string, opts router.Options) (*backend.Result, error)
}

// Syncer is the branch-sync port. Satisfied by gitsync.Syncer; tests
// substitute a fake.
type Syncer interface {
	CurrentBranch(ctx context.Context) (string, error)
	Push(ctx context.Context, branch string) error
}

// Runner executes one bounded run of the iteration loop.
type Runner struct {
	cfg     *config.Config
	router  Router
	syncer  Syncer
	prompts *PromptBuilder
	out     *Output

	// Forced pins every invocation to one backend.
	Forced backend.ID

	// Logf receives one line per loop event. Defaults to a no-op.
	Logf func(format string, args ...any)
}

// NewRunner creates a runner over the given ports.
func NewRunner(cfg *config.Config, r Router, s Syncer, out *Output) *Runner {
	if out == nil {
		out = NewOutput(false)
	}
	return &Runner{
		cfg:     cfg,
		router:  r,
		syncer:  s,
		prompts: NewPromptBuilder(),
		out:     out,
		Logf:    func(string, ...any) {},
	}
}

// Run executes up to iterations of the given task type and returns the
// process exit code. Build tasks iterate until the plan has no pending
// items or the budget is spent; other task types run once. Backend
// failures are absorbed; only "no backend available" changes the exit
// code.
func (r *Runner) Run(ctx context.Context, task router.TaskType, iterations int) (int, error) {
	if iterations < 1 {
		iterations = r.cfg.MaxIterations
	}
	if task != router.TaskBuild {
		iterations = 1
	}

	r.out.Start(string(task), iterations)

	done := 0
	reason := "budget exhausted"
	for i := 1; i <= iterations; i++ {
		if ctx.Err() != nil {
			return ExitOK, ctx.Err()
		}

		pending, err := PendingItems(r.cfg.PlanDocPath())
		if err != nil {
			return ExitOK, fmt.Errorf("read plan doc: %w", err)
		}
		if task == router.TaskBuild && len(pending) == 0 {
			reason = "plan exhausted"
			break
		}
		r.out.Iteration(i, iterations, len(pending))

		res, err := r.invoke(ctx, task, i, pending)
		if err != nil {
			return ExitOK, err
		}
		if res.Classification == backend.ClassUnavailable {
			r.out.Done(done, "no backend available")
			return ExitNoBackend, nil
		}
		done++

		if res.Classification == backend.ClassSuccess {
			r.runGates(ctx, i)
		} else {
			r.Logf("iteration %d ended with %s", i, res.Classification)
		}

		r.syncAndPush(ctx)
	}

	r.out.Done(done, reason)
	return ExitOK, nil
}

// invoke routes one prompt and reports the outcome.
func (r *Runner) invoke(ctx context.Context, task router.TaskType, iteration int, pending []string) (*backend.Result, error) {
	prompt := r.prompts.Build(task, PromptContext{
		Iteration:    iteration,
		PlanDoc:      r.cfg.PlanDoc,
		PendingItems: pending,
	})

	res, err := r.router.Route(ctx, task, prompt, router.Options{
		Forced:  r.Forced,
		Timeout: r.cfg.BackendTimeout,
	})
	if err != nil {
		return nil, err
	}

	r.out.Backend(preferredName(task, r.Forced), res.Classification.String(), res.Duration.Seconds())
	return res, nil
}

// runGates runs the optional review and security passes after a
// successful build invocation. A schema failure (the backend declined
// the structured-output request) means nothing to report, never an
// error.
func (r *Runner) runGates(ctx context.Context, iteration int) {
	if r.cfg.ReviewPass {
		r.runGate(ctx, router.TaskReview, "review", iteration)
	}
	if r.cfg.SecurityPass {
		r.runGate(ctx, router.TaskSecurity, "security", iteration)
	}
}

func (r *Runner) runGate(ctx context.Context, task router.TaskType, name string, iteration int) {
	prompt := r.prompts.Build(task, PromptContext{Iteration: iteration, PlanDoc: r.cfg.PlanDoc})

	res, err := r.router.Route(ctx, task, prompt, router.Options{
		Forced:  r.Forced,
		Timeout: r.cfg.BackendTimeout,
	})
	if err != nil {
		r.out.Error(fmt.Errorf("%s pass: %w", name, err))
		return
	}

	switch res.Classification {
	case backend.ClassSuccess:
		r.out.Review(name, summarize(res.Output))
	case backend.ClassSchemaFailure, backend.ClassUnavailable:
		r.out.Review(name, "nothing to report")
	default:
		r.out.Review(name, "pass failed: "+res.Classification.String())
	}
}

// syncAndPush pushes the current branch at the iteration boundary.
// Failures are reported but never stop the loop; the next iteration's
// push retries naturally.
func (r *Runner) syncAndPush(ctx context.Context) {
	branch, err := r.syncer.CurrentBranch(ctx)
	if err != nil {
		r.out.Error(fmt.Errorf("resolve branch: %w", err))
		return
	}
	if err := r.syncer.Push(ctx, branch); err != nil {
		r.out.Error(fmt.Errorf("push %s: %w", branch, err))
		return
	}
	r.out.Sync(branch, "pushed")
}

// preferredName labels the backend for output; with a forced backend
// the label is exact, otherwise it is the routing preference.
func preferredName(task router.TaskType, forced backend.ID) string {
	if forced.Valid() {
		return string(forced)
	}
	return string(task.Preferred())
}

// summarize squeezes backend output to one log-friendly line.
func summarize(output string) string {
	line := strings.Join(strings.Fields(output), " ")
	if len(line) > 120 {
		line = line[:117] + "..."
	}
	if line == "" {
		return "no output"
	}
	return line
}
