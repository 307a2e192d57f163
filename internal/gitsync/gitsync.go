// Package gitsync reconciles the local branch with its remote before
// pushing loop iterations. The strategy depends on how the tips have
// diverged and whether the branch is protected.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/zakelfassi/Ralph-Kit/internal/notify"
)

// ErrNotGitRepo is returned when the directory is not a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// ErrPushFailed is returned when a push fails even after a sync and a
// second attempt. This is terminal for the iteration and notified.
var ErrPushFailed = errors.New("push failed after sync retry")

// protectedBranches are only ever merged into, never rebased.
var protectedBranches = map[string]bool{
	"main":   true,
	"master": true,
}

// Decision is the reconciliation strategy derived from the local tip,
// remote tip, and their merge-base. Computed fresh per push attempt.
type Decision int

const (
	// DecisionNoop means the tips need no reconciliation.
	DecisionNoop Decision = iota

	// DecisionFastForward means local is strictly behind the remote.
	DecisionFastForward

	// DecisionMerge means both sides diverged on a protected branch.
	DecisionMerge

	// DecisionRebase means both sides diverged on a feature branch.
	// Falls back to a merge if the rebase conflicts.
	DecisionRebase
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionFastForward:
		return "fast-forward"
	case DecisionMerge:
		return "merge"
	case DecisionRebase:
		return "rebase"
	default:
		return "no-op"
	}
}

// Plan derives the reconciliation strategy from the three commit ids.
func Plan(local, remote, base, branch string) Decision {
	switch {
	case local == remote:
		return DecisionNoop
	case local == base:
		return DecisionFastForward
	case remote == base:
		return DecisionNoop
	case protectedBranches[branch]:
		return DecisionMerge
	default:
		return DecisionRebase
	}
}

// Syncer reconciles and pushes one repository's current branch.
type Syncer struct {
	dir      string
	notifier notify.Notifier

	// Logf receives one line per sync/push action. Defaults to a no-op.
	Logf func(format string, args ...any)
}

// NewSyncer creates a syncer for the repository at dir.
func NewSyncer(dir string, notifier notify.Notifier) *Syncer {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Syncer{
		dir:      dir,
		notifier: notifier,
		Logf:     func(string, ...any) {},
	}
}

// CurrentBranch returns the checked-out branch name.
func (s *Syncer) CurrentBranch(ctx context.Context) (string, error) {
	out, err := s.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	return out, nil
}

// IsClean reports whether the working tree has no uncommitted changes.
// ralph's own metadata directory is ignored.
func (s *Syncer) IsClean(ctx context.Context) (bool, error) {
	out, err := s.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		path := line
		if len(line) > 3 {
			path = line[3:]
		}
		if !strings.HasPrefix(path, ".ralph/") {
			return false, nil
		}
	}
	return true, nil
}

// SyncBeforePush reconciles branch with origin/<branch> per the
// decision table. A dirty working tree aborts the sync as a logged
// no-op; nothing is ever discarded. A fast-forward failure is terminal
// (manual intervention needed); a rebase failure is aborted and
// retried as a merge.
func (s *Syncer) SyncBeforePush(ctx context.Context, branch string) error {
	clean, err := s.IsClean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		s.Logf("working tree dirty; skipping sync for %s", branch)
		return nil
	}

	// A fetch failure (e.g. no remote configured) means there is
	// nothing to reconcile against.
	if _, err := s.git(ctx, "fetch", "origin", branch); err != nil {
		s.Logf("fetch origin/%s failed; skipping sync: %v", branch, err)
		return nil
	}

	local, err := s.git(ctx, "rev-parse", branch)
	if err != nil {
		return fmt.Errorf("resolve local %s: %w", branch, err)
	}
	remote, err := s.git(ctx, "rev-parse", "origin/"+branch)
	if err != nil {
		// No remote tracking ref yet; the first push creates it.
		s.Logf("no remote ref for %s yet", branch)
		return nil
	}
	base, err := s.git(ctx, "merge-base", branch, "origin/"+branch)
	if err != nil {
		return fmt.Errorf("merge-base %s: %w", branch, err)
	}

	decision := Plan(local, remote, base, branch)
	s.Logf("sync %s: local=%.8s remote=%.8s base=%.8s -> %s", branch, local, remote, base, decision)

	switch decision {
	case DecisionNoop:
		return nil

	case DecisionFastForward:
		if _, err := s.git(ctx, "merge", "--ff-only", "origin/"+branch); err != nil {
			return fmt.Errorf("fast-forward %s: %w", branch, err)
		}
		return nil

	case DecisionMerge:
		return s.merge(ctx, branch)

	case DecisionRebase:
		if _, err := s.git(ctx, "rebase", "origin/"+branch); err != nil {
			s.Logf("rebase of %s conflicted; falling back to merge", branch)
			if _, abortErr := s.git(ctx, "rebase", "--abort"); abortErr != nil {
				return fmt.Errorf("abort conflicted rebase: %w", abortErr)
			}
			return s.merge(ctx, branch)
		}
		return nil
	}
	return nil
}

// Push pushes branch to origin. On failure it syncs and retries exactly
// once; a second failure is notified and returned as ErrPushFailed.
func (s *Syncer) Push(ctx context.Context, branch string) error {
	_, err := s.git(ctx, "push", "origin", branch)
	if err == nil {
		return nil
	}
	s.Logf("push %s failed, syncing and retrying once: %v", branch, err)

	if err := s.SyncBeforePush(ctx, branch); err != nil {
		s.notifyPushFailure(ctx, branch, err)
		return fmt.Errorf("%w: %v", ErrPushFailed, err)
	}

	if _, err := s.git(ctx, "push", "origin", branch); err != nil {
		s.notifyPushFailure(ctx, branch, err)
		return fmt.Errorf("%w: %v", ErrPushFailed, err)
	}
	return nil
}

func (s *Syncer) merge(ctx context.Context, branch string) error {
	msg := fmt.Sprintf("Merge origin/%s into %s (ralph sync)", branch, branch)
	if _, err := s.git(ctx, "merge", "--no-edit", "-m", msg, "origin/"+branch); err != nil {
		return fmt.Errorf("merge origin/%s: %w", branch, err)
	}
	return nil
}

func (s *Syncer) notifyPushFailure(ctx context.Context, branch string, err error) {
	s.Logf("push %s failed after sync retry: %v", branch, err)
	s.notifier.Notify(ctx, "ralph: push failed",
		fmt.Sprintf("branch %s could not be pushed: %v", branch, err))
}

// git runs one git command in the syncer's directory and returns its
// trimmed stdout.
func (s *Syncer) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}
