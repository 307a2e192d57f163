package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/zakelfassi/Ralph-Kit/internal/config"
	"github.com/zakelfassi/Ralph-Kit/internal/router"
)

// Dispatcher is how the daemon hands off work. The real implementation
// re-execs the ralph binary; tests substitute a fake.
type Dispatcher interface {
	// RunLoop runs one bounded batch of loop iterations.
	RunLoop(ctx context.Context, task router.TaskType, iterations int) error

	// RunCommand runs a configured hook command (deploy, log ingest).
	RunCommand(ctx context.Context, name, command string) error
}

// ExecDispatcher dispatches by re-executing the current binary's loop
// subcommand. The subprocess re-reads persisted router state at its own
// start, so each batch sees limits recorded by the previous one.
type ExecDispatcher struct {
	cfg *config.Config

	// Logf receives subprocess output lines. Defaults to a no-op.
	Logf func(format string, args ...any)
}

// NewExecDispatcher creates a dispatcher for the configured repository.
func NewExecDispatcher(cfg *config.Config) *ExecDispatcher {
	return &ExecDispatcher{cfg: cfg, Logf: func(string, ...any) {}}
}

// RunLoop execs `ralph loop` as a subprocess. Exit code 127 (no backend
// available) is surfaced as an error; normal budget exhaustion is not.
func (e *ExecDispatcher) RunLoop(ctx context.Context, task router.TaskType, iterations int) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe, "loop",
		"--task", string(task),
		"--iterations", strconv.Itoa(iterations),
	)
	cmd.Dir = e.cfg.RepoDir
	out, err := cmd.CombinedOutput()
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			e.Logf("loop: %s", line)
		}
	}
	if err != nil {
		return fmt.Errorf("loop subprocess (task=%s): %w", task, err)
	}
	return nil
}

// RunCommand runs a hook through the shell with output captured into
// the daemon log.
func (e *ExecDispatcher) RunCommand(ctx context.Context, name, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.cfg.RepoDir
	out, err := cmd.CombinedOutput()
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			e.Logf("%s: %s", name, line)
		}
	}
	if err != nil {
		return fmt.Errorf("%s command: %w", name, err)
	}
	return nil
}
