package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNotInstalled is returned by Run when the backend binary is absent.
var ErrNotInstalled = errors.New("backend binary not installed")

// runCLI executes one backend CLI with the prompt on stdin and combined
// stdout+stderr captured into a single buffer. The returned Result is
// unclassified; callers run Classify with the task context they have.
func runCLI(ctx context.Context, command string, args []string, prompt string, opts RunOpts) (*Result, error) {
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("%s: %w", command, ErrNotInstalled)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdin = strings.NewReader(prompt)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s timed out after %v", command, opts.Timeout)
	}
	if ctx.Err() == context.Canceled {
		return nil, fmt.Errorf("%s cancelled", command)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Failure payload is in the combined output; classification
			// decides what it means.
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("run %s: %w", command, err)
		}
	}

	return &Result{
		ExitCode: exitCode,
		Output:   combined.String(),
		Duration: duration,
	}, nil
}
