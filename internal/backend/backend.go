// Package backend runs the external coding-agent CLIs and classifies
// their output. ralph never parses structured success output from a
// backend; it only looks for failure signatures.
package backend

import (
	"context"
	"time"
)

// ID identifies one of the two interchangeable backends.
type ID string

const (
	// Claude is the Claude Code CLI.
	Claude ID = "claude"

	// Codex is the Codex CLI.
	Codex ID = "codex"
)

// Other returns the alternate backend.
func (id ID) Other() ID {
	if id == Claude {
		return Codex
	}
	return Claude
}

// Valid reports whether id names a known backend.
func (id ID) Valid() bool {
	return id == Claude || id == Codex
}

// Backend defines the interface for the agent CLIs ralph drives.
type Backend interface {
	// ID returns the backend identifier.
	ID() ID

	// Available checks if the backend's CLI is installed and accessible.
	Available() bool

	// Run executes the backend with the prompt delivered on stdin.
	// Combined stdout+stderr is captured into Result.Output; the exit
	// code is advisory only. Run returns an error only for failures to
	// execute at all (binary missing, context cancelled), never for
	// failures reported by the backend itself.
	Run(ctx context.Context, prompt string, opts RunOpts) (*Result, error)
}

// RunOpts configures a backend invocation.
type RunOpts struct {
	// Model selects the model identifier (backend-specific).
	Model string

	// ReasoningEffort selects the reasoning-effort parameter, for
	// backends that support one.
	ReasoningEffort string

	// StructuredOutput requests JSON findings (review/security passes).
	// Only claude honors this.
	StructuredOutput bool

	// Timeout for the entire run. If zero, no timeout is applied beyond
	// any context deadline.
	Timeout time.Duration
}

// Result contains the captured output of one invocation.
type Result struct {
	// ExitCode is the backend process exit code. Advisory: some
	// failures exit 0 with an error payload in the output.
	ExitCode int

	// Output is the combined stdout+stderr text.
	Output string

	// Classification is the failure class derived from Output.
	Classification Classification

	// Duration is how long the invocation took.
	Duration time.Duration
}
