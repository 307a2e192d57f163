package backend

import (
	"context"
	"fmt"
	"os/exec"
)

// CodexBackend drives the Codex CLI.
type CodexBackend struct {
	// Command is the path to the codex binary. Defaults to "codex".
	Command string
}

// NewCodex creates a Codex backend with the given command path.
// An empty command falls back to "codex" on PATH.
func NewCodex(command string) *CodexBackend {
	if command == "" {
		command = "codex"
	}
	return &CodexBackend{Command: command}
}

// ID returns Codex.
func (b *CodexBackend) ID() ID {
	return Codex
}

// Available checks if the codex CLI is installed and accessible.
func (b *CodexBackend) Available() bool {
	_, err := exec.LookPath(b.Command)
	return err == nil
}

// Run executes codex in non-interactive exec mode with the prompt on
// stdin ("-" selects stdin as the prompt source).
// Codex has no structured-output mode; StructuredOutput is ignored and
// schema signatures are never matched for this backend.
func (b *CodexBackend) Run(ctx context.Context, prompt string, opts RunOpts) (*Result, error) {
	args := []string{
		"exec",
		"--full-auto",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.ReasoningEffort != "" {
		args = append(args, "-c", fmt.Sprintf("model_reasoning_effort=%q", opts.ReasoningEffort))
	}
	args = append(args, "-")

	result, err := runCLI(ctx, b.Command, args, prompt, opts)
	if err != nil {
		return nil, err
	}
	result.Classification = Classify(result.Output, result.ExitCode, false)
	return result, nil
}
