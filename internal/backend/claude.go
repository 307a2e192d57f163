package backend

import (
	"context"
	"os/exec"
)

// ClaudeBackend drives the Claude Code CLI.
type ClaudeBackend struct {
	// Command is the path to the claude binary. Defaults to "claude".
	Command string
}

// NewClaude creates a Claude backend with the given command path.
// An empty command falls back to "claude" on PATH.
func NewClaude(command string) *ClaudeBackend {
	if command == "" {
		command = "claude"
	}
	return &ClaudeBackend{Command: command}
}

// ID returns Claude.
func (b *ClaudeBackend) ID() ID {
	return Claude
}

// Available checks if the claude CLI is installed and accessible.
func (b *ClaudeBackend) Available() bool {
	_, err := exec.LookPath(b.Command)
	return err == nil
}

// Run executes claude with the prompt on stdin.
// Uses --dangerously-skip-permissions for unattended operation and
// --print to get output without interactive mode.
func (b *ClaudeBackend) Run(ctx context.Context, prompt string, opts RunOpts) (*Result, error) {
	args := []string{
		"--dangerously-skip-permissions",
		"--print",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.StructuredOutput {
		args = append(args, "--output-format", "json")
	}

	result, err := runCLI(ctx, b.Command, args, prompt, opts)
	if err != nil {
		return nil, err
	}
	result.Classification = Classify(result.Output, result.ExitCode, opts.StructuredOutput)
	return result, nil
}
