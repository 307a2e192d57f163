package loop

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Output formats headless loop progress as [TAG]-prefixed lines,
// optimized for reading back out of a daemon log. Tags are styled when
// writing to a terminal and plain otherwise.
type Output struct {
	writer io.Writer
	styled bool
}

var (
	tagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errTagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	doneTagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

// NewOutput creates a formatter writing to stdout.
func NewOutput(styled bool) *Output {
	return &Output{writer: os.Stdout, styled: styled}
}

// SetWriter sets a custom writer (mainly for testing).
func (o *Output) SetWriter(w io.Writer) { o.writer = w }

func (o *Output) tag(name string, style lipgloss.Style) string {
	t := "[" + name + "]"
	if o.styled {
		return style.Render(t)
	}
	return t
}

// Start outputs the start of a run.
func (o *Output) Start(task string, maxIterations int) {
	fmt.Fprintf(o.writer, "%s task=%s budget=%d iterations\n", o.tag("START", tagStyle), task, maxIterations)
}

// Iteration outputs the start of one iteration.
func (o *Output) Iteration(n, max, pending int) {
	fmt.Fprintf(o.writer, "%s %d/%d (%d pending items)\n", o.tag("ITER", tagStyle), n, max, pending)
}

// Backend outputs which backend handled an invocation and its outcome.
func (o *Output) Backend(id, classification string, seconds float64) {
	fmt.Fprintf(o.writer, "%s %s -> %s (%.1fs)\n", o.tag("BACKEND", tagStyle), id, classification, seconds)
}

// Review outputs the outcome of a review or security pass.
func (o *Output) Review(pass, summary string) {
	fmt.Fprintf(o.writer, "%s %s: %s\n", o.tag("REVIEW", tagStyle), pass, summary)
}

// Sync outputs a branch sync/push event.
func (o *Output) Sync(branch, detail string) {
	fmt.Fprintf(o.writer, "%s %s: %s\n", o.tag("SYNC", tagStyle), branch, detail)
}

// Error outputs a non-fatal error.
func (o *Output) Error(err error) {
	fmt.Fprintf(o.writer, "%s %v\n", o.tag("ERROR", errTagStyle), err)
}

// Done outputs the end of a run.
func (o *Output) Done(iterations int, reason string) {
	fmt.Fprintf(o.writer, "%s %d iterations (%s)\n", o.tag("DONE", doneTagStyle), iterations, reason)
}

// Text outputs backend output, one tagged line per non-empty line.
func (o *Output) Text(text string) {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintf(o.writer, "%s %s\n", o.tag("OUT", tagStyle), line)
	}
}
