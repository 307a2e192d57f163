// Package controldoc reads and mutates the operator-facing control
// document. Directives are bracketed tokens appended by an operator or
// an ingestion process; ralph consumes each appearance at most once.
package controldoc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Operator directives recognized in the control document.
const (
	DirectivePause      = "[PAUSE]"
	DirectiveReplan     = "[REPLAN]"
	DirectiveDeploy     = "[DEPLOY]"
	DirectiveIngestLogs = "[INGEST_LOGS]"
)

// Doc is one flat-text control document inside a git repository.
type Doc struct {
	repoDir string
	path    string

	// Logf receives one line per consumption. Defaults to a no-op.
	Logf func(format string, args ...any)
}

// New creates a Doc for the document at path inside repoDir.
func New(repoDir, path string) *Doc {
	return &Doc{
		repoDir: repoDir,
		path:    path,
		Logf:    func(string, ...any) {},
	}
}

// Has reports whether the directive token occurs in the document.
// Cheap and side-effect free; a missing document means false.
func (d *Doc) Has(token string) (bool, error) {
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read control doc: %w", err)
	}
	return strings.Contains(string(data), token), nil
}

// TryConsume removes all occurrences of the directive token and commits
// the removal before reporting true. Mutate-then-report: if the action
// triggered by the directive later fails, the directive is gone. A
// lost directive on crash is preferred over one replayed forever.
func (d *Doc) TryConsume(ctx context.Context, token string) (bool, error) {
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read control doc: %w", err)
	}

	content := string(data)
	if !strings.Contains(content, token) {
		return false, nil
	}

	rewritten := strings.ReplaceAll(content, token, "")
	if err := d.atomicRewrite(rewritten); err != nil {
		return false, err
	}

	d.Logf("consumed %s from %s", token, filepath.Base(d.path))
	d.commitRemoval(ctx, token)
	return true, nil
}

// atomicRewrite replaces the whole document via temp file + rename.
func (d *Doc) atomicRewrite(content string) error {
	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".control-*.md")
	if err != nil {
		return fmt.Errorf("create temp control doc: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(content); err != nil {
		return fmt.Errorf("write temp control doc: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp control doc: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp control doc: %w", err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("rename control doc: %w", err)
	}
	return nil
}

// commitRemoval commits the rewritten document. Best-effort: the
// rewrite already happened, and the consumption stands either way.
func (d *Doc) commitRemoval(ctx context.Context, token string) {
	rel, err := filepath.Rel(d.repoDir, d.path)
	if err != nil {
		rel = d.path
	}

	add := exec.CommandContext(ctx, "git", "add", rel)
	add.Dir = d.repoDir
	if out, err := add.CombinedOutput(); err != nil {
		d.Logf("git add %s failed: %v: %s", rel, err, strings.TrimSpace(string(out)))
		return
	}

	msg := fmt.Sprintf("Consume %s directive", token)
	commit := exec.CommandContext(ctx, "git", "commit", "-m", msg, "--", rel)
	commit.Dir = d.repoDir
	if out, err := commit.CombinedOutput(); err != nil {
		d.Logf("git commit of %s removal failed: %v: %s", token, err, strings.TrimSpace(string(out)))
	}
}
