// Package status collects a point-in-time view of a ralph-managed
// repository: router state, blocker state, daemon liveness, and the
// control documents.
package status

import (
	"fmt"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zakelfassi/Ralph-Kit/internal/backend"
	"github.com/zakelfassi/Ralph-Kit/internal/blocker"
	"github.com/zakelfassi/Ralph-Kit/internal/config"
	"github.com/zakelfassi/Ralph-Kit/internal/controldoc"
	"github.com/zakelfassi/Ralph-Kit/internal/daemon"
	"github.com/zakelfassi/Ralph-Kit/internal/lock"
	"github.com/zakelfassi/Ralph-Kit/internal/loop"
	"github.com/zakelfassi/Ralph-Kit/internal/state"
)

// Snapshot is one observation of the repository's ralph state.
type Snapshot struct {
	Taken time.Time

	// Router state
	ActiveBackend backend.ID
	LimitUntil    map[backend.ID]time.Time

	// Daemon liveness
	DaemonPID     int
	DaemonRunning bool

	// Documents
	Paused        bool
	PendingItems  int
	PlanExists    bool
	OpenQuestions []string

	// Blocker counter
	BlockerCount       int
	BlockerFingerprint string
}

// Collect gathers a snapshot for the configured repository. Missing
// files yield zero values, never errors; a repo ralph has not touched
// yet still has a valid status.
func Collect(cfg *config.Config) (*Snapshot, error) {
	stateDir := filepath.Join(cfg.RepoDir, config.StateDirName)

	snap := &Snapshot{Taken: time.Now()}

	rs, err := state.NewFileStore(filepath.Join(stateDir, state.FileName)).Load()
	if err != nil {
		return nil, fmt.Errorf("load router state: %w", err)
	}
	snap.ActiveBackend = rs.Active
	snap.LimitUntil = rs.LimitUntil

	bs, err := blocker.NewFileStore(filepath.Join(stateDir, blocker.FileName)).Load()
	if err != nil {
		return nil, fmt.Errorf("load blocker state: %w", err)
	}
	snap.BlockerCount = bs.Count
	snap.BlockerFingerprint = bs.Fingerprint

	snap.DaemonPID = lock.HolderPID(filepath.Join(stateDir, daemon.LockFileName))
	snap.DaemonRunning = snap.DaemonPID > 0 && processAlive(snap.DaemonPID)

	doc := controldoc.New(cfg.RepoDir, cfg.ControlDocPath())
	if paused, err := doc.Has(controldoc.DirectivePause); err == nil {
		snap.Paused = paused
	}

	snap.PlanExists = loop.PlanExists(cfg.PlanDocPath())
	if pending, err := loop.PendingItems(cfg.PlanDocPath()); err == nil {
		snap.PendingItems = len(pending)
	}

	if ids, err := controldoc.AwaitingIDs(cfg.QuestionDocPath()); err == nil {
		snap.OpenQuestions = ids
	}

	return snap, nil
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Render formats a snapshot as a multi-line status report.
func Render(s *Snapshot) string {
	var b strings.Builder
	now := s.Taken

	line := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + " " + value + "\n")
	}

	if s.DaemonRunning {
		line("daemon", okStyle.Render(fmt.Sprintf("running (pid %d)", s.DaemonPID)))
	} else {
		line("daemon", badStyle.Render("not running"))
	}

	if s.Paused {
		line("control", warnStyle.Render("paused ("+controldoc.DirectivePause+" present)"))
	} else {
		line("control", "active")
	}

	line("backend", string(s.ActiveBackend))
	for _, id := range []backend.ID{backend.Claude, backend.Codex} {
		until := s.LimitUntil[id]
		if until.After(now) {
			line("  "+string(id), warnStyle.Render("rate-limited until "+until.Format(time.Kitchen)))
		} else {
			line("  "+string(id), okStyle.Render("available"))
		}
	}

	switch {
	case !s.PlanExists:
		line("plan", warnStyle.Render("missing (next cycle will plan)"))
	case s.PendingItems > 0:
		line("plan", fmt.Sprintf("%d pending items", s.PendingItems))
	default:
		line("plan", okStyle.Render("complete"))
	}

	if len(s.OpenQuestions) > 0 {
		line("questions", warnStyle.Render(fmt.Sprintf("%d awaiting response (%s)",
			len(s.OpenQuestions), strings.Join(s.OpenQuestions, ", "))))
		if s.BlockerCount > 0 {
			line("blocker", fmt.Sprintf("unchanged for %d cycles", s.BlockerCount))
		}
	} else {
		line("questions", "none open")
	}

	return b.String()
}
