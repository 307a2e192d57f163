package status

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/zakelfassi/Ralph-Kit/internal/backend"
	"github.com/zakelfassi/Ralph-Kit/internal/config"
)

func TestCollect_FreshRepo(t *testing.T) {
	cfg := config.Default(t.TempDir())

	snap, err := Collect(cfg)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if snap.ActiveBackend != backend.Codex {
		t.Errorf("ActiveBackend = %s, want default codex", snap.ActiveBackend)
	}
	if snap.DaemonRunning {
		t.Error("DaemonRunning = true with no daemon")
	}
	if snap.Paused || snap.PlanExists || snap.PendingItems != 0 {
		t.Errorf("fresh repo snapshot not zero: %+v", snap)
	}
}

func TestCollect_ReadsDocuments(t *testing.T) {
	cfg := config.Default(t.TempDir())

	write := func(path, content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(cfg.ControlDocPath(), "[PAUSE]\n")
	write(cfg.PlanDocPath(), "- [ ] a\n- [ ] b\n- [x] c\n")
	write(cfg.QuestionDocPath(), "## Q-4\nStatus: awaiting response\n")

	snap, err := Collect(cfg)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if !snap.Paused {
		t.Error("Paused = false with [PAUSE] present")
	}
	if snap.PendingItems != 2 {
		t.Errorf("PendingItems = %d, want 2", snap.PendingItems)
	}
	if len(snap.OpenQuestions) != 1 || snap.OpenQuestions[0] != "Q-4" {
		t.Errorf("OpenQuestions = %v, want [Q-4]", snap.OpenQuestions)
	}
}

func TestCollect_DaemonLiveness(t *testing.T) {
	cfg := config.Default(t.TempDir())
	stateDir := filepath.Join(cfg.RepoDir, config.StateDirName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatal(err)
	}

	// Our own PID is certainly alive.
	if err := os.WriteFile(filepath.Join(stateDir, "daemon.lock"),
		[]byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	snap, err := Collect(cfg)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if !snap.DaemonRunning {
		t.Error("DaemonRunning = false for a live PID")
	}
	if snap.DaemonPID != os.Getpid() {
		t.Errorf("DaemonPID = %d, want %d", snap.DaemonPID, os.Getpid())
	}
}

func TestRender(t *testing.T) {
	snap := &Snapshot{
		Taken:         time.Now(),
		ActiveBackend: backend.Claude,
		LimitUntil: map[backend.ID]time.Time{
			backend.Claude: time.Now().Add(time.Hour),
		},
		PlanExists:    true,
		PendingItems:  3,
		OpenQuestions: []string{"Q-1"},
		BlockerCount:  2,
	}

	out := Render(snap)
	for _, want := range []string{"claude", "rate-limited", "3 pending items", "Q-1", "2 cycles", "not running"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}
}
