package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zakelfassi/Ralph-Kit/internal/backend"
	"github.com/zakelfassi/Ralph-Kit/internal/config"
	"github.com/zakelfassi/Ralph-Kit/internal/status"
)

func testModel(t *testing.T) Model {
	t.Helper()
	return NewModel(config.Default(t.TempDir()))
}

func TestView_BeforeFirstSnapshot(t *testing.T) {
	m := testModel(t)
	if !strings.Contains(m.View(), "collecting") {
		t.Errorf("initial view missing collecting indicator:\n%s", m.View())
	}
}

func TestUpdate_SnapshotRendersStatus(t *testing.T) {
	m := testModel(t)

	snap := &status.Snapshot{
		Taken:         time.Now(),
		ActiveBackend: backend.Codex,
		PendingItems:  2,
		PlanExists:    true,
	}
	updated, _ := m.Update(snapshotMsg{snap: snap})
	m = updated.(Model)

	view := m.View()
	if !strings.Contains(view, "codex") {
		t.Errorf("view missing active backend:\n%s", view)
	}
	if !strings.Contains(view, "2 pending items") {
		t.Errorf("view missing pending items:\n%s", view)
	}
}

func TestUpdate_QuitKey(t *testing.T) {
	m := testModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("quit key produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit key did not produce tea.Quit")
	}
}

func TestUpdate_TickTriggersCollect(t *testing.T) {
	m := testModel(t)
	_, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick produced no command")
	}
	if _, ok := cmd().(snapshotMsg); !ok {
		t.Error("tick did not trigger a collection")
	}
}
