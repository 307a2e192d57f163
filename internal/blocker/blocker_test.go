package blocker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := Fingerprint([]string{"Q-3", "Q-1"})
	b := Fingerprint([]string{"Q-1", "Q-3"})
	if a != b {
		t.Errorf("Fingerprint order-dependent: %s != %s", a, b)
	}
	if a == "" {
		t.Error("non-empty set produced empty fingerprint")
	}
}

func TestFingerprint_Empty(t *testing.T) {
	if got := Fingerprint(nil); got != "" {
		t.Errorf("Fingerprint(nil) = %q, want empty", got)
	}
}

func TestFingerprint_DistinctSets(t *testing.T) {
	if Fingerprint([]string{"Q-1"}) == Fingerprint([]string{"Q-2"}) {
		t.Error("different sets collided")
	}
	if Fingerprint([]string{"Q-1"}) == Fingerprint([]string{"Q-1", "Q-2"}) {
		t.Error("subset collided with superset")
	}
}

func writeQuestions(t *testing.T, path string, ids ...string) {
	t.Helper()
	var content string
	for _, id := range ids {
		content += "## " + id + "\nStatus: awaiting response\n\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCheckAndUpdate_ThresholdThree(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "QUESTIONS.md")
	writeQuestions(t, doc, "Q-1", "Q-2")

	d := NewDetector(doc, &MemStore{})
	want := []bool{false, false, true}
	for i, w := range want {
		got, err := d.CheckAndUpdate()
		if err != nil {
			t.Fatalf("call %d: error = %v", i+1, err)
		}
		if got != w {
			t.Errorf("call %d: blocked = %v, want %v", i+1, got, w)
		}
	}
}

func TestCheckAndUpdate_FingerprintChangeResetsCounter(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "QUESTIONS.md")
	d := NewDetector(doc, &MemStore{})

	writeQuestions(t, doc, "Q-1")
	if blocked, _ := d.CheckAndUpdate(); blocked {
		t.Error("call 1: blocked, want not")
	}

	// A new question changes the set; the counter restarts at 1.
	writeQuestions(t, doc, "Q-1", "Q-2")
	if blocked, _ := d.CheckAndUpdate(); blocked {
		t.Error("call 2: blocked after fingerprint change, want not")
	}
	if blocked, _ := d.CheckAndUpdate(); blocked {
		t.Error("call 3: blocked at count 2, want not")
	}
	blocked, err := d.CheckAndUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if !blocked {
		t.Error("call 4: not blocked at count 3, want blocked")
	}
}

func TestCheckAndUpdate_EmptySetResets(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "QUESTIONS.md")
	store := &MemStore{}
	d := NewDetector(doc, store)

	writeQuestions(t, doc, "Q-1")
	d.CheckAndUpdate()
	d.CheckAndUpdate()

	// All questions answered: counter and fingerprint clear.
	if err := os.WriteFile(doc, []byte("## Q-1\nStatus: answered\n"), 0644); err != nil {
		t.Fatal(err)
	}
	blocked, err := d.CheckAndUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Error("blocked with no open questions")
	}
	st, _ := store.Load()
	if st.Count != 0 || st.Fingerprint != "" {
		t.Errorf("state = %+v, want zero after empty set", st)
	}
}

func TestCheckAndUpdate_MissingDocument(t *testing.T) {
	d := NewDetector(filepath.Join(t.TempDir(), "missing.md"), &MemStore{})
	blocked, err := d.CheckAndUpdate()
	if err != nil {
		t.Fatalf("CheckAndUpdate() error = %v", err)
	}
	if blocked {
		t.Error("blocked with no questions document")
	}
}

func TestReset(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "QUESTIONS.md")
	writeQuestions(t, doc, "Q-1")

	store := &MemStore{}
	d := NewDetector(doc, store)
	d.CheckAndUpdate()
	d.CheckAndUpdate()

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	st, _ := store.Load()
	if st.Count != 0 {
		t.Errorf("Count = %d after Reset, want 0", st.Count)
	}

	// The same blocker needs a full threshold of cycles again.
	if blocked, _ := d.CheckAndUpdate(); blocked {
		t.Error("blocked immediately after reset")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	fs := NewFileStore(path)

	st, err := fs.Load()
	if err != nil {
		t.Fatalf("Load() of missing file: %v", err)
	}
	if st.Count != 0 || st.Fingerprint != "" {
		t.Errorf("missing file state = %+v, want zero", st)
	}

	want := State{Count: 2, Fingerprint: Fingerprint([]string{"Q-7"})}
	if err := fs.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestFileStore_GarbageCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("BLOCKER_COUNT=nope\nBLOCKER_FINGERPRINT=abc\n"), 0644); err != nil {
		t.Fatal(err)
	}
	st, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Count != 0 {
		t.Errorf("Count = %d for garbage value, want 0", st.Count)
	}
	if st.Fingerprint != "abc" {
		t.Errorf("Fingerprint = %q, want abc", st.Fingerprint)
	}
}
