package run

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testMeta() Meta {
	start := time.Date(2026, 2, 13, 8, 0, 0, 0, time.UTC)
	return Meta{
		StartDate:    start,
		CurrTime:     start.Add(50 * time.Second),
		SecPerStep:   10,
		MazeName:     "travian_hq",
		PersonaNames: []string{"Commander Marcus", "Builder Greta"},
		Step:         5,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	want := testMeta()
	if err := mgr.Save("base", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := mgr.Load("base")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Step != want.Step || got.MazeName != want.MazeName {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(got.PersonaNames) != 2 || got.PersonaNames[0] != "Commander Marcus" {
		t.Errorf("persona names = %v", got.PersonaNames)
	}
}

func TestLoadMissingRun(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr.Load("ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Load missing = %v, want ErrRunNotFound", err)
	}
}

func TestForkCopiesHistory(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Save("base", testMeta()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	moveDir := filepath.Join(mgr.Dir("base"), "movement")
	if err := os.MkdirAll(moveDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(moveDir, "0.json"), []byte(`{"tick":0}`), 0o644); err != nil {
		t.Fatal(err)
	}

	meta, err := mgr.Fork("base", "fork1")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if meta.ForkedFrom != "base" {
		t.Errorf("ForkedFrom = %q, want base", meta.ForkedFrom)
	}
	data, err := os.ReadFile(filepath.Join(mgr.Dir("fork1"), "movement", "0.json"))
	if err != nil {
		t.Fatalf("read copied frame: %v", err)
	}
	if string(data) != `{"tick":0}` {
		t.Errorf("copied frame = %s", data)
	}

	loaded, err := mgr.Load("fork1")
	if err != nil {
		t.Fatalf("Load fork: %v", err)
	}
	if loaded.Step != 5 {
		t.Errorf("fork step = %d, want 5", loaded.Step)
	}
}

func TestForkDuplicateName(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Save("base", testMeta()); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Save("taken", testMeta()); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Fork("base", "taken"); !errors.Is(err, ErrRunExists) {
		t.Errorf("Fork onto existing = %v, want ErrRunExists", err)
	}
}

func TestForkMissingBase(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr.Fork("ghost", "fork1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Fork from missing = %v, want ErrRunNotFound", err)
	}
}

func TestList(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Save("alpha", testMeta()); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Save("beta", testMeta()); err != nil {
		t.Fatal(err)
	}
	names, err := mgr.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("List = %v, want 2 runs", names)
	}
}
