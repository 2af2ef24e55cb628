package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tomyimkc/generative-agents/internal/cognition"
)

func TestThought(t *testing.T) {
	cases := []struct {
		name        string
		ev          Event
		wantPersona string
		wantPart    string
	}{
		{
			"resource send",
			Event{Type: "resource_send", Source: "Aduatuca", Target: "Bibracte", Message: "400 crop"},
			"Treasurer Lucius",
			"from Aduatuca to Bibracte",
		},
		{
			"attack",
			Event{Type: "attack_detected", Message: "incoming raid", Target: "Aduatuca"},
			"Sentinel Felix",
			"ALERT!",
		},
		{
			"build",
			Event{Type: "build_start", Message: "granary to level 5", Source: "Bibracte"},
			"Builder Gaius",
			"Village: Bibracte",
		},
		{
			"phase change",
			Event{Type: "phase_change", Phase: "Training", Message: "next cycle"},
			"Commander Marcus",
			"changed to: Training",
		},
		{
			"unknown type",
			Event{Type: "eclipse", Message: "the sun darkened", Source: "the sky"},
			"Commander Marcus",
			"(from the sky)",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			persona, text := Thought(tc.ev)
			if persona != tc.wantPersona {
				t.Errorf("got persona %q, want %q", persona, tc.wantPersona)
			}
			if !strings.Contains(text, tc.wantPart) {
				t.Errorf("thought %q missing %q", text, tc.wantPart)
			}
		})
	}
}

func TestPhaseTarget(t *testing.T) {
	persona, arena := PhaseTarget("Focus")
	if persona != "Strategist Livia" || arena != "Focus Chamber" {
		t.Errorf("got %s/%s", persona, arena)
	}
	persona, arena = PhaseTarget("never heard of it")
	if persona != "Commander Marcus" || arena != "Strategy Hall" {
		t.Errorf("unknown phase: got %s/%s", persona, arena)
	}
}

func TestPhaseDescriptionOffline(t *testing.T) {
	if got := PhaseDescription("Training", 3, false); !strings.Contains(got, "offline") {
		t.Errorf("got %q", got)
	}
	if got := PhaseDescription("Training", 3, true); !strings.Contains(got, "[Loop 3]") {
		t.Errorf("got %q", got)
	}
}

func writeState(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStateFilePoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_state.json")
	sf := NewStateFile(path, zap.NewNop())
	ctx := context.Background()

	// Missing file is quiet.
	events, err := sf.Poll(ctx)
	if err != nil || events != nil {
		t.Fatalf("got %v, %v for missing file", events, err)
	}

	writeState(t, path, `{
		"meta": {"phase": "Training", "running": true, "loop_iteration": 2},
		"events": [
			{"type": "train_start", "message": "10 legionnaires", "timestamp": 100},
			{"type": "train_complete", "message": "done", "timestamp": 101}
		]
	}`)

	events, err = sf.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	// Synthetic phase_change plus the two bot events.
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Type != "phase_change" || events[0].Phase != "Training" {
		t.Errorf("got first event %+v, want phase_change", events[0])
	}

	// Unchanged file yields nothing.
	events, _ = sf.Poll(ctx)
	if len(events) != 0 {
		t.Errorf("unchanged file produced %d events", len(events))
	}

	// Touch the file with one new event; old timestamps stay consumed.
	time.Sleep(10 * time.Millisecond)
	writeState(t, path, `{
		"meta": {"phase": "Training", "running": true, "loop_iteration": 2},
		"events": [
			{"type": "train_start", "message": "10 legionnaires", "timestamp": 100},
			{"type": "train_complete", "message": "done", "timestamp": 101},
			{"type": "attack_detected", "message": "raid", "timestamp": 102}
		]
	}`)
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}

	events, _ = sf.Poll(ctx)
	if len(events) != 1 || events[0].Type != "attack_detected" {
		t.Errorf("got %+v, want only the new attack event", events)
	}
	if sf.Phase() != "Training" {
		t.Errorf("got phase %q", sf.Phase())
	}
	if !sf.Running() {
		t.Error("bot should be running")
	}
}

func TestStateFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_state.json")
	writeState(t, path, `{not json`)
	sf := NewStateFile(path, zap.NewNop())

	events, err := sf.Poll(context.Background())
	if err != nil || events != nil {
		t.Errorf("malformed file: got %v, %v", events, err)
	}
}

type staticSource struct {
	events []Event
}

func (s *staticSource) Poll(context.Context) ([]Event, error) {
	out := s.events
	s.events = nil
	return out, nil
}

func TestIngestorDrain(t *testing.T) {
	src := &staticSource{events: []Event{
		{Type: "build_start", Message: "granary", Source: "Aduatuca"},
		{Type: "phase_change", Phase: "Focus", Message: "shift"},
		{}, // dropped
	}}

	var got []cognition.ExternalEvent
	in := NewIngestor([]Source{src}, func(ev cognition.ExternalEvent) {
		got = append(got, ev)
	}, zap.NewNop())

	n := in.Drain(context.Background())
	if n != 2 {
		t.Fatalf("forwarded %d, want 2", n)
	}
	if got[0].Persona != "Builder Gaius" {
		t.Errorf("got persona %q, want Builder Gaius", got[0].Persona)
	}
	if got[1].Persona != "" {
		t.Errorf("phase change should broadcast, got persona %q", got[1].Persona)
	}
	if got[0].Source != "bridge" {
		t.Errorf("got source %q", got[0].Source)
	}

	// Second drain finds nothing.
	if n := in.Drain(context.Background()); n != 0 {
		t.Errorf("second drain forwarded %d", n)
	}
}

func TestIngestorPhaseHook(t *testing.T) {
	src := &staticSource{events: []Event{
		{Type: "build_start", Message: "granary", Source: "Aduatuca"},
		{Type: "phase_change", Phase: "Defense", Message: "shift"},
	}}

	in := NewIngestor([]Source{src}, func(cognition.ExternalEvent) {}, zap.NewNop())
	var phases []string
	in.OnPhaseChange(func(ev Event) {
		phases = append(phases, ev.Phase)
	})

	in.Drain(context.Background())
	if len(phases) != 1 || phases[0] != "Defense" {
		t.Errorf("phase hook calls = %v, want [Defense]", phases)
	}
}
