package bridge

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// botState mirrors the bot's state file layout.
type botState struct {
	Meta struct {
		Phase         string `json:"phase"`
		Running       bool   `json:"running"`
		LoopIteration int    `json:"loop_iteration"`
	} `json:"meta"`
	Events   []Event                    `json:"events"`
	Villages map[string]json.RawMessage `json:"villages"`
}

// StateFile watches the bot's state file and turns its changes into
// events. The file is re-read only when its mtime moves; a missing or
// malformed file yields an empty batch, never an error, so a dead bot
// does not disturb the simulation.
type StateFile struct {
	path   string
	logger *zap.Logger

	mu          sync.Mutex
	lastMtime   time.Time
	cached      botState
	lastEventTS float64
	lastPhase   string
}

// NewStateFile creates a watcher for the given state file path.
func NewStateFile(path string, logger *zap.Logger) *StateFile {
	return &StateFile{path: path, logger: logger}
}

// Poll re-reads the file when changed and returns events not seen in
// earlier polls. A phase change is reported as a synthetic phase_change
// event in front of the batch.
func (s *StateFile) Poll(_ context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return nil, nil
	}
	if !info.ModTime().After(s.lastMtime) {
		return nil, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("read bot state", zap.Error(err))
		return nil, nil
	}
	var state botState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Warn("parse bot state", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	s.lastMtime = info.ModTime()
	s.cached = state

	var out []Event
	if state.Meta.Phase != s.lastPhase {
		s.lastPhase = state.Meta.Phase
		out = append(out, Event{
			Type:    "phase_change",
			Phase:   state.Meta.Phase,
			Message: PhaseDescription(state.Meta.Phase, state.Meta.LoopIteration, state.Meta.Running),
		})
	}

	maxTS := s.lastEventTS
	for _, ev := range state.Events {
		if ev.Timestamp <= s.lastEventTS {
			continue
		}
		out = append(out, ev)
		if ev.Timestamp > maxTS {
			maxTS = ev.Timestamp
		}
	}
	s.lastEventTS = maxTS
	return out, nil
}

// Phase returns the last seen bot phase, or "init" before the first
// successful poll.
func (s *StateFile) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached.Meta.Phase == "" {
		return "init"
	}
	return s.cached.Meta.Phase
}

// Running reports whether the bot marked itself running.
func (s *StateFile) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached.Meta.Running
}

// Description returns a readable summary of the bot's current state.
func (s *StateFile) Description() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PhaseDescription(s.cached.Meta.Phase, s.cached.Meta.LoopIteration, s.cached.Meta.Running)
}

var _ Source = (*StateFile)(nil)
