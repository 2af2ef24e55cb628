package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tomyimkc/generative-agents/internal/maze"
)

// ErrFrameNotFound is returned when a tick has no recorded frame.
var ErrFrameNotFound = errors.New("frame not found")

// AgentFrame is one agent's state inside a frame.
type AgentFrame struct {
	Position maze.Coord `json:"position"`
	Action   string     `json:"action"`
	Said     string     `json:"said,omitempty"`
	Blocked  bool       `json:"blocked,omitempty"`
}

// Frame is the committed world state for one tick: every agent's
// position and action, keyed by persona name, plus the events injected
// that tick. Frames are append-only; a tick is written once.
type Frame struct {
	RunID  string                `json:"run_id"`
	Tick   int64                 `json:"tick"`
	Time   time.Time             `json:"time"`
	Agents map[string]AgentFrame `json:"agents"`
	Events []string              `json:"events,omitempty"`
}

// FrameLog persists the per-tick frame history of a run.
type FrameLog interface {
	Append(ctx context.Context, frame Frame) error
	Frame(ctx context.Context, runID string, tick int64) (Frame, error)
	Range(ctx context.Context, runID string, from, to int64) ([]Frame, error)
}

// AppendFrame writes a frame row. The (run_id, tick) key is unique, so
// re-running a tick fails instead of silently rewriting history.
func (s *Store) AppendFrame(ctx context.Context, frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame %d: %w", frame.Tick, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO frames (run_id, tick, sim_time, payload)
		VALUES ($1, $2, $3, $4)`,
		frame.RunID, frame.Tick, frame.Time, payload,
	)
	if err != nil {
		return fmt.Errorf("append frame %s/%d: %w", frame.RunID, frame.Tick, err)
	}
	return nil
}

// Frame reads one frame by run and tick.
func (s *Store) Frame(ctx context.Context, runID string, tick int64) (Frame, error) {
	var payload []byte
	err := s.db.QueryRow(ctx,
		`SELECT payload FROM frames WHERE run_id = $1 AND tick = $2`,
		runID, tick,
	).Scan(&payload)
	if err != nil {
		return Frame{}, fmt.Errorf("frame %s/%d: %w", runID, tick, ErrFrameNotFound)
	}
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame %s/%d: %w", runID, tick, err)
	}
	return frame, nil
}

// Range reads frames with from <= tick <= to in tick order.
func (s *Store) Range(ctx context.Context, runID string, from, to int64) ([]Frame, error) {
	rows, err := s.db.Query(ctx, `
		SELECT payload FROM frames
		WHERE run_id = $1 AND tick BETWEEN $2 AND $3
		ORDER BY tick`,
		runID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("range frames %s [%d,%d]: %w", runID, from, to, err)
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, rows.Err()
}

// LatestTick returns the highest recorded tick for a run, or -1 when
// the run has no frames yet.
func (s *Store) LatestTick(ctx context.Context, runID string) (int64, error) {
	var tick int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(tick), -1) FROM frames WHERE run_id = $1`, runID,
	).Scan(&tick)
	if err != nil {
		return -1, fmt.Errorf("latest tick %s: %w", runID, err)
	}
	return tick, nil
}

// Append satisfies FrameLog.
func (s *Store) Append(ctx context.Context, frame Frame) error {
	return s.AppendFrame(ctx, frame)
}
