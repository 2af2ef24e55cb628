package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// FileLog stores frames as one JSON file per tick under
// <root>/<run>/movement/<tick>.json. It is the zero-dependency frame
// log; the simulation uses it whenever Postgres is not configured.
type FileLog struct {
	root string
}

// NewFileLog creates the storage root if needed.
func NewFileLog(root string) (*FileLog, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileLog{root: root}, nil
}

func (l *FileLog) framePath(runID string, tick int64) string {
	return filepath.Join(l.root, runID, "movement", strconv.FormatInt(tick, 10)+".json")
}

// Append writes the frame file. An existing tick file is an error so
// history stays append-only.
func (l *FileLog) Append(_ context.Context, frame Frame) error {
	path := l.framePath(frame.RunID, frame.Tick)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("append frame %s/%d: tick already recorded", frame.RunID, frame.Tick)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create movement dir: %w", err)
	}
	payload, err := json.MarshalIndent(frame, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal frame %d: %w", frame.Tick, err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write frame %s/%d: %w", frame.RunID, frame.Tick, err)
	}
	return nil
}

// Frame reads one frame back.
func (l *FileLog) Frame(_ context.Context, runID string, tick int64) (Frame, error) {
	raw, err := os.ReadFile(l.framePath(runID, tick))
	if err != nil {
		if os.IsNotExist(err) {
			return Frame{}, fmt.Errorf("frame %s/%d: %w", runID, tick, ErrFrameNotFound)
		}
		return Frame{}, fmt.Errorf("read frame %s/%d: %w", runID, tick, err)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame %s/%d: %w", runID, tick, err)
	}
	return frame, nil
}

// Range reads frames with from <= tick <= to in tick order. Missing
// ticks inside the window are skipped.
func (l *FileLog) Range(ctx context.Context, runID string, from, to int64) ([]Frame, error) {
	var frames []Frame
	for tick := from; tick <= to; tick++ {
		frame, err := l.Frame(ctx, runID, tick)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// LatestTick scans the movement directory for the highest tick, or -1
// for a fresh run.
func (l *FileLog) LatestTick(_ context.Context, runID string) (int64, error) {
	dir := filepath.Join(l.root, runID, "movement")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return -1, fmt.Errorf("read movement dir: %w", err)
	}
	latest := int64(-1)
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		tick, err := strconv.ParseInt(name[:len(name)-len(".json")], 10, 64)
		if err != nil {
			continue
		}
		if tick > latest {
			latest = tick
		}
	}
	return latest, nil
}
