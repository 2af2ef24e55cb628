package maze

import (
	"errors"
	"fmt"
)

// ErrNoPath is returned when no walkable route connects two tiles.
var ErrNoPath = errors.New("no path between tiles")

// neighbor expansion order: up, left, right, down. Fixed so that equal
// length paths always resolve the same way.
var steps = [4]Coord{
	{Row: -1, Col: 0},
	{Row: 0, Col: -1},
	{Row: 0, Col: 1},
	{Row: 1, Col: 0},
}

// FindPath runs a breadth-first search over walkable tiles from src to
// dst and returns the shortest route, both endpoints included. Occupancy
// is ignored; only walls block. The same grid and endpoints always yield
// the same path.
func (v *View) FindPath(src, dst Coord) ([]Coord, error) {
	if !v.IsWalkable(src) {
		return nil, fmt.Errorf("path from %s: %w", src, ErrUnwalkable)
	}
	if !v.IsWalkable(dst) {
		return nil, fmt.Errorf("path to %s: %w", dst, ErrUnwalkable)
	}
	if src == dst {
		return []Coord{src}, nil
	}

	prev := map[Coord]Coord{src: src}
	queue := []Coord{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range steps {
			next := Coord{Row: cur.Row + s.Row, Col: cur.Col + s.Col}
			if _, seen := prev[next]; seen || !v.IsWalkable(next) {
				continue
			}
			prev[next] = cur
			if next == dst {
				return backtrack(prev, src, dst), nil
			}
			queue = append(queue, next)
		}
	}
	return nil, fmt.Errorf("path %s to %s: %w", src, dst, ErrNoPath)
}

func backtrack(prev map[Coord]Coord, src, dst Coord) []Coord {
	var rev []Coord
	for c := dst; c != src; c = prev[c] {
		rev = append(rev, c)
	}
	rev = append(rev, src)
	path := make([]Coord, len(rev))
	for i, c := range rev {
		path[len(rev)-1-i] = c
	}
	return path
}
