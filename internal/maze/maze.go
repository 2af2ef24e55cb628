package maze

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrOutOfBounds is returned for coordinates outside the grid.
	ErrOutOfBounds = errors.New("coordinate out of bounds")
	// ErrUnwalkable is returned when a move targets a wall tile.
	ErrUnwalkable = errors.New("tile is not walkable")
	// ErrOccupied is returned when a move targets a tile already held by
	// another agent.
	ErrOccupied = errors.New("tile is occupied")
)

// Coord addresses a tile by row and column.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}

// Less orders coordinates row-major. Used to keep neighbor expansion and
// iteration deterministic.
func (c Coord) Less(o Coord) bool {
	if c.Row != o.Row {
		return c.Row < o.Row
	}
	return c.Col < o.Col
}

// Tile describes one cell of the world grid. Sector and Arena name the
// containing regions; Object names an interactable placed on the tile,
// if any.
type Tile struct {
	Coord    Coord  `json:"coord"`
	Walkable bool   `json:"walkable"`
	Sector   string `json:"sector,omitempty"`
	Arena    string `json:"arena,omitempty"`
	Object   string `json:"object,omitempty"`
}

// Maze is the shared tile grid. Occupancy is tracked per tile and
// mutated only through Place, Move and Remove, which hold the write
// lock; at most one agent may hold a tile at a time.
type Maze struct {
	mu        sync.RWMutex
	name      string
	rows      int
	cols      int
	tiles     [][]Tile
	occupants map[Coord]uuid.UUID
	arenas    map[string][]Coord
}

type datasetArena struct {
	Name    string           `json:"name"`
	Tiles   []Coord          `json:"tiles"`
	Objects map[string]Coord `json:"objects,omitempty"`
}

type datasetSector struct {
	Name   string         `json:"name"`
	Arenas []datasetArena `json:"arenas"`
}

type dataset struct {
	Name    string          `json:"name"`
	Rows    int             `json:"rows"`
	Cols    int             `json:"cols"`
	Walls   []Coord         `json:"walls"`
	Sectors []datasetSector `json:"sectors"`
}

// Load reads a maze dataset from a JSON file.
func Load(path string) (*Maze, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read maze dataset: %w", err)
	}
	var ds dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("parse maze dataset: %w", err)
	}
	return build(ds)
}

// build assembles a Maze from a parsed dataset. All tiles start walkable;
// walls are then carved out, and sector/arena/object annotations applied.
func build(ds dataset) (*Maze, error) {
	if ds.Rows <= 0 || ds.Cols <= 0 {
		return nil, fmt.Errorf("maze %q: invalid dimensions %dx%d", ds.Name, ds.Rows, ds.Cols)
	}

	m := &Maze{
		name:      ds.Name,
		rows:      ds.Rows,
		cols:      ds.Cols,
		tiles:     make([][]Tile, ds.Rows),
		occupants: make(map[Coord]uuid.UUID),
		arenas:    make(map[string][]Coord),
	}
	for r := 0; r < ds.Rows; r++ {
		m.tiles[r] = make([]Tile, ds.Cols)
		for c := 0; c < ds.Cols; c++ {
			m.tiles[r][c] = Tile{Coord: Coord{Row: r, Col: c}, Walkable: true}
		}
	}
	for _, w := range ds.Walls {
		if !m.inBounds(w) {
			return nil, fmt.Errorf("maze %q: wall %s: %w", ds.Name, w, ErrOutOfBounds)
		}
		m.tiles[w.Row][w.Col].Walkable = false
	}
	for _, sec := range ds.Sectors {
		for _, ar := range sec.Arenas {
			for _, c := range ar.Tiles {
				if !m.inBounds(c) {
					return nil, fmt.Errorf("maze %q: arena %q tile %s: %w", ds.Name, ar.Name, c, ErrOutOfBounds)
				}
				t := &m.tiles[c.Row][c.Col]
				t.Sector = sec.Name
				t.Arena = ar.Name
				m.arenas[ar.Name] = append(m.arenas[ar.Name], c)
			}
			for obj, c := range ar.Objects {
				if !m.inBounds(c) {
					return nil, fmt.Errorf("maze %q: object %q at %s: %w", ds.Name, obj, c, ErrOutOfBounds)
				}
				m.tiles[c.Row][c.Col].Object = obj
			}
		}
	}
	return m, nil
}

// Name returns the dataset name.
func (m *Maze) Name() string { return m.name }

// Size returns the grid dimensions.
func (m *Maze) Size() (rows, cols int) { return m.rows, m.cols }

func (m *Maze) inBounds(c Coord) bool {
	return c.Row >= 0 && c.Row < m.rows && c.Col >= 0 && c.Col < m.cols
}

// TileAt returns the tile at c.
func (m *Maze) TileAt(c Coord) (Tile, error) {
	if !m.inBounds(c) {
		return Tile{}, fmt.Errorf("tile %s: %w", c, ErrOutOfBounds)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiles[c.Row][c.Col], nil
}

// IsWalkable reports whether c is inside the grid and not a wall.
func (m *Maze) IsWalkable(c Coord) bool {
	if !m.inBounds(c) {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiles[c.Row][c.Col].Walkable
}

// OccupantOf returns the agent holding c, if any.
func (m *Maze) OccupantOf(c Coord) (uuid.UUID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.occupants[c]
	return id, ok
}

// Arenas returns all arena names in sorted order.
func (m *Maze) Arenas() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.arenas))
	for name := range m.arenas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArenaTiles returns the tiles annotated with the given arena name, in
// dataset order.
func (m *Maze) ArenaTiles(name string) []Coord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Coord, len(m.arenas[name]))
	copy(out, m.arenas[name])
	return out
}

// Place puts an agent onto c. It fails if the tile is a wall or held by
// a different agent. Placing an agent that already holds a tile releases
// its previous tile.
func (m *Maze) Place(id uuid.UUID, c Coord) error {
	if !m.inBounds(c) {
		return fmt.Errorf("place at %s: %w", c, ErrOutOfBounds)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tiles[c.Row][c.Col].Walkable {
		return fmt.Errorf("place at %s: %w", c, ErrUnwalkable)
	}
	if holder, ok := m.occupants[c]; ok && holder != id {
		return fmt.Errorf("place at %s: %w", c, ErrOccupied)
	}
	for prev, holder := range m.occupants {
		if holder == id {
			delete(m.occupants, prev)
			break
		}
	}
	m.occupants[c] = id
	return nil
}

// Move relocates an agent from its current tile to c. Same rules as
// Place; the agent must already hold a tile.
func (m *Maze) Move(id uuid.UUID, c Coord) error {
	if !m.inBounds(c) {
		return fmt.Errorf("move to %s: %w", c, ErrOutOfBounds)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tiles[c.Row][c.Col].Walkable {
		return fmt.Errorf("move to %s: %w", c, ErrUnwalkable)
	}
	if holder, ok := m.occupants[c]; ok && holder != id {
		return fmt.Errorf("move to %s: %w", c, ErrOccupied)
	}
	var from Coord
	found := false
	for prev, holder := range m.occupants {
		if holder == id {
			from, found = prev, true
			break
		}
	}
	if !found {
		return fmt.Errorf("move to %s: agent %s holds no tile", c, id)
	}
	delete(m.occupants, from)
	m.occupants[c] = id
	return nil
}

// Remove releases whatever tile the agent holds.
func (m *Maze) Remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c, holder := range m.occupants {
		if holder == id {
			delete(m.occupants, c)
			return
		}
	}
}

// View is a frozen read of the maze taken at one instant. Occupancy in
// a View does not change as the live maze mutates.
type View struct {
	rows      int
	cols      int
	tiles     [][]Tile
	occupants map[Coord]uuid.UUID
}

// Snapshot freezes the current grid and occupancy.
func (m *Maze) Snapshot() *View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	occ := make(map[Coord]uuid.UUID, len(m.occupants))
	for c, id := range m.occupants {
		occ[c] = id
	}
	return &View{rows: m.rows, cols: m.cols, tiles: m.tiles, occupants: occ}
}

// TileAt returns the tile at c, or false outside the grid.
func (v *View) TileAt(c Coord) (Tile, bool) {
	if c.Row < 0 || c.Row >= v.rows || c.Col < 0 || c.Col >= v.cols {
		return Tile{}, false
	}
	return v.tiles[c.Row][c.Col], true
}

// IsWalkable reports whether c is inside the grid and not a wall.
func (v *View) IsWalkable(c Coord) bool {
	t, ok := v.TileAt(c)
	return ok && t.Walkable
}

// OccupantOf returns the agent that held c at snapshot time.
func (v *View) OccupantOf(c Coord) (uuid.UUID, bool) {
	id, ok := v.occupants[c]
	return id, ok
}

// Nearby returns all tiles within the square of the given radius around
// center, in row-major order, the center excluded.
func (v *View) Nearby(center Coord, radius int) []Tile {
	var out []Tile
	for r := center.Row - radius; r <= center.Row+radius; r++ {
		for c := center.Col - radius; c <= center.Col+radius; c++ {
			co := Coord{Row: r, Col: c}
			if co == center {
				continue
			}
			if t, ok := v.TileAt(co); ok {
				out = append(out, t)
			}
		}
	}
	return out
}
