// Package session keeps per-user search context between CLI invocations:
// the object grid being drawn, its panel logic and object limit, modality
// weights and the last text and tag queries.
package session

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/pkg/version"
)

// Session is one named search context.
type Session struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	User    string        `json:"user"`
	Grid    Grid          `json:"grid"`
	Weights query.Weights `json:"weights"`

	LastText string `json:"last_text,omitempty"`
	LastTag  string `json:"last_tag,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	Version   string    `json:"version"`

	// SessionDir is where the session is stored. Not persisted.
	SessionDir string `json:"-"`
}

// Info summarises a session for listing.
type Info struct {
	Name     string
	User     string
	Objects  int
	LastUsed time.Time
	Size     int64
}

// NewSession creates a session with an empty grid, OR logic and the given
// default weights.
func NewSession(name, user, sessionDir string, weights query.Weights) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		Name:       name,
		User:       user,
		Grid:       NewGrid(),
		Weights:    weights,
		CreatedAt:  now,
		LastUsed:   now,
		Version:    version.Version,
		SessionDir: sessionDir,
	}
}

// Touch updates LastUsed to now.
func (s *Session) Touch() {
	s.LastUsed = time.Now()
}

// IsStale reports whether the session was unused for longer than maxAge.
func (s *Session) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUsed) > maxAge
}

// ToInfo converts the session for listing.
func (s *Session) ToInfo(size int64) *Info {
	return &Info{
		Name:     s.Name,
		User:     s.User,
		Objects:  s.Grid.Len(),
		LastUsed: s.LastUsed,
		Size:     size,
	}
}

// Grid is the object-position panel: which category is expected at which
// cell, combined with AND or OR, optionally capped by an object count.
type Grid struct {
	Cells      map[frame.Cell]frame.Category `json:"cells"`
	Logic      query.Logic                   `json:"logic"`
	MaxObjects int                           `json:"max_objects,omitempty"`
}

// NewGrid returns an empty OR grid.
func NewGrid() Grid {
	return Grid{Cells: make(map[frame.Cell]frame.Category), Logic: query.LogicOR}
}

// Add places category at cell, replacing what was there.
func (g *Grid) Add(cell frame.Cell, cat frame.Category) error {
	if !cell.Valid() {
		return fmt.Errorf("grid cell %s is outside the grid", cell)
	}
	if _, ok := frame.ParseCategory(string(cat)); !ok {
		return fmt.Errorf("unknown category %q", cat)
	}
	if g.Cells == nil {
		g.Cells = make(map[frame.Cell]frame.Category)
	}
	g.Cells[cell] = cat
	return nil
}

// Remove empties cell. Removing an empty cell is a no-op.
func (g *Grid) Remove(cell frame.Cell) {
	delete(g.Cells, cell)
}

// Get returns the category at cell.
func (g *Grid) Get(cell frame.Cell) (frame.Category, bool) {
	cat, ok := g.Cells[cell]
	return cat, ok
}

// Clear empties every cell. Logic and the object limit are kept.
func (g *Grid) Clear() {
	clear(g.Cells)
}

// Len returns the number of occupied cells.
func (g *Grid) Len() int {
	return len(g.Cells)
}

// SetLogic sets the panel logic.
func (g *Grid) SetLogic(l query.Logic) error {
	if l != query.LogicAND && l != query.LogicOR {
		return fmt.Errorf("panel logic must be %q or %q", query.LogicAND, query.LogicOR)
	}
	g.Logic = l
	return nil
}

// SetMaxObjects sets the object limit; 0 disables it.
func (g *Grid) SetMaxObjects(n int) error {
	if n < 0 {
		return fmt.Errorf("max objects must not be negative")
	}
	g.MaxObjects = n
	return nil
}

// Query builds the object query for the grid. ok is false when the grid is
// empty. The returned query does not share state with the grid.
func (g *Grid) Query() (q query.ObjectQuery, ok bool) {
	if len(g.Cells) == 0 {
		return query.ObjectQuery{}, false
	}
	logic := g.Logic
	if logic == "" {
		logic = query.LogicOR
	}
	return query.ObjectQuery{
		Grid:       maps.Clone(g.Cells),
		Logic:      logic,
		MaxObjects: g.MaxObjects,
	}, true
}
