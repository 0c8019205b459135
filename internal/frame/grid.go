package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// Grid layout used by the object-position encoding.
const (
	GridRows = "0123456"
	GridCols = "abcdefg"
)

// Cell is a position in the spatial grid.
type Cell struct {
	Row int
	Col byte
}

// String returns the "{col}{row}" label, e.g. "a0".
func (c Cell) String() string {
	return string(c.Col) + strconv.Itoa(c.Row)
}

// Valid reports whether the cell lies inside the grid.
func (c Cell) Valid() bool {
	return c.Row >= 0 && c.Row < len(GridRows) && strings.IndexByte(GridCols, c.Col) >= 0
}

// Token returns the grid token for a category placed in this cell.
func (c Cell) Token(cat Category) string {
	return c.String() + strings.ReplaceAll(string(cat), " ", "")
}

// MarshalText lets Cell be used as a JSON map key.
func (c Cell) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a cell label.
func (c *Cell) UnmarshalText(b []byte) error {
	parsed, err := ParseCell(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCell parses "a0" or the "row,col" form ("0,a").
func ParseCell(s string) (Cell, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var cell Cell
	if row, col, ok := strings.Cut(s, ","); ok {
		r, err := strconv.Atoi(strings.TrimSpace(row))
		col = strings.TrimSpace(col)
		if err != nil || len(col) != 1 {
			return Cell{}, fmt.Errorf("invalid grid cell %q", s)
		}
		cell = Cell{Row: r, Col: col[0]}
	} else {
		if len(s) < 2 {
			return Cell{}, fmt.Errorf("invalid grid cell %q", s)
		}
		r, err := strconv.Atoi(s[1:])
		if err != nil {
			return Cell{}, fmt.Errorf("invalid grid cell %q", s)
		}
		cell = Cell{Row: r, Col: s[0]}
	}
	if !cell.Valid() {
		return Cell{}, fmt.Errorf("grid cell %q outside %dx%d grid", s, len(GridCols), len(GridRows))
	}
	return cell, nil
}

// CellForBox returns the grid cell whose top-left corner is nearest to the
// centre of a normalized box. Ties resolve to the first cell in row-major order.
func CellForBox(box [4]float64) Cell {
	x := (box[0] + box[2]) / 2
	y := (box[1] + box[3]) / 2

	nRows, nCols := len(GridRows), len(GridCols)
	best := Cell{Row: 0, Col: GridCols[0]}
	bestDist := -1.0
	for i := 0; i < nRows; i++ {
		for j := 0; j < nCols; j++ {
			dx := x - float64(j)/float64(nCols)
			dy := y - float64(i)/float64(nRows)
			d := dx*dx + dy*dy
			if bestDist < 0 || d < bestDist {
				bestDist = d
				best = Cell{Row: i, Col: GridCols[j]}
			}
		}
	}
	return best
}

// EncodeBox maps a pixel-space box to its grid token.
func EncodeBox(box [4]float64, width, height int, cat Category) string {
	return CellForBox(NormalizeBox(box, width, height)).Token(cat)
}

// NormalizeBox scales a pixel-space box into [0,1] coordinates.
func NormalizeBox(box [4]float64, width, height int) [4]float64 {
	w, h := float64(width), float64(height)
	if w <= 0 || h <= 0 {
		return box
	}
	return [4]float64{box[0] / w, box[1] / h, box[2] / w, box[3] / h}
}
