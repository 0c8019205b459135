package query

import (
	"fmt"
	"strings"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
)

// Params is the flat form of a search request used by the CLI and the MCP
// tools. Blank fields leave their modality inactive.
type Params struct {
	Text string

	// Grid maps cell labels ("a0" or "0,a") to category names.
	Grid       map[string]string
	Logic      string
	MaxObjects int

	Tag      string
	Entities []string

	Weights Weights
}

// Build turns params into a validated Structure.
func Build(p Params) (Structure, error) {
	var s Structure

	if text := strings.TrimSpace(p.Text); text != "" {
		s.Text = &Weighted[TextQuery]{Query: TextQuery{Text: text}, Weight: p.Weights.Text}
	}

	if len(p.Grid) > 0 || p.MaxObjects > 0 {
		q, err := objectQuery(p)
		if err != nil {
			return Structure{}, err
		}
		s.Object = &Weighted[ObjectQuery]{Query: q, Weight: p.Weights.Object}
	}

	entities := make([]string, 0, len(p.Entities))
	for _, e := range p.Entities {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			entities = append(entities, e)
		}
	}
	if tag := strings.TrimSpace(p.Tag); tag != "" || len(entities) > 0 {
		s.Tag = &Weighted[TagQuery]{Query: TagQuery{Text: tag, Entities: entities}, Weight: p.Weights.Tag}
	}

	if err := s.Validate(); err != nil {
		return Structure{}, err
	}
	return s, nil
}

func objectQuery(p Params) (ObjectQuery, error) {
	logic, err := ParseLogic(p.Logic)
	if err != nil {
		return ObjectQuery{}, fserrors.InvalidQuery(err.Error(), err)
	}
	q := ObjectQuery{
		Grid:       make(map[frame.Cell]frame.Category, len(p.Grid)),
		Logic:      logic,
		MaxObjects: p.MaxObjects,
	}
	for label, name := range p.Grid {
		cell, err := frame.ParseCell(label)
		if err != nil {
			return ObjectQuery{}, fserrors.InvalidQuery(err.Error(), err)
		}
		cat, ok := frame.ParseCategory(name)
		if !ok {
			return ObjectQuery{}, fserrors.InvalidQuery(fmt.Sprintf("unknown category %q", name), nil)
		}
		q.Grid[cell] = cat
	}
	return q, nil
}

// ParseGrid parses "a0=dog;b1=person" into a cell-to-category map.
// Entries are separated by semicolons or spaces.
func ParseGrid(spec string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.FieldsFunc(spec, func(r rune) bool { return r == ';' || r == ' ' }) {
		cell, cat, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(cell) == "" || strings.TrimSpace(cat) == "" {
			return nil, fserrors.InvalidQuery(fmt.Sprintf("invalid grid entry %q (want cell=category)", part), nil)
		}
		out[strings.TrimSpace(cell)] = strings.TrimSpace(cat)
	}
	return out, nil
}
