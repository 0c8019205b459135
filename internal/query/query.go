// Package query defines the per-request query model: one query shape per
// modality, weighted pairs and the structure aggregating them.
package query

import (
	"fmt"
	"sort"
	"strings"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
)

// Query is a modality-specific query. The set of implementations is closed.
type Query interface {
	Modality() frame.Modality
	Validate() error
	isQuery()
}

// TextQuery is a free-text query.
type TextQuery struct {
	Text string `json:"text"`
}

func (TextQuery) Modality() frame.Modality { return frame.ModalityText }
func (TextQuery) isQuery()                 {}

// Validate rejects blank text.
func (q TextQuery) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fserrors.InvalidQuery("text query is empty", nil)
	}
	return nil
}

// Logic combines the cells of an object query.
type Logic string

const (
	LogicOR  Logic = "OR"
	LogicAND Logic = "AND"
)

// ParseLogic accepts "and"/"or" in any case. Empty defaults to OR.
func ParseLogic(s string) (Logic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "OR":
		return LogicOR, nil
	case "AND":
		return LogicAND, nil
	default:
		return "", fmt.Errorf("invalid logic %q (valid: AND, OR)", s)
	}
}

// ObjectQuery asks for categories at grid positions.
type ObjectQuery struct {
	Grid  map[frame.Cell]frame.Category `json:"grid"`
	Logic Logic                         `json:"logic"`

	// MaxObjects drops frames with more detected objects. Zero disables it.
	MaxObjects int `json:"max_objects,omitempty"`
}

func (ObjectQuery) Modality() frame.Modality { return frame.ModalityObject }
func (ObjectQuery) isQuery()                 {}

// Validate checks cells, categories, logic and the object limit.
func (q ObjectQuery) Validate() error {
	if len(q.Grid) == 0 {
		return fserrors.InvalidQuery("object query has no grid cells", nil)
	}
	for cell, cat := range q.Grid {
		if !cell.Valid() {
			return fserrors.InvalidQuery(fmt.Sprintf("grid cell %s is outside the grid", cell), nil)
		}
		if _, ok := frame.ParseCategory(string(cat)); !ok {
			return fserrors.InvalidQuery(fmt.Sprintf("unknown category %q", cat), nil)
		}
	}
	if q.Logic != "" && q.Logic != LogicAND && q.Logic != LogicOR {
		return fserrors.InvalidQuery(fmt.Sprintf("invalid logic %q", q.Logic), nil)
	}
	if q.MaxObjects < 0 {
		return fserrors.InvalidQuery("max objects must be positive", nil)
	}
	return nil
}

// Tokens returns the sorted grid tokens of the query, e.g. ["a0dog"].
func (q ObjectQuery) Tokens() []string {
	tokens := make([]string, 0, len(q.Grid))
	for cell, cat := range q.Grid {
		tokens = append(tokens, cell.Token(cat))
	}
	sort.Strings(tokens)
	return tokens
}

// TagQuery is a tag phrase plus explicitly supplied entities.
type TagQuery struct {
	Text     string   `json:"text"`
	Entities []string `json:"entities,omitempty"`
}

func (TagQuery) Modality() frame.Modality { return frame.ModalityTag }
func (TagQuery) isQuery()                 {}

// Validate requires text or at least one entity.
func (q TagQuery) Validate() error {
	if strings.TrimSpace(q.Text) == "" && len(q.Entities) == 0 {
		return fserrors.InvalidQuery("tag query is empty", nil)
	}
	return nil
}

// Weighted pairs exactly one query with its weight in [0,1].
type Weighted[Q Query] struct {
	Query  Q       `json:"query"`
	Weight float64 `json:"weight"`
}

// Structure aggregates at most one weighted query per modality.
type Structure struct {
	Text   *Weighted[TextQuery]   `json:"text,omitempty"`
	Object *Weighted[ObjectQuery] `json:"object,omitempty"`
	Tag    *Weighted[TagQuery]    `json:"tag,omitempty"`
}

// Active returns the modalities with a query, in canonical order.
func (s Structure) Active() []frame.Modality {
	var out []frame.Modality
	for _, m := range frame.Modalities() {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// Has reports whether a modality has a query.
func (s Structure) Has(m frame.Modality) bool {
	switch m {
	case frame.ModalityText:
		return s.Text != nil
	case frame.ModalityObject:
		return s.Object != nil
	case frame.ModalityTag:
		return s.Tag != nil
	}
	return false
}

// Empty reports whether no modality is active.
func (s Structure) Empty() bool {
	return s.Text == nil && s.Object == nil && s.Tag == nil
}

// Weights returns the raw weights; absent modalities weigh 0.
func (s Structure) Weights() Weights {
	var w Weights
	if s.Text != nil {
		w.Text = s.Text.Weight
	}
	if s.Object != nil {
		w.Object = s.Object.Weight
	}
	if s.Tag != nil {
		w.Tag = s.Tag.Weight
	}
	return w
}

// Validate checks every active query and its weight.
func (s Structure) Validate() error {
	check := func(m frame.Modality, q Query, w float64) error {
		if w < 0 || w > 1 {
			return fserrors.InvalidQuery(fmt.Sprintf("%s weight %.3f outside [0,1]", m, w), nil)
		}
		if err := q.Validate(); err != nil {
			return err
		}
		return nil
	}
	if s.Text != nil {
		if err := check(frame.ModalityText, s.Text.Query, s.Text.Weight); err != nil {
			return err
		}
	}
	if s.Object != nil {
		if err := check(frame.ModalityObject, s.Object.Query, s.Object.Weight); err != nil {
			return err
		}
	}
	if s.Tag != nil {
		if err := check(frame.ModalityTag, s.Tag.Query, s.Tag.Weight); err != nil {
			return err
		}
	}
	return nil
}

// RerankText builds the combined query string used by text rerankers:
// text query, then object grid tokens, then tag entities.
func (s Structure) RerankText() string {
	var parts []string
	if s.Text != nil && strings.TrimSpace(s.Text.Query.Text) != "" {
		parts = append(parts, strings.TrimSpace(s.Text.Query.Text))
	}
	if s.Object != nil {
		parts = append(parts, s.Object.Query.Tokens()...)
	}
	if s.Tag != nil {
		if len(s.Tag.Query.Entities) > 0 {
			parts = append(parts, s.Tag.Query.Entities...)
		} else if t := strings.TrimSpace(s.Tag.Query.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Describe returns a short log-friendly summary such as "text+object".
func (s Structure) Describe() string {
	active := s.Active()
	if len(active) == 0 {
		return "none"
	}
	names := make([]string, len(active))
	for i, m := range active {
		names[i] = m.String()
	}
	return strings.Join(names, "+")
}
