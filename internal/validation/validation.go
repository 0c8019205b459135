// Package validation runs retrieval regression queries against the
// search_keyframes tool.
//
// Queries are data, not code: a YAML file lists what to search and which
// frames must appear near the top, so a metadata set can carry its own
// expectations and be re-checked after any change to weights, the
// embedder or the index.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/framescope/framescope/internal/mcp"
)

// DefaultWithin is how deep expected frames are looked for.
const DefaultWithin = 10

// SearchTool is the tool every query calls.
const SearchTool = "search_keyframes"

// QuerySpec is one regression query.
type QuerySpec struct {
	ID       string            `yaml:"id" json:"id"`
	Name     string            `yaml:"name" json:"name"`
	Text     string            `yaml:"text,omitempty" json:"text,omitempty"`
	Grid     map[string]string `yaml:"grid,omitempty" json:"grid,omitempty"`
	Logic    string            `yaml:"logic,omitempty" json:"logic,omitempty"`
	Tag      string            `yaml:"tag,omitempty" json:"tag,omitempty"`
	Entities []string          `yaml:"entities,omitempty" json:"entities,omitempty"`

	// Expected lists frame keys or key prefixes; any one of them must rank
	// within Within.
	Expected []string `yaml:"expected,omitempty" json:"expected,omitempty"`
	Within   int      `yaml:"within,omitempty" json:"within,omitempty"`
	Notes    string   `yaml:"notes,omitempty" json:"-"`

	negative bool
}

// Args converts the query into search_keyframes arguments.
func (q QuerySpec) Args() map[string]any {
	args := map[string]any{"per_page": q.within()}
	if q.Text != "" {
		args["text"] = q.Text
	}
	if len(q.Grid) > 0 {
		args["grid"] = q.Grid
	}
	if q.Logic != "" {
		args["logic"] = q.Logic
	}
	if q.Tag != "" {
		args["tag"] = q.Tag
	}
	if len(q.Entities) > 0 {
		args["entities"] = q.Entities
	}
	return args
}

func (q QuerySpec) within() int {
	if q.Within > 0 {
		return q.Within
	}
	return DefaultWithin
}

// QuerySet holds the queries of one file. Positive queries must find an
// expected frame; negative queries only have to complete, with or without
// an error.
type QuerySet struct {
	Positive []QuerySpec `yaml:"positive"`
	Negative []QuerySpec `yaml:"negative"`
}

// LoadQueries reads a query file.
func LoadQueries(path string) (*QuerySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read queries file %s: %w", path, err)
	}
	return ParseQueries(data)
}

// ParseQueries decodes and checks a query file.
func ParseQueries(data []byte) (*QuerySet, error) {
	var set QuerySet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse queries YAML: %w", err)
	}

	seen := make(map[string]bool)
	check := func(q QuerySpec) error {
		if q.ID == "" {
			return fmt.Errorf("query %q has no id", q.Name)
		}
		if seen[q.ID] {
			return fmt.Errorf("duplicate query id %s", q.ID)
		}
		seen[q.ID] = true
		return nil
	}
	for _, q := range set.Positive {
		if err := check(q); err != nil {
			return nil, err
		}
		if len(q.Expected) == 0 {
			return nil, fmt.Errorf("query %s expects nothing", q.ID)
		}
	}
	for i := range set.Negative {
		if err := check(set.Negative[i]); err != nil {
			return nil, err
		}
		set.Negative[i].negative = true
	}
	return &set, nil
}

// ToolCaller invokes MCP tools in process. *mcp.Server implements it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// TestResult is the outcome of one query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"`
	Error      string        `json:"error,omitempty"`
}

// Report summarises a run.
type Report struct {
	Timestamp     time.Time    `json:"timestamp"`
	Positive      []TestResult `json:"positive"`
	Negative      []TestResult `json:"negative"`
	PositivePass  int          `json:"positive_pass"`
	NegativePass  int          `json:"negative_pass"`
	PositiveTotal int          `json:"positive_total"`
	NegativeTotal int          `json:"negative_total"`
}

// PassRate returns the share of positive queries that passed, or 1 when
// there are none.
func (r *Report) PassRate() float64 {
	if r.PositiveTotal == 0 {
		return 1
	}
	return float64(r.PositivePass) / float64(r.PositiveTotal)
}

// Failed reports whether any query failed.
func (r *Report) Failed() bool {
	return r.PositivePass < r.PositiveTotal || r.NegativePass < r.NegativeTotal
}

// Validator runs query sets through a ToolCaller.
type Validator struct {
	tools ToolCaller
}

// NewValidator creates a validator.
func NewValidator(tools ToolCaller) *Validator {
	return &Validator{tools: tools}
}

// RunQuery executes a single query.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	result := TestResult{Spec: spec, MatchedAt: -1}

	start := time.Now()
	resp, err := v.tools.CallTool(ctx, SearchTool, spec.Args())
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		result.Passed = spec.negative
		return result
	}

	keys, err := frameKeys(resp)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.TopResults = keys

	if spec.negative {
		result.Passed = true
		return result
	}
	result.MatchedAt = firstMatch(keys, spec.Expected, spec.within())
	result.Passed = result.MatchedAt >= 0
	return result
}

// RunAll executes every query in the set.
func (v *Validator) RunAll(ctx context.Context, set *QuerySet) *Report {
	report := &Report{Timestamp: time.Now()}
	for _, spec := range set.Positive {
		tr := v.RunQuery(ctx, spec)
		report.Positive = append(report.Positive, tr)
		report.PositiveTotal++
		if tr.Passed {
			report.PositivePass++
		}
	}
	for _, spec := range set.Negative {
		spec.negative = true
		tr := v.RunQuery(ctx, spec)
		report.Negative = append(report.Negative, tr)
		report.NegativeTotal++
		if tr.Passed {
			report.NegativePass++
		}
	}
	return report
}

func frameKeys(resp any) ([]string, error) {
	out, ok := resp.(mcp.SearchOutput)
	if !ok {
		data, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("unexpected search response: %w", err)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("unexpected search response: %w", err)
		}
	}
	keys := make([]string, 0, len(out.Frames))
	for _, f := range out.Frames {
		keys = append(keys, f.Key)
	}
	return keys, nil
}

// firstMatch returns the rank of the first key matching an expected key
// or prefix within the top n, or -1.
func firstMatch(keys, expected []string, n int) int {
	for i, key := range keys {
		if i >= n {
			break
		}
		for _, exp := range expected {
			if key == exp || strings.HasPrefix(key, exp) {
				return i
			}
		}
	}
	return -1
}
