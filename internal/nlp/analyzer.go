// Package nlp normalizes query text before vectorization.
//
// The Analyzer lowercases, strips possessives and removes English stop words
// while keeping the connectors "and"/"or" and digits. Language detection and
// translation are delegated to an optional Translator.
package nlp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// QueryStopFilterName is the stop filter that keeps query connectors.
	QueryStopFilterName = "framescope_query_stop"

	// QueryAnalyzerName is the analyzer applied to query text.
	QueryAnalyzerName = "framescope_query"

	// StemAnalyzerName additionally applies the porter stemmer.
	StemAnalyzerName = "framescope_stem"
)

// connectors survive stop word removal; they carry object-query logic.
var connectors = map[string]struct{}{"and": {}, "or": {}}

func init() {
	_ = registry.RegisterTokenFilter(QueryStopFilterName, queryStopFilterConstructor)
}

func queryStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	words, err := cache.TokenMapNamed(en.StopName)
	if err != nil {
		return nil, fmt.Errorf("english stop words: %w", err)
	}
	kept := make(analysis.TokenMap, len(words))
	for w := range words {
		if _, ok := connectors[w]; !ok {
			kept[w] = true
		}
	}
	return stop.NewStopTokensFilter(kept), nil
}

// Parsed is a normalized query and the entities extracted from it.
type Parsed struct {
	Text     string   `json:"text"`
	Entities []string `json:"entities"`
}

// Normalizer turns raw query text into clean text and entities.
type Normalizer interface {
	Preprocess(ctx context.Context, text string) (string, error)
	Parse(ctx context.Context, text string) (Parsed, error)
}

// Translator translates non-English text to English.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Analyzer is the bleve-backed Normalizer.
type Analyzer struct {
	query      analysis.Analyzer
	stem       analysis.Analyzer
	translator Translator

	mu        sync.RWMutex
	stemCache map[string]string
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithTranslator runs text through t before analysis.
func WithTranslator(t Translator) Option {
	return func(a *Analyzer) {
		a.translator = t
	}
}

// NewAnalyzer builds the query and stemming analyzers.
func NewAnalyzer(opts ...Option) (*Analyzer, error) {
	m := mapping.NewIndexMapping()

	err := m.AddCustomAnalyzer(QueryAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			en.PossessiveName,
			QueryStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add query analyzer: %w", err)
	}

	err = m.AddCustomAnalyzer(StemAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			en.PossessiveName,
			porter.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add stem analyzer: %w", err)
	}

	a := &Analyzer{
		query:     m.AnalyzerNamed(QueryAnalyzerName),
		stem:      m.AnalyzerNamed(StemAnalyzerName),
		stemCache: make(map[string]string),
	}
	if a.query == nil || a.stem == nil {
		return nil, fmt.Errorf("analyzers not registered")
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Tokens returns the normalized tokens of text.
func (a *Analyzer) Tokens(text string) []string {
	stream := a.query.Analyze([]byte(text))
	tokens := make([]string, 0, len(stream))
	for _, tok := range stream {
		if term := strings.TrimSpace(string(tok.Term)); term != "" {
			tokens = append(tokens, term)
		}
	}
	return tokens
}

// Preprocess translates (when configured), lowercases and removes stop words.
func (a *Analyzer) Preprocess(ctx context.Context, text string) (string, error) {
	if a.translator != nil {
		translated, err := a.translator.Translate(ctx, text)
		if err != nil {
			return "", fmt.Errorf("translate query: %w", err)
		}
		text = translated
	}
	return strings.Join(a.Tokens(text), " "), nil
}

// Parse preprocesses text and extracts the deduplicated content tokens as
// entities. Connectors stay in Text but are not entities.
func (a *Analyzer) Parse(ctx context.Context, text string) (Parsed, error) {
	clean, err := a.Preprocess(ctx, text)
	if err != nil {
		return Parsed{}, err
	}

	seen := make(map[string]struct{})
	var entities []string
	for _, tok := range strings.Fields(clean) {
		if _, ok := connectors[tok]; ok {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		entities = append(entities, tok)
	}
	return Parsed{Text: clean, Entities: entities}, nil
}

// Stem returns the porter stem of a term or phrase. Multi-word input
// returns the space-joined stems.
func (a *Analyzer) Stem(term string) string {
	a.mu.RLock()
	cached, ok := a.stemCache[term]
	a.mu.RUnlock()
	if ok {
		return cached
	}

	stream := a.stem.Analyze([]byte(term))
	parts := make([]string, 0, len(stream))
	for _, tok := range stream {
		parts = append(parts, string(tok.Term))
	}
	stemmed := strings.Join(parts, " ")

	a.mu.Lock()
	a.stemCache[term] = stemmed
	a.mu.Unlock()
	return stemmed
}
