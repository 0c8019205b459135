// Package searcher provides the per-modality keyframe searchers.
//
// Each searcher vectorizes one modality's query, looks it up in that
// modality's index and returns a ranked, paginated [SearchResult]:
//
//   - [TextSearcher]: dense nearest-neighbour search, score 1/(1+distance),
//     with optional neighbourhood refinement
//   - [ObjectSearcher]: sparse cosine over grid-position tokens
//   - [TagSearcher]: sparse cosine over the tag vocabulary with optional
//     per-frame boosts
//
// # Usage
//
//	text, _ := searcher.NewTextSearcher(
//	    searcher.WithTextVectorizer(textVectorizer),
//	    searcher.WithDenseIndex(index),
//	    searcher.WithTextFrames(table),
//	)
//	res, err := text.Search(ctx, query.TextQuery{Text: "a cat on a sofa"}, 1, 20)
//
// Every result frame carries a score under its own modality only; merging
// modalities is the job of fusion in internal/search.
//
// # Candidate depth
//
// Searchers ask their index for page*per_page + overshoot candidates so
// that fusion has rank context beyond the requested page.
//
// # Thread Safety
//
// Searchers hold no per-request state and are safe for concurrent use.
package searcher
