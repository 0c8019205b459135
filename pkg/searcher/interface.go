package searcher

import (
	"context"
	"errors"
	"sort"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
)

// ErrNilIndex is returned when a searcher is built without its index.
var ErrNilIndex = errors.New("index is required")

// ErrNilVectorizer is returned when a searcher is built without its vectorizer.
var ErrNilVectorizer = errors.New("vectorizer is required")

// ErrNilDependency is returned when a searcher is built without a frame store.
var ErrNilDependency = errors.New("frame store is required")

// DefaultOvershoot is the number of extra candidates requested beyond
// page*per_page.
const DefaultOvershoot = 50

// Searcher searches one modality.
//
// page is 1-based. Implementations return an empty result, not an error,
// when nothing matches or the query is invalid.
type Searcher[Q query.Query] interface {
	Search(ctx context.Context, q Q, page, perPage int) (*SearchResult, error)
}

// FrameStore resolves index positions to frames.
type FrameStore interface {
	ByIndex(i int) (*frame.Frame, bool)
}

// SearchResult is one page of ranked frames.
type SearchResult struct {
	Frames []*frame.Frame `json:"frames"`

	// Total counts every resolvable candidate, not just this page.
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	HasMore bool `json:"has_more"`
}

// Empty returns a well-formed result with no frames.
func Empty(page, perPage int) *SearchResult {
	return &SearchResult{Frames: []*frame.Frame{}, Page: page, PerPage: perPage}
}

// Bounds returns the [start,end) slice bounds of a page over n items.
func Bounds(page, perPage, n int) (start, end int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	start = min((page-1)*perPage, n)
	end = min(start+perPage, n)
	return start, end
}

// candidate is a resolved frame with its modality score.
type candidate struct {
	frame        *frame.Frame
	score        float64
	contribution frame.Contribution
}

// rank orders candidates by score descending, ties by index ascending, and
// returns the requested page. has_more follows the full-page rule.
func rank(m frame.Modality, cands []candidate, page, perPage int) *SearchResult {
	if len(cands) == 0 {
		return Empty(page, perPage)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].frame.Index < cands[j].frame.Index
	})

	start, end := Bounds(page, perPage, len(cands))
	frames := make([]*frame.Frame, 0, end-start)
	for _, c := range cands[start:end] {
		f := c.frame
		f.SetScore(m, c.score, c.contribution)
		frames = append(frames, f)
	}
	return &SearchResult{
		Frames:  frames,
		Total:   len(cands),
		Page:    page,
		PerPage: perPage,
		HasMore: len(frames) == perPage,
	}
}

func depth(page, perPage, overshoot int) int {
	return page*perPage + overshoot
}
