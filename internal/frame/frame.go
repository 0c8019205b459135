// Package frame holds the keyframe model: identity, static metadata, object
// detections, tags and the per-request score projection.
// Frames are loaded once from static metadata into an immutable Table.
package frame

import (
	"fmt"
	"sort"
	"strings"
)

// Modality identifies one retrieval signal.
type Modality int

const (
	ModalityText Modality = iota
	ModalityObject
	ModalityTag
)

// Modalities returns every modality in canonical order.
func Modalities() []Modality {
	return []Modality{ModalityText, ModalityObject, ModalityTag}
}

// String returns the modality name used in logs, config and score details.
func (m Modality) String() string {
	switch m {
	case ModalityText:
		return "text"
	case ModalityObject:
		return "object"
	case ModalityTag:
		return "tag"
	default:
		return fmt.Sprintf("modality(%d)", int(m))
	}
}

// ParseModality converts a modality name into a Modality.
func ParseModality(s string) (Modality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return ModalityText, nil
	case "object", "objects":
		return ModalityObject, nil
	case "tag", "tags":
		return ModalityTag, nil
	default:
		return 0, fmt.Errorf("unknown modality %q (valid: text, object, tag)", s)
	}
}

// MarshalText lets Modality be used as a JSON map key.
func (m Modality) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a modality name.
func (m *Modality) UnmarshalText(b []byte) error {
	parsed, err := ParseModality(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Category is a detectable object class.
type Category string

const (
	CategoryAirplane Category = "airplane"
	CategoryBicycle  Category = "bicycle"
	CategoryBird     Category = "bird"
	CategoryBoat     Category = "boat"
	CategoryCat      Category = "cat"
	CategoryDog      Category = "dog"
	CategoryPerson   Category = "person"
)

// Categories returns the closed set of object categories.
func Categories() []Category {
	return []Category{
		CategoryAirplane, CategoryBicycle, CategoryBird, CategoryBoat,
		CategoryCat, CategoryDog, CategoryPerson,
	}
}

// ParseCategory normalizes a detector label into a Category.
func ParseCategory(label string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(label)))
	for _, known := range Categories() {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// KeyframeInfo is the static per-frame metadata.
type KeyframeInfo struct {
	ShotIndex  int     `json:"shot_index"`
	FrameIndex int     `json:"frame_index"`
	ShotStart  int     `json:"shot_start"`
	ShotEnd    int     `json:"shot_end"`
	Timestamp  float64 `json:"timestamp"`
	VideoPath  string  `json:"video_path"`
	FramePath  string  `json:"frame_path"`
}

// Validate checks that the numeric fields are non-negative.
func (k KeyframeInfo) Validate() error {
	switch {
	case k.ShotIndex < 0:
		return fmt.Errorf("shot_index must be non-negative, got %d", k.ShotIndex)
	case k.FrameIndex < 0:
		return fmt.Errorf("frame_index must be non-negative, got %d", k.FrameIndex)
	case k.ShotStart < 0:
		return fmt.Errorf("shot_start must be non-negative, got %d", k.ShotStart)
	case k.ShotEnd < 0:
		return fmt.Errorf("shot_end must be non-negative, got %d", k.ShotEnd)
	case k.Timestamp < 0:
		return fmt.Errorf("timestamp must be non-negative, got %f", k.Timestamp)
	}
	return nil
}

// DetectionItem is one detected object instance.
type DetectionItem struct {
	// Score is the detector confidence.
	Score float64 `json:"score"`

	// Box is (x1, y1, x2, y2) normalized by the frame size.
	Box [4]float64 `json:"box"`

	// Token is the grid encoding of the box, e.g. "a0dog".
	Token string `json:"token"`
}

// Detection holds the object detections of a frame.
type Detection struct {
	Objects map[Category][]DetectionItem `json:"objects"`
	Counts  map[Category]int             `json:"counts"`

	// Encoded is the space-joined grid tokens of every detected object.
	Encoded string `json:"encoded_detection"`
}

// Total returns the number of detected objects across categories.
func (d *Detection) Total() int {
	if d == nil {
		return 0
	}
	total := 0
	for _, n := range d.Counts {
		total += n
	}
	return total
}

// Tokens returns the grid tokens of the detection.
func (d *Detection) Tokens() []string {
	if d == nil {
		return nil
	}
	return strings.Fields(d.Encoded)
}

// Contribution records what one modality contributed to a frame's score.
type Contribution struct {
	Rank  int     `json:"rank,omitempty"`
	Score float64 `json:"score"`
	Boost float64 `json:"boost,omitempty"`
}

// Score is the mutable per-request score of a frame.
type Score struct {
	Value   float64                   `json:"value"`
	Details map[Modality]Contribution `json:"details,omitempty"`
}

// Frame is the canonical unit of retrieval.
type Frame struct {
	// Key is the stable identity of the frame and the fusion join key.
	Key string `json:"id"`

	// Index is the frame's position in the vector index address space.
	Index int `json:"index"`

	Keyframe  KeyframeInfo `json:"keyframe"`
	Detection *Detection   `json:"detection,omitempty"`
	Tags      []string     `json:"tags,omitempty"`

	Score      Score   `json:"score"`
	Selected   bool    `json:"selected"`
	FinalScore float64 `json:"final_score"`
}

// Clone returns a deep copy of the frame. Static metadata is shared
// read-only; the score projection is copied.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	if f.Score.Details != nil {
		c.Score.Details = make(map[Modality]Contribution, len(f.Score.Details))
		for m, d := range f.Score.Details {
			c.Score.Details[m] = d
		}
	}
	return &c
}

// ResetScore clears the score projection.
func (f *Frame) ResetScore() {
	f.Score = Score{Details: make(map[Modality]Contribution)}
	f.FinalScore = 0
}

// SetScore sets a single-modality score as produced by a searcher.
func (f *Frame) SetScore(m Modality, value float64, c Contribution) {
	f.Score = Score{
		Value:   value,
		Details: map[Modality]Contribution{m: c},
	}
	f.FinalScore = value
}

// SetFinalScore writes value to both Score.Value and FinalScore.
func (f *Frame) SetFinalScore(value float64) {
	f.Score.Value = value
	f.FinalScore = value
}

// Surrogate returns the textual stand-in for the frame used by text rerankers.
func (f *Frame) Surrogate() string {
	var parts []string
	if len(f.Tags) > 0 {
		parts = append(parts, strings.Join(f.Tags, " "))
	}
	if f.Detection != nil && len(f.Detection.Objects) > 0 {
		cats := make([]string, 0, len(f.Detection.Objects))
		for c := range f.Detection.Objects {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		parts = append(parts, strings.Join(cats, " "))
	}
	if len(parts) == 0 {
		return f.Keyframe.FramePath
	}
	return strings.Join(parts, " ")
}
