package frame

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Metadata file names inside the metadata directory.
const (
	KeyframesFile  = "keyframes_metadata.json"
	DetectionsFile = "object_extraction_metadata.json"
	TagsFile       = "tags_metadata.json"
	ClassesFile    = "classes.csv"
)

// LoadOptions controls how raw metadata becomes frames.
type LoadOptions struct {
	// FrameWidth and FrameHeight normalize detection boxes.
	FrameWidth  int
	FrameHeight int

	// KeyframesPrefix and VideosPrefix are prepended to relative paths.
	KeyframesPrefix string
	VideosPrefix    string
}

// DefaultLoadOptions returns the options for 1280x720 keyframes.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		FrameWidth:      1280,
		FrameHeight:     720,
		KeyframesPrefix: "keyframes",
		VideosPrefix:    "videos",
	}
}

type rawDetectionItem struct {
	Score float64   `json:"score"`
	Box   []float64 `json:"box"`
}

type rawDetection struct {
	Objects map[string][]rawDetectionItem `json:"objects"`
	Counts  map[string]int                `json:"counts"`
}

// Load reads the metadata directory and builds the frame table.
// The order of keys in keyframes_metadata.json defines the index positions.
// Detection, tag and class files are optional.
func Load(dir string, opts LoadOptions) (*Table, error) {
	if opts.FrameWidth <= 0 || opts.FrameHeight <= 0 {
		d := DefaultLoadOptions()
		opts.FrameWidth, opts.FrameHeight = d.FrameWidth, d.FrameHeight
	}

	categories, err := loadClasses(filepath.Join(dir, ClassesFile))
	if err != nil {
		return nil, err
	}
	allowed := make(map[Category]struct{}, len(categories))
	for _, c := range categories {
		allowed[c] = struct{}{}
	}

	var frames []*Frame
	err = decodeFile(filepath.Join(dir, KeyframesFile), true, func(key string, raw json.RawMessage) error {
		var info KeyframeInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return fmt.Errorf("frame %s: %w", key, err)
		}
		if err := info.Validate(); err != nil {
			return fmt.Errorf("frame %s: %w", key, err)
		}
		info.FramePath = withPrefix(opts.KeyframesPrefix, info.FramePath)
		info.VideoPath = withPrefix(opts.VideosPrefix, info.VideoPath)
		frames = append(frames, &Frame{Key: key, Keyframe: info})
		return nil
	})
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*Frame, len(frames))
	for _, f := range frames {
		byKey[f.Key] = f
	}

	err = decodeFile(filepath.Join(dir, DetectionsFile), false, func(key string, raw json.RawMessage) error {
		f, ok := byKey[strings.TrimSuffix(key, "_detection")]
		if !ok {
			return nil
		}
		var rd rawDetection
		if err := json.Unmarshal(raw, &rd); err != nil {
			return fmt.Errorf("detection %s: %w", key, err)
		}
		f.Detection = buildDetection(rd, allowed, opts)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = decodeFile(filepath.Join(dir, TagsFile), false, func(key string, raw json.RawMessage) error {
		f, ok := byKey[strings.TrimSuffix(key, "_tag")]
		if !ok {
			return nil
		}
		var tags []string
		if err := json.Unmarshal(raw, &tags); err != nil {
			return fmt.Errorf("tags %s: %w", key, err)
		}
		f.Tags = normalizeTags(tags)
		return nil
	})
	if err != nil {
		return nil, err
	}

	table, err := NewTable(frames)
	if err != nil {
		return nil, err
	}
	table.categories = categories

	slog.Debug("frame_table_loaded",
		slog.String("dir", dir),
		slog.Int("frames", table.Len()),
		slog.Int("categories", len(categories)))
	return table, nil
}

func buildDetection(rd rawDetection, allowed map[Category]struct{}, opts LoadOptions) *Detection {
	d := &Detection{
		Objects: make(map[Category][]DetectionItem),
		Counts:  make(map[Category]int),
	}

	labels := make([]string, 0, len(rd.Objects))
	for label := range rd.Objects {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var tokens []string
	for _, label := range labels {
		cat, ok := ParseCategory(label)
		if !ok {
			continue
		}
		if _, ok := allowed[cat]; !ok {
			continue
		}
		for _, item := range rd.Objects[label] {
			if len(item.Box) != 4 {
				continue
			}
			box := NormalizeBox([4]float64{item.Box[0], item.Box[1], item.Box[2], item.Box[3]},
				opts.FrameWidth, opts.FrameHeight)
			token := CellForBox(box).Token(cat)
			d.Objects[cat] = append(d.Objects[cat], DetectionItem{Score: item.Score, Box: box, Token: token})
			tokens = append(tokens, token)
		}
		if n, ok := rd.Counts[label]; ok {
			d.Counts[cat] = n
		} else {
			d.Counts[cat] = len(d.Objects[cat])
		}
	}
	d.Encoded = strings.Join(tokens, " ")
	return d
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func withPrefix(prefix, p string) string {
	if p == "" || prefix == "" || strings.HasPrefix(p, prefix+"/") || path.IsAbs(p) {
		return p
	}
	return path.Join(prefix, p)
}

// loadClasses reads classes.csv. Without the file every category is allowed.
func loadClasses(p string) ([]Category, error) {
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return Categories(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open classes: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read classes: %w", err)
	}

	var cats []Category
	seen := make(map[Category]struct{})
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		cat, ok := ParseCategory(rec[len(rec)-1])
		if !ok {
			continue
		}
		if _, dup := seen[cat]; dup {
			continue
		}
		seen[cat] = struct{}{}
		cats = append(cats, cat)
	}
	if len(cats) == 0 {
		return Categories(), nil
	}
	return cats, nil
}

func decodeFile(p string, required bool, fn func(key string, raw json.RawMessage) error) error {
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(p), err)
	}
	defer func() { _ = f.Close() }()

	if err := decodeOrdered(f, fn); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(p), err)
	}
	return nil
}

// decodeOrdered walks a top-level JSON object in document order.
func decodeOrdered(r io.Reader, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected a JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected an object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("value of %s: %w", key, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
