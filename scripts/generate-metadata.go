//go:build ignore

// Command generate-metadata writes a synthetic metadata directory for load
// testing: keyframes, detections, tags and, with -dims, a JSONL file of
// random unit vectors for 'framescope index build --embeddings'.
//
// Usage: go run scripts/generate-metadata.go -videos 200 -frames 50 -output testdata/bench
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	videos    = flag.Int("videos", 100, "Number of videos")
	frames    = flag.Int("frames", 40, "Keyframes per video")
	dims      = flag.Int("dims", 0, "Write embeddings.jsonl with this many dimensions (0 skips)")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var categories = []string{"airplane", "bicycle", "bird", "boat", "cat", "dog", "person"}

var vocabulary = []string{
	"beach", "sunset", "street", "night", "park", "grass", "snow", "mountain",
	"river", "city", "crowd", "car", "building", "forest", "sky", "water",
	"market", "bridge", "stadium", "road", "field", "harbor", "rain", "indoor",
}

type keyframe struct {
	ShotIndex  int     `json:"shot_index"`
	FrameIndex int     `json:"frame_index"`
	ShotStart  int     `json:"shot_start"`
	ShotEnd    int     `json:"shot_end"`
	Timestamp  float64 `json:"timestamp"`
	VideoPath  string  `json:"video_path"`
	FramePath  string  `json:"frame_path"`
}

type detection struct {
	Score float64    `json:"score"`
	Box   [4]float64 `json:"box"`
}

type detections struct {
	Objects map[string][]detection `json:"objects"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fail(err)
	}

	keyframes := make(map[string]keyframe)
	objects := make(map[string]detections)
	tags := make(map[string][]string)
	var order []string

	for v := 1; v <= *videos; v++ {
		batch := fmt.Sprintf("L%02d", (v-1)/50+1)
		video := fmt.Sprintf("V%03d", v)
		frameIdx := 0
		for f := 1; f <= *frames; f++ {
			key := fmt.Sprintf("%s_%s_%d", batch, video, f)
			start := frameIdx
			frameIdx += 20 + rng.Intn(80)
			mid := (start + frameIdx) / 2
			keyframes[key] = keyframe{
				ShotIndex:  f - 1,
				FrameIndex: mid,
				ShotStart:  start,
				ShotEnd:    frameIdx - 1,
				Timestamp:  float64(mid) / 25,
				VideoPath:  fmt.Sprintf("%s/%s.mp4", batch, video),
				FramePath:  fmt.Sprintf("%s/%s/%03d.jpg", batch, video, f),
			}
			objects[key+"_detection"] = randomDetections(rng)
			tags[key+"_tag"] = randomTags(rng)
			order = append(order, key)
		}
	}

	write := func(name string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			fail(err)
		}
		if err := os.WriteFile(filepath.Join(*outputDir, name), data, 0o644); err != nil {
			fail(err)
		}
	}
	write("keyframes_metadata.json", keyframes)
	write("object_extraction_metadata.json", objects)
	write("tags_metadata.json", tags)

	if *dims > 0 {
		if err := writeEmbeddings(filepath.Join(*outputDir, "embeddings.jsonl"), order, rng); err != nil {
			fail(err)
		}
	}

	fmt.Printf("Generated %d keyframes in %s\n", len(order), *outputDir)
}

func randomDetections(rng *rand.Rand) detections {
	d := detections{Objects: make(map[string][]detection)}
	for i := rng.Intn(4); i > 0; i-- {
		cat := categories[rng.Intn(len(categories))]
		x, y := rng.Float64()*1180, rng.Float64()*620
		w, h := 40+rng.Float64()*60, 40+rng.Float64()*60
		d.Objects[cat] = append(d.Objects[cat], detection{
			Score: 0.5 + rng.Float64()/2,
			Box:   [4]float64{x, y, x + w, y + h},
		})
	}
	return d
}

func randomTags(rng *rand.Rand) []string {
	n := 2 + rng.Intn(4)
	picked := make([]string, 0, n)
	seen := make(map[string]bool)
	for len(picked) < n {
		t := vocabulary[rng.Intn(len(vocabulary))]
		if !seen[t] {
			seen[t] = true
			picked = append(picked, t)
		}
	}
	return picked
}

func writeEmbeddings(path string, keys []string, rng *rand.Rand) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, key := range keys {
		vec := make([]float32, *dims)
		var norm float64
		for i := range vec {
			x := rng.NormFloat64()
			vec[i] = float32(x)
			norm += x * x
		}
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= float32(norm)
		}
		if err := enc.Encode(struct {
			Key    string    `json:"key"`
			Vector []float32 `json:"vector"`
		}{key, vec}); err != nil {
			return err
		}
	}
	return w.Flush()
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
