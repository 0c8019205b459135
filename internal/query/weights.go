package query

import (
	"fmt"
	"math"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
)

// Weights holds one weight per modality.
type Weights struct {
	Text   float64 `json:"text" yaml:"text"`
	Object float64 `json:"object" yaml:"object"`
	Tag    float64 `json:"tag" yaml:"tag"`
}

// Get returns the weight of a modality.
func (w Weights) Get(m frame.Modality) float64 {
	switch m {
	case frame.ModalityText:
		return w.Text
	case frame.ModalityObject:
		return w.Object
	case frame.ModalityTag:
		return w.Tag
	}
	return 0
}

// Set assigns the weight of a modality.
func (w *Weights) Set(m frame.Modality, v float64) {
	switch m {
	case frame.ModalityText:
		w.Text = v
	case frame.ModalityObject:
		w.Object = v
	case frame.ModalityTag:
		w.Tag = v
	}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Text + w.Object + w.Tag
}

// Normalize divides every weight by the sum. A zero sum is returned unchanged.
func (w Weights) Normalize() Weights {
	return FromMap(Normalize(w.Map()))
}

// Validate checks the range of each weight and reports a zero sum as
// ERR_406_DEGENERATE_WEIGHTS. Normalize never fails; callers decide whether
// degenerate weights are acceptable.
func (w Weights) Validate() error {
	for _, m := range frame.Modalities() {
		v := w.Get(m)
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fserrors.InvalidQuery(fmt.Sprintf("%s weight %.3f outside [0,1]", m, v), nil)
		}
	}
	if w.Sum() == 0 {
		return fserrors.New(fserrors.ErrCodeDegenerateWeights, "all modality weights are zero", nil).
			WithSuggestion("give at least one active modality a positive weight")
	}
	return nil
}

// ToK converts weights into per-modality k values, base/w, so that heavier
// modalities get a smaller RRF constant. Modalities with w <= 0 are omitted.
func (w Weights) ToK(base float64) map[frame.Modality]float64 {
	out := make(map[frame.Modality]float64)
	for _, m := range frame.Modalities() {
		if v := w.Get(m); v > 0 {
			out[m] = base / v
		}
	}
	return out
}

// Map returns the weights keyed by modality.
func (w Weights) Map() map[frame.Modality]float64 {
	return map[frame.Modality]float64{
		frame.ModalityText:   w.Text,
		frame.ModalityObject: w.Object,
		frame.ModalityTag:    w.Tag,
	}
}

// FromMap builds Weights from a modality map; missing modalities weigh 0.
func FromMap(m map[frame.Modality]float64) Weights {
	var w Weights
	for mod, v := range m {
		w.Set(mod, v)
	}
	return w
}

// Normalize divides each weight by the sum of all weights. When the sum is
// zero the input is returned unchanged. The input map is never modified.
func Normalize(weights map[frame.Modality]float64) map[frame.Modality]float64 {
	total := 0.0
	for _, v := range weights {
		total += v
	}
	out := make(map[frame.Modality]float64, len(weights))
	for m, v := range weights {
		if total == 0 {
			out[m] = v
			continue
		}
		out[m] = v / total
	}
	return out
}
