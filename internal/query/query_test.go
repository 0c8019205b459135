package query

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
)

func TestNormalize_SumsToOneAndKeepsRatios(t *testing.T) {
	inputs := []map[frame.Modality]float64{
		{frame.ModalityText: 0.7, frame.ModalityObject: 0.3},
		{frame.ModalityText: 1, frame.ModalityObject: 1, frame.ModalityTag: 1},
		{frame.ModalityText: 0.2, frame.ModalityObject: 0, frame.ModalityTag: 0.6},
		{frame.ModalityTag: 0.05},
	}

	for _, in := range inputs {
		out := Normalize(in)

		sum := 0.0
		for _, v := range out {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)

		for a, va := range in {
			for b, vb := range in {
				if vb == 0 {
					continue
				}
				assert.InDelta(t, va/vb, out[a]/out[b], 1e-9)
			}
		}
	}
}

func TestNormalize_ZeroSumPassesThrough(t *testing.T) {
	in := map[frame.Modality]float64{frame.ModalityText: 0, frame.ModalityObject: 0}
	out := Normalize(in)
	assert.Equal(t, in, out)

	assert.Empty(t, Normalize(nil))
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := map[frame.Modality]float64{frame.ModalityText: 2, frame.ModalityObject: 2}
	_ = Normalize(in)
	assert.Equal(t, 2.0, in[frame.ModalityText])
}

func TestWeights_Normalize(t *testing.T) {
	w := Weights{Text: 0.6, Object: 0.2}.Normalize()
	assert.InDelta(t, 0.75, w.Text, 1e-9)
	assert.InDelta(t, 0.25, w.Object, 1e-9)
	assert.Zero(t, w.Tag)
}

func TestWeights_Validate(t *testing.T) {
	assert.NoError(t, Weights{Text: 0.5}.Validate())

	err := Weights{}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeDegenerateWeights))

	err = Weights{Text: 1.5}.Validate()
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeInvalidQuery))

	err = Weights{Object: math.NaN()}.Validate()
	assert.Error(t, err)
}

func TestWeights_ToK(t *testing.T) {
	k := Weights{Text: 0.5, Object: 0.25}.ToK(60)
	assert.Equal(t, map[frame.Modality]float64{
		frame.ModalityText:   120,
		frame.ModalityObject: 240,
	}, k)
}

func TestStructure_ActiveAndWeights(t *testing.T) {
	s := Structure{
		Text: &Weighted[TextQuery]{Query: TextQuery{Text: "cat"}, Weight: 0.7},
		Tag:  &Weighted[TagQuery]{Query: TagQuery{Entities: []string{"street"}}, Weight: 0.3},
	}

	assert.Equal(t, []frame.Modality{frame.ModalityText, frame.ModalityTag}, s.Active())
	assert.Equal(t, Weights{Text: 0.7, Tag: 0.3}, s.Weights())
	assert.Equal(t, "text+tag", s.Describe())
	assert.False(t, s.Empty())
	assert.True(t, Structure{}.Empty())
	assert.Equal(t, "none", Structure{}.Describe())
}

func TestStructure_RerankText(t *testing.T) {
	s := Structure{
		Text: &Weighted[TextQuery]{Query: TextQuery{Text: " a dog on grass "}},
		Object: &Weighted[ObjectQuery]{Query: ObjectQuery{Grid: map[frame.Cell]frame.Category{
			{Row: 1, Col: 'b'}: frame.CategoryPerson,
			{Row: 0, Col: 'a'}: frame.CategoryDog,
		}}},
		Tag: &Weighted[TagQuery]{Query: TagQuery{Text: "park", Entities: []string{"grass"}}},
	}

	assert.Equal(t, "a dog on grass a0dog b1person grass", s.RerankText())
}

func TestStructure_Validate(t *testing.T) {
	tests := []struct {
		name    string
		s       Structure
		wantErr bool
	}{
		{
			name: "valid text",
			s:    Structure{Text: &Weighted[TextQuery]{Query: TextQuery{Text: "cat"}, Weight: 1}},
		},
		{
			name:    "blank text",
			s:       Structure{Text: &Weighted[TextQuery]{Query: TextQuery{Text: "  "}, Weight: 1}},
			wantErr: true,
		},
		{
			name:    "weight out of range",
			s:       Structure{Text: &Weighted[TextQuery]{Query: TextQuery{Text: "cat"}, Weight: 2}},
			wantErr: true,
		},
		{
			name:    "empty grid",
			s:       Structure{Object: &Weighted[ObjectQuery]{Query: ObjectQuery{}, Weight: 1}},
			wantErr: true,
		},
		{
			name: "unknown category",
			s: Structure{Object: &Weighted[ObjectQuery]{Query: ObjectQuery{
				Grid: map[frame.Cell]frame.Category{{Row: 0, Col: 'a'}: "unicorn"},
			}, Weight: 1}},
			wantErr: true,
		},
		{
			name: "negative max objects",
			s: Structure{Object: &Weighted[ObjectQuery]{Query: ObjectQuery{
				Grid:       map[frame.Cell]frame.Category{{Row: 0, Col: 'a'}: frame.CategoryDog},
				MaxObjects: -1,
			}, Weight: 1}},
			wantErr: true,
		},
		{
			name:    "empty tag",
			s:       Structure{Tag: &Weighted[TagQuery]{Query: TagQuery{}, Weight: 1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestObjectQuery_JSONGridKeys(t *testing.T) {
	var q ObjectQuery
	require.NoError(t, json.Unmarshal([]byte(`{"grid": {"a0": "dog", "3,d": "cat"}, "logic": "AND"}`), &q))

	assert.Equal(t, LogicAND, q.Logic)
	assert.Equal(t, []string{"a0dog", "d3cat"}, q.Tokens())
}

func TestParseLogic(t *testing.T) {
	l, err := ParseLogic("and")
	require.NoError(t, err)
	assert.Equal(t, LogicAND, l)

	l, err = ParseLogic("")
	require.NoError(t, err)
	assert.Equal(t, LogicOR, l)

	_, err = ParseLogic("xor")
	assert.Error(t, err)
}
