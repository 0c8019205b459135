package frame

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestNewTable_BijectiveMapping(t *testing.T) {
	// Given: three frames
	table, err := NewTable([]*Frame{{Key: "v1_3"}, {Key: "v1_1"}, {Key: "v2_7"}})
	require.NoError(t, err)

	// Then: every index maps to a key and back
	assert.Equal(t, 3, table.Len())
	for i := 0; i < table.Len(); i++ {
		key, ok := table.KeyAt(i)
		require.True(t, ok)
		idx, ok := table.IndexOf(key)
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, []string{"v1_3", "v1_1", "v2_7"}, table.Keys())

	_, ok := table.KeyAt(3)
	assert.False(t, ok)
}

func TestNewTable_RejectsDuplicates(t *testing.T) {
	_, err := NewTable([]*Frame{{Key: "a"}, {Key: "a"}})
	assert.Error(t, err)

	_, err = NewTable([]*Frame{{Key: ""}})
	assert.Error(t, err)
}

func TestTable_LookupsReturnCopies(t *testing.T) {
	table, err := NewTable([]*Frame{{Key: "a"}})
	require.NoError(t, err)

	// When: a caller mutates a returned frame
	f, ok := table.ByKey("a")
	require.True(t, ok)
	f.SetScore(ModalityText, 0.9, Contribution{Rank: 1, Score: 0.9})
	f.Selected = true

	// Then: the table is unchanged
	again, ok := table.ByIndex(0)
	require.True(t, ok)
	assert.Zero(t, again.FinalScore)
	assert.False(t, again.Selected)
	assert.Empty(t, again.Score.Details)
}

func TestLoad_PreservesDocumentOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, KeyframesFile, `{
		"L02_V001_010": {"shot_index": 1, "frame_index": 10, "shot_start": 0, "shot_end": 20, "timestamp": 0.4, "video_path": "L02_V001.mp4", "frame_path": "L02_V001/010.jpg"},
		"L01_V001_001": {"shot_index": 0, "frame_index": 1, "shot_start": 0, "shot_end": 5, "timestamp": 0.04, "video_path": "L01_V001.mp4", "frame_path": "L01_V001/001.jpg"}
	}`)
	writeFile(t, dir, DetectionsFile, `{
		"L01_V001_001_detection": {
			"objects": {"dog": [{"score": 0.9, "box": [0, 0, 100, 100]}], "unicorn": [{"score": 0.5, "box": [0, 0, 10, 10]}]},
			"counts": {"dog": 1, "unicorn": 1}
		}
	}`)
	writeFile(t, dir, TagsFile, `{"L01_V001_001_tag": ["Cat", "cat", " street "]}`)

	table, err := Load(dir, DefaultLoadOptions())
	require.NoError(t, err)

	// Then: the document order defines the index positions
	key, ok := table.KeyAt(0)
	require.True(t, ok)
	assert.Equal(t, "L02_V001_010", key)
	key, ok = table.KeyAt(1)
	require.True(t, ok)
	assert.Equal(t, "L01_V001_001", key)

	f, ok := table.ByKey("L01_V001_001")
	require.True(t, ok)
	assert.Equal(t, 1, f.Index)
	assert.Equal(t, "keyframes/L01_V001/001.jpg", f.Keyframe.FramePath)
	assert.Equal(t, "videos/L01_V001.mp4", f.Keyframe.VideoPath)
	assert.Equal(t, []string{"cat", "street"}, f.Tags)

	require.NotNil(t, f.Detection)
	assert.Equal(t, "a0dog", f.Detection.Encoded)
	assert.Equal(t, 1, f.Detection.Total())
	assert.NotContains(t, f.Detection.Counts, Category("unicorn"))

	other, ok := table.ByKey("L02_V001_010")
	require.True(t, ok)
	assert.Nil(t, other.Detection)
	assert.Equal(t, []string{"cat", "street"}, table.TagVocabulary())
}

func TestLoad_RejectsNegativeMetadata(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, KeyframesFile, `{"a": {"shot_index": -1, "frame_index": 0, "timestamp": 0}}`)

	_, err := Load(dir, DefaultLoadOptions())
	assert.Error(t, err)
}

func TestLoad_MissingKeyframes(t *testing.T) {
	_, err := Load(t.TempDir(), DefaultLoadOptions())
	assert.Error(t, err)
}

func TestLoad_ClassesRestrictCategories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, KeyframesFile, `{"a": {"frame_path": "a.jpg"}}`)
	writeFile(t, dir, ClassesFile, "id,name\n0,dog\n1,person\n")
	writeFile(t, dir, DetectionsFile, `{"a_detection": {"objects": {"cat": [{"score": 0.8, "box": [0,0,10,10]}], "dog": [{"score": 0.7, "box": [0,0,10,10]}]}, "counts": {"cat": 1, "dog": 1}}}`)

	table, err := Load(dir, DefaultLoadOptions())
	require.NoError(t, err)

	assert.Equal(t, []Category{CategoryDog, CategoryPerson}, table.Categories())
	f, _ := table.ByKey("a")
	assert.Equal(t, "a0dog", f.Detection.Encoded)
}

func TestFrame_Surrogate(t *testing.T) {
	f := &Frame{
		Keyframe: KeyframeInfo{FramePath: "keyframes/a.jpg"},
		Tags:     []string{"street", "night"},
		Detection: &Detection{
			Objects: map[Category][]DetectionItem{CategoryPerson: nil, CategoryDog: nil},
		},
	}
	assert.Equal(t, "street night dog person", f.Surrogate())

	bare := &Frame{Keyframe: KeyframeInfo{FramePath: "keyframes/b.jpg"}}
	assert.Equal(t, "keyframes/b.jpg", bare.Surrogate())
}
