package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchOutput struct {
	Frames []struct {
		ID       string `json:"id"`
		Selected bool   `json:"selected"`
	} `json:"frames"`
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	HasMore bool `json:"has_more"`
}

func decodeSearch(t *testing.T, out string) searchOutput {
	t.Helper()
	var res searchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

func TestSearchCmd_Modalities(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		first string
	}{
		{
			name:  "tag",
			args:  []string{"--tag", "beach sunset"},
			first: "L01_V001_2",
		},
		{
			name:  "entities",
			args:  []string{"--entities", "street", "--entities", "night"},
			first: "L01_V002_1",
		},
		{
			name:  "object grid",
			args:  []string{"--grid", "a0=dog"},
			first: "L01_V001_1",
		},
		{
			name:  "grid and tag fused",
			args:  []string{"--grid", "a0=dog", "--tag", "park"},
			first: "L01_V001_1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a project with three frames and no text index
			dir := setupProject(t)

			// When: searching
			out, err := runCLI(t, dir, append([]string{"search", "--json"}, tt.args...)...)

			// Then: the matching frame ranks first
			require.NoError(t, err, out)
			res := decodeSearch(t, out)
			require.NotEmpty(t, res.Frames)
			assert.Equal(t, tt.first, res.Frames[0].ID)
			assert.Equal(t, 1, res.Page)
		})
	}
}

func TestSearchCmd_TextWithoutIndexFails(t *testing.T) {
	dir := setupProject(t)

	_, err := runCLI(t, dir, "search", "a dog in the park")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no searcher configured for text")
}

func TestSearchCmd_EmptyQuery(t *testing.T) {
	dir := setupProject(t)

	_, err := runCLI(t, dir, "search")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to search")
}

func TestSearchCmd_InvalidGrid(t *testing.T) {
	dir := setupProject(t)

	_, err := runCLI(t, dir, "search", "--grid", "z9=dog")

	assert.Error(t, err)
}

func TestSearchCmd_ZeroWeightsRejected(t *testing.T) {
	dir := setupProject(t)

	_, err := runCLI(t, dir, "search", "--tag", "beach", "--tag-weight", "0")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all modality weights are zero")
}

func TestSearchCmd_MarksSelectedFrames(t *testing.T) {
	// Given: a selected frame
	dir := setupProject(t)
	_, err := runCLI(t, dir, "select", "toggle", "L01_V001_2")
	require.NoError(t, err)

	// When: searching for it
	out, err := runCLI(t, dir, "search", "--json", "--tag", "beach")

	// Then: the result is marked
	require.NoError(t, err, out)
	res := decodeSearch(t, out)
	require.NotEmpty(t, res.Frames)
	assert.Equal(t, "L01_V001_2", res.Frames[0].ID)
	assert.True(t, res.Frames[0].Selected)
}

func TestSearchCmd_TableOutput(t *testing.T) {
	dir := setupProject(t)

	out, err := runCLI(t, dir, "search", "--tag", "beach")

	require.NoError(t, err, out)
	assert.Contains(t, out, "L01_V001_2")
}

func TestSearchCmd_Explain(t *testing.T) {
	dir := setupProject(t)

	out, err := runCLI(t, dir, "search", "--explain", "--grid", "a0=dog", "--tag", "park")

	require.NoError(t, err, out)
	assert.Contains(t, out, "rrf k")
	assert.Contains(t, out, "L01_V001_1")
	assert.True(t, strings.Contains(out, "object #1") || strings.Contains(out, "tag #1"), out)
}

func TestSearchCmd_IndexedTextSearch(t *testing.T) {
	// Given: a text index built with the offline embedder
	dir := setupProject(t)
	out, err := runCLI(t, dir, "index", "build", "--plain")
	require.NoError(t, err, out)

	// When: searching by text
	out, err = runCLI(t, dir, "search", "--json", "bicycle street night")

	// Then: the frame whose tags and objects match ranks first
	require.NoError(t, err, out)
	res := decodeSearch(t, out)
	require.NotEmpty(t, res.Frames)
	assert.Equal(t, "L01_V002_1", res.Frames[0].ID)
}

func TestSearchCmd_SessionSuppliesGrid(t *testing.T) {
	// Given: a session with a dog in the top-left cell
	dir := setupProject(t)
	_, err := runCLI(t, dir, "session", "open", "lab")
	require.NoError(t, err)
	_, err = runCLI(t, dir, "session", "grid", "add", "lab", "a0", "dog")
	require.NoError(t, err)

	// When: searching with only the session
	out, err := runCLI(t, dir, "search", "--json", "--session", "lab")

	// Then: the grid drives the search
	require.NoError(t, err, out)
	res := decodeSearch(t, out)
	require.NotEmpty(t, res.Frames)
	assert.Equal(t, "L01_V001_1", res.Frames[0].ID)
}

func TestSearchCmd_SessionRemembersTag(t *testing.T) {
	dir := setupProject(t)
	_, err := runCLI(t, dir, "search", "--json", "--session", "s1", "--tag", "beach")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "session", "show", "s1", "--json")

	require.NoError(t, err, out)
	assert.Contains(t, out, `"last_tag": "beach"`)
}
