package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKeyframes = `{
  "L01_V001_1": {"shot_index": 0, "frame_index": 10, "shot_start": 0, "shot_end": 40, "timestamp": 0.4, "video_path": "L01/V001.mp4", "frame_path": "L01/V001/010.jpg"},
  "L01_V001_2": {"shot_index": 1, "frame_index": 60, "shot_start": 41, "shot_end": 90, "timestamp": 2.4, "video_path": "L01/V001.mp4", "frame_path": "L01/V001/060.jpg"},
  "L01_V002_1": {"shot_index": 0, "frame_index": 5, "shot_start": 0, "shot_end": 30, "timestamp": 0.2, "video_path": "L01/V002.mp4", "frame_path": "L01/V002/005.jpg"}
}`

const testDetections = `{
  "L01_V001_1_detection": {"objects": {"dog": [{"score": 0.9, "box": [0, 0, 20, 20]}]}},
  "L01_V001_2_detection": {"objects": {"person": [{"score": 0.8, "box": [600, 300, 680, 420]}]}},
  "L01_V002_1_detection": {"objects": {"bicycle": [{"score": 0.7, "box": [1200, 650, 1280, 720]}]}}
}`

const testTags = `{
  "L01_V001_1_tag": ["dog", "grass", "park"],
  "L01_V001_2_tag": ["beach", "sunset", "person"],
  "L01_V002_1_tag": ["bicycle", "street", "night"]
}`

// setupProject isolates HOME and the user config, writes a three-frame
// metadata directory with a .framescope.yaml next to it and returns the
// project directory.
func setupProject(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	t.Setenv("FRAMESCOPE_USER_ID", "")

	dir := t.TempDir()
	meta := filepath.Join(dir, "metadata")
	require.NoError(t, os.MkdirAll(meta, 0o755))
	for name, content := range map[string]string{
		"keyframes_metadata.json":         testKeyframes,
		"object_extraction_metadata.json": testDetections,
		"tags_metadata.json":              testTags,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(meta, name), []byte(content), 0o644))
	}

	project := "paths:\n  metadata_dir: metadata\n  results_csv: results.csv\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".framescope.yaml"), []byte(project), 0o644))
	return dir
}

// runCLI executes the root command against the project directory and
// returns stdout and stderr combined.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--config", dir}, args...))

	err := cmd.Execute()
	// post-run hooks are skipped on failure
	_ = stopProfilingAndLogging(cmd, nil)
	return buf.String(), err
}
