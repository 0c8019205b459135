package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MarkerFile records the version that last passed the checks.
const MarkerFile = ".preflight-passed"

// NeedsCheck reports whether the checks should run: no marker exists, or
// it was written by another version.
func NeedsCheck(dataDir, version string) bool {
	passed, _, ok := readMarker(dataDir)
	return !ok || passed != version
}

// MarkPassed writes the marker for version.
func MarkPassed(dataDir, version string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := version + "\n" + time.Now().UTC().Format(time.RFC3339) + "\n"
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), []byte(content), 0o644)
}

// ClearMarker removes the marker, forcing a re-check on the next build.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks passed, or zero without a marker.
func MarkerAge(dataDir string) time.Duration {
	_, at, ok := readMarker(dataDir)
	if !ok {
		return 0
	}
	return time.Since(at)
}

func readMarker(dataDir string) (string, time.Time, bool) {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return "", time.Time{}, false
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		return "", time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339, lines[1])
	if err != nil {
		return "", time.Time{}, false
	}
	return lines[0], at, true
}
