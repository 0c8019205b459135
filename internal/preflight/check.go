package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/store"
)

// CheckStatus is the outcome of a single check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status name in JSON.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Target names the directories a run will use.
type Target struct {
	MetadataDir string
	IndexDir    string
	DataDir     string

	// NeedEmbedder makes the embedder check required, as for index builds
	// that embed frames instead of reading precomputed vectors.
	NeedEmbedder bool
}

// Embedder is the part of embed.Embedder the checks use.
type Embedder interface {
	Available(ctx context.Context) bool
	ModelName() string
	Dimensions() int
}

// IndexProbe opens the configured dense index and describes it.
type IndexProbe func(ctx context.Context) (store.IndexInfo, error)

// Checker runs preflight checks.
type Checker struct {
	embedder Embedder
	probe    IndexProbe
	minDisk  uint64
	minFiles uint64
}

// Option configures a Checker.
type Option func(*Checker)

// WithEmbedder enables the embedder check.
func WithEmbedder(e Embedder) Option {
	return func(c *Checker) { c.embedder = e }
}

// WithIndexProbe enables the text index check.
func WithIndexProbe(p IndexProbe) Option {
	return func(c *Checker) { c.probe = p }
}

// WithMinDiskSpace overrides MinDiskSpaceBytes.
func WithMinDiskSpace(bytes uint64) Option {
	return func(c *Checker) { c.minDisk = bytes }
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{minDisk: MinDiskSpaceBytes, minFiles: MinFileDescriptors}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check in a fixed order.
func (c *Checker) RunAll(ctx context.Context, t Target) []CheckResult {
	results := []CheckResult{c.CheckMetadata(t.MetadataDir)}
	results = append(results, c.CheckModalityFiles(t.MetadataDir)...)
	results = append(results,
		c.CheckWritable("index_dir", t.IndexDir),
		c.CheckWritable("data_dir", t.DataDir),
		c.CheckDiskSpace(t.IndexDir),
		c.CheckFileDescriptors(),
	)
	if c.embedder != nil {
		results = append(results, c.CheckEmbedder(ctx, t.NeedEmbedder))
	}
	if c.probe != nil {
		results = append(results, c.CheckIndex(ctx))
	}
	return results
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Summary returns "failed", "ready_with_warnings" or "ready".
func Summary(results []CheckResult) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// CheckMetadata loads the keyframe table.
func (c *Checker) CheckMetadata(dir string) CheckResult {
	result := CheckResult{Name: "metadata", Required: true, Details: dir}

	table, err := frame.Load(dir, frame.DefaultLoadOptions())
	switch {
	case err != nil:
		result.Status = StatusFail
		result.Message = err.Error()
	case table.Len() == 0:
		result.Status = StatusFail
		result.Message = "no keyframes in " + frame.KeyframesFile
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%d frames", table.Len())
	}
	return result
}

// CheckModalityFiles warns about missing detection and tag files.
func (c *Checker) CheckModalityFiles(dir string) []CheckResult {
	files := []struct{ name, file, modality string }{
		{"detections", frame.DetectionsFile, "object"},
		{"tags", frame.TagsFile, "tag"},
	}
	results := make([]CheckResult, 0, len(files))
	for _, f := range files {
		r := CheckResult{Name: f.name, Status: StatusPass, Message: "OK"}
		if _, err := os.Stat(filepath.Join(dir, f.file)); err != nil {
			r.Status = StatusWarn
			r.Message = fmt.Sprintf("%s not found, %s search returns nothing", f.file, f.modality)
		}
		results = append(results, r)
	}
	return results
}

// CheckWritable creates dir when needed and writes a probe file into it.
func (c *Checker) CheckWritable(name, dir string) CheckResult {
	result := CheckResult{Name: name, Required: true, Details: dir}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create: %v", err)
		return result
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckFileDescriptors checks the soft open-file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to read limit: %v", err)
		return result
	}
	result.Message = fmt.Sprintf("%d (minimum: %d)", lim.Cur, c.minFiles)
	if lim.Cur < c.minFiles {
		result.Status = StatusFail
		result.Details = fmt.Sprintf("run 'ulimit -n %d'", c.minFiles*4)
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckEmbedder checks that the text embedder answers.
func (c *Checker) CheckEmbedder(ctx context.Context, required bool) CheckResult {
	result := CheckResult{Name: "embedder", Required: required}
	if c.embedder == nil {
		result.Status = StatusWarn
		result.Message = "not configured"
		return result
	}

	result.Details = fmt.Sprintf("%s, %d dimensions", c.embedder.ModelName(), c.embedder.Dimensions())
	if !c.embedder.Available(ctx) {
		result.Status = StatusWarn
		if required {
			result.Status = StatusFail
		}
		result.Message = c.embedder.ModelName() + " is not reachable, text search is unavailable"
		return result
	}
	result.Status = StatusPass
	result.Message = c.embedder.ModelName() + " ready"
	return result
}

// CheckIndex reports the text index. A missing index or one built for
// another embedding width disables text search, so neither is required.
func (c *Checker) CheckIndex(ctx context.Context) CheckResult {
	result := CheckResult{Name: "text_index"}
	if c.probe == nil {
		result.Status = StatusWarn
		result.Message = "not configured"
		return result
	}

	info, err := c.probe(ctx)
	result.Details = info.Location
	if err != nil {
		result.Status = StatusWarn
		result.Message = err.Error()
		if errors.Is(err, fserrors.Code(fserrors.ErrCodeIndexUnavailable)) {
			result.Message = "not built, run 'framescope index build'"
		}
		return result
	}
	if c.embedder != nil && info.Dimensions != c.embedder.Dimensions() {
		result.Status = StatusFail
		result.Message = store.ErrDimensionMismatch{Expected: info.Dimensions, Got: c.embedder.Dimensions()}.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d vectors (%s)", info.Count, info.Backend)
	return result
}
