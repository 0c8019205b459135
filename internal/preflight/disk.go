package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/framescope/framescope/internal/ui"
)

// MinDiskSpaceBytes is the free space an index build needs (256 MB).
const MinDiskSpaceBytes = 256 * 1024 * 1024

// MinFileDescriptors is the lowest open-file limit accepted.
const MinFileDescriptors = 1024

// CheckDiskSpace checks the free space on the filesystem holding path.
// path need not exist yet; its nearest existing ancestor is measured.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	probe := existingAncestor(path)
	result.Details = probe

	var stat syscall.Statfs_t
	if err := syscall.Statfs(probe, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	free := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)",
		ui.FormatBytes(int64(free)), ui.FormatBytes(int64(c.minDisk)))
	if free < c.minDisk {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

func existingAncestor(path string) string {
	p, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
