package session

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Refusal records a directory the guard would not let a cleanup touch.
type Refusal struct {
	Path   string
	Reason string
}

// CleanReport describes one cleanup intent.
type CleanReport struct {
	Removed []string
	Refused []Refusal
	Freed   uint64
}

// String renders the report as one status line.
func (r CleanReport) String() string {
	if len(r.Removed) == 0 && len(r.Refused) == 0 {
		return "Nothing to clean"
	}
	parts := make([]string, 0, 2)
	if len(r.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("Removed %d folder(s), freed %s", len(r.Removed), humanize.Bytes(r.Freed)))
	}
	if len(r.Refused) > 0 {
		parts = append(parts, fmt.Sprintf("refused %d", len(r.Refused)))
	}
	return strings.Join(parts, "; ")
}

// CleanArchiveArtifacts removes the Archive and Export directories.
func (c *Controller) CleanArchiveArtifacts() (CleanReport, error) {
	return c.clean(c.cfg.Layout.ArchiveDir(), c.cfg.Layout.ExportDir())
}

// CleanPackageArtifacts removes the Updates directory.
func (c *Controller) CleanPackageArtifacts() (CleanReport, error) {
	return c.clean(c.cfg.Layout.UpdatesDir())
}

func (c *Controller) clean(dirs ...string) (CleanReport, error) {
	var report CleanReport
	if c.Busy() {
		c.status = "An operation is already running"
		return report, ErrBusy
	}
	for _, dir := range dirs {
		if _, err := os.Lstat(dir); err != nil {
			c.book.Logf("Nothing to clean at %s", dir)
			continue
		}
		verdict := c.guard.Check(dir)
		if !verdict.Allowed {
			report.Refused = append(report.Refused, Refusal{Path: dir, Reason: verdict.Reason})
			c.book.Logf("Refusing to delete %s: %s", dir, verdict.Reason)
			c.logger.Warn("cleanup refused", zap.String("path", dir), zap.String("reason", verdict.Reason))
			continue
		}
		size := dirSize(dir)
		if err := os.RemoveAll(dir); err != nil {
			report.Refused = append(report.Refused, Refusal{Path: dir, Reason: err.Error()})
			c.book.Logf("Failed to delete %s: %v", dir, err)
			continue
		}
		report.Removed = append(report.Removed, dir)
		report.Freed += size
		c.book.Logf("Deleted %s (%s)", dir, humanize.Bytes(size))
	}
	c.status = report.String()
	return report, nil
}

func dirSize(dir string) uint64 {
	var total uint64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
