package reaper

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// SweepResult counts one sweep's effect on the upload directory.
type SweepResult struct {
	Removed int
	Errors  int
}

type Reaper struct {
	dir    string
	maxAge time.Duration
	log    *zap.SugaredLogger
}

func New(dir string, maxAge time.Duration, log *zap.SugaredLogger) *Reaper {
	return &Reaper{dir: dir, maxAge: maxAge, log: log}
}

// Sweep removes uploaded documents older than the retention window.
// Best effort: a file that cannot be removed is logged and counted,
// never aborts the sweep.
func (r *Reaper) Sweep() SweepResult {
	var res SweepResult
	matches, err := filepath.Glob(filepath.Join(r.dir, "financial_document_*.pdf"))
	if err != nil {
		r.log.Errorw("sweep glob failed", "dir", r.dir, "error", err)
		res.Errors++
		return res
	}
	cutoff := time.Now().Add(-r.maxAge)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			r.log.Errorw("sweep stat failed", "path", path, "error", err)
			res.Errors++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			r.log.Errorw("sweep remove failed", "path", path, "error", err)
			res.Errors++
			continue
		}
		r.log.Infow("removed expired upload", "path", path)
		res.Removed++
	}
	r.log.Infow("sweep finished", "removed", res.Removed, "errors", res.Errors)
	return res
}
