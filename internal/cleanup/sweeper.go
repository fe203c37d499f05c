// Package cleanup removes job workspaces left behind by crashed processes.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkspacePrefix names the directories the orchestrator creates per job.
const WorkspacePrefix = "transcription-job-"

// Sweeper deletes workspaces under Dir older than MaxAge.
type Sweeper struct {
	Dir      string
	MaxAge   time.Duration
	Interval time.Duration
	Log      logrus.FieldLogger
	// InUse, when set, protects workspaces still owned by a running job.
	InUse func(dir string) bool

	now       func() time.Time
	removeAll func(string) error
}

// NewSweeper builds a sweeper for dir.
func NewSweeper(dir string, maxAge, interval time.Duration, log logrus.FieldLogger) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		Dir:       dir,
		MaxAge:    maxAge,
		Interval:  interval,
		Log:       log,
		now:       time.Now,
		removeAll: os.RemoveAll,
	}
}

// Run sweeps once immediately and then every Interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep()
	if s.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes stale workspaces and returns how many were deleted.
func (s *Sweeper) Sweep() int {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		s.Log.WithError(err).WithField("dir", s.Dir).Warn("temp sweep skipped")
		return 0
	}
	cutoff := s.now().Add(-s.MaxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), WorkspacePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.Dir, e.Name())
		if s.InUse != nil && s.InUse(path) {
			continue
		}
		if err := s.removeAll(path); err != nil {
			s.Log.WithError(err).WithField("path", path).Warn("stale workspace not removed")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.Log.WithField("removed", removed).Info("stale workspaces removed")
	}
	return removed
}
