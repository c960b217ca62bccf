package http

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/search"
)

// ViewTracker is the session's Navigator for browser clients. Each Go bumps a
// revision that pages poll through /api/status; a changed revision makes the
// page reload.
type ViewTracker struct {
	mu       sync.Mutex
	revision uint64
	path     string
	logger   *logrus.Logger
	debounce *search.Debouncer
}

// NewViewTracker returns a tracker at revision zero. A positive delay
// coalesces bursts of refreshes, such as a peer replaying many changes, into
// one revision bump.
func NewViewTracker(logger *logrus.Logger, delay time.Duration) *ViewTracker {
	v := &ViewTracker{logger: logger}
	if delay > 0 {
		v.debounce = search.NewDebouncer(delay)
	}
	return v
}

// Go records that path must be re-rendered.
func (v *ViewTracker) Go(path string) {
	if v.debounce != nil {
		v.debounce.Trigger(func() { v.bump(path) })
		return
	}
	v.bump(path)
}

// Stop drops a refresh that is still waiting out the delay.
func (v *ViewTracker) Stop() {
	if v.debounce != nil {
		v.debounce.Stop()
	}
}

func (v *ViewTracker) bump(path string) {
	v.mu.Lock()
	v.revision++
	v.path = path
	revision := v.revision
	v.mu.Unlock()

	if v.logger != nil {
		v.logger.WithFields(logrus.Fields{
			"component": "http.view",
			"path":      path,
			"revision":  revision,
		}).Debug("view refresh requested")
	}
}

// Snapshot returns the current revision and the last refreshed path.
func (v *ViewTracker) Snapshot() (uint64, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.revision, v.path
}
