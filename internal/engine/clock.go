// Host audio clock plumbing. The engine asks the host for the audio-clock
// value once per tick rather than trusting a local clock, so note start
// times stay aligned with the renderer's timeline.
package engine

import (
	"log/slog"
	"math"
	"sync"
)

// HostClock receives audio-clock values from the host (over the control
// socket) and hands the freshest one to the tick driver. It is the only
// engine state written from outside the tick goroutine.
type HostClock struct {
	mu      sync.Mutex
	latest  float64
	hasNew  bool
	everSet bool
}

// Submit records a host audio-clock value. Malformed values are ignored
// with a diagnostic and no state change.
func (h *HostClock) Submit(t float64) {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		slog.Warn("ignoring malformed audio time", "value", t)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.everSet && t < h.latest {
		slog.Warn("ignoring regressing audio time", "value", t, "latest", h.latest)
		return
	}
	h.latest = t
	h.hasNew = true
	h.everSet = true
}

// Sample returns the latest submitted value and whether anything new
// arrived since the previous sample.
func (h *HostClock) Sample() (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fresh := h.hasNew
	h.hasNew = false
	return h.latest, fresh
}
