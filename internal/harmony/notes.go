// Note event type emitted toward external audio renderers.
package harmony

// NoteEvent is one scheduled note. All fields are derived; nothing here is
// independently settable. Times are in host audio-clock seconds.
type NoteEvent struct {
	AgentID            int     `json:"agent_id"`
	Degree             int     `json:"degree"` // Pre-shift scale degree, 0–11
	ScheduledStartTime float64 `json:"scheduled_start_time"`
	Frequency          float64 `json:"frequency"` // Hz
	Duration           float64 `json:"duration"`  // Seconds
	Amplitude          float64 `json:"amplitude"` // 0–1 linear gain
	Timbre             float64 `json:"timbre"`    // 0–1 renderer hint
}
