// Package conversation implements the shared turn-taking scheduler.
// It owns the process-wide conversation history, an append-only
// time-pruned log of who spoke when, and decides, per beat-crossing agent,
// whether a note emission is permitted this tick. No other component reads
// or writes the history.
package conversation

import (
	"math"

	"github.com/talgya/songpond/internal/agents"
	"github.com/talgya/songpond/internal/entropy"
)

// State is the scheduler's macro-state over the shared history.
type State uint8

const (
	// StateOpen permits speaking under the position/window rules.
	StateOpen State = iota
	// StateCooldown enforces silence between conversations.
	StateCooldown
)

// Config holds the turn-taking tunables. The numeric values are tuned
// constants, not invariants; treat them as configuration.
type Config struct {
	// CooldownSeconds of silence must elapse after a conversation dies
	// before a new one may start.
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
	// ActiveWindowSeconds bounds how far back entries count toward the
	// conversation position.
	ActiveWindowSeconds float64 `yaml:"active_window_seconds"`
	// RetentionSeconds bounds the history log itself.
	RetentionSeconds float64 `yaml:"retention_seconds"`
	// ResponseWindows holds the max reply delay per conversation position;
	// a conversation deeper than the table is closed to new speakers.
	ResponseWindows []float64 `yaml:"response_windows"`

	BaseRate          float64 `yaml:"base_rate"`           // First-speaker chance scale
	ResponseRate      float64 `yaml:"response_rate"`       // Responder chance scale
	NeighborBoost     float64 `yaml:"neighbor_boost"`      // Ring-adjacent multiplier
	MaxResponseChance float64 `yaml:"max_response_chance"` // Cap after boosting
}

// DefaultConfig returns the stock turn-taking parameters.
func DefaultConfig() Config {
	return Config{
		CooldownSeconds:     15,
		ActiveWindowSeconds: 8,
		RetentionSeconds:    30,
		ResponseWindows:     []float64{2.0, 1.5, 1.0, 0.8},
		BaseRate:            0.02,
		ResponseRate:        0.15,
		NeighborBoost:       2.5,
		MaxResponseChance:   0.6,
	}
}

// Entry records one granted emission in the shared history.
type Entry struct {
	Time    float64
	AgentID int
}

// Scheduler holds the shared conversation history and emission rules.
type Scheduler struct {
	cfg     Config
	rng     *entropy.Source
	history []Entry
}

// NewScheduler creates a scheduler drawing rolls from the engine's source.
func NewScheduler(cfg Config, rng *entropy.Source) *Scheduler {
	return &Scheduler{cfg: cfg, rng: rng}
}

// Reset drops all history (used when the population is reinitialized).
func (s *Scheduler) Reset() {
	s.history = s.history[:0]
}

// Prune drops entries older than the retention window. Called once per tick.
func (s *Scheduler) Prune(now float64) {
	cut := 0
	for cut < len(s.history) && now-s.history[cut].Time > s.cfg.RetentionSeconds {
		cut++
	}
	if cut > 0 {
		s.history = s.history[cut:]
	}
}

// Position returns the count of history entries within the active window.
// Zero means any emission now would open a new conversation.
func (s *Scheduler) Position(now float64) int {
	pos := 0
	for i := len(s.history) - 1; i >= 0; i-- {
		if now-s.history[i].Time > s.cfg.ActiveWindowSeconds {
			break
		}
		pos++
	}
	return pos
}

// LastEntry returns the most recent history entry, if any.
func (s *Scheduler) LastEntry() (Entry, bool) {
	if len(s.history) == 0 {
		return Entry{}, false
	}
	return s.history[len(s.history)-1], true
}

// MacroState reports whether the scheduler is in cooldown at time now.
// Cooldown holds while the last conversation has gone quiet (position zero)
// but its silence has not yet outlasted the cooldown duration.
func (s *Scheduler) MacroState(now float64) State {
	last, ok := s.LastEntry()
	if !ok {
		return StateOpen
	}
	silence := now - last.Time
	if silence > s.cfg.ActiveWindowSeconds && silence < s.cfg.CooldownSeconds {
		return StateCooldown
	}
	return StateOpen
}

// CrossedBeat reports whether a phase passed the threshold between last and
// current, handling wraparound: when last > current the phase wrapped past
// zero and the crossed arc is (last, 2π) ∪ [0, current].
func CrossedBeat(last, current, threshold float64) bool {
	if last > current {
		return threshold > last || threshold <= current
	}
	return last <= threshold && threshold < current
}

// BeatThresholds are the two major beat positions an agent can emit on.
var BeatThresholds = [2]float64{0, math.Pi}

// Crossed reports whether the agent's beat phase crossed either major beat
// position this tick.
func Crossed(a *agents.Agent) bool {
	for _, th := range BeatThresholds {
		if CrossedBeat(a.LastBeatPhase, a.BeatPhase, th) {
			return true
		}
	}
	return false
}

// Permit decides whether a beat-crossing agent may emit at time now, rolling
// against the turn-taking rules. n is the population size. On a grant the
// agent is appended to the history immediately, so later agents evaluated in
// the same tick's pass see it as the most recent speaker; the pass must
// visit agents in fixed index order.
func (s *Scheduler) Permit(a *agents.Agent, now float64, n int) bool {
	if s.MacroState(now) == StateCooldown {
		return false
	}

	pos := s.Position(now)
	var chance float64

	if pos == 0 {
		// First speaker of a new conversation.
		chance = a.Energy * s.cfg.BaseRate
	} else {
		if pos > len(s.cfg.ResponseWindows) {
			return false
		}
		last, _ := s.LastEntry()
		if now-last.Time > s.cfg.ResponseWindows[pos-1] {
			return false
		}
		chance = a.Energy * s.cfg.ResponseRate
		if a.IsNeighbor(last.AgentID, n) {
			chance *= s.cfg.NeighborBoost
		}
		chance = math.Min(chance, s.cfg.MaxResponseChance)
	}

	if s.rng.Float() >= chance {
		return false
	}

	s.history = append(s.history, Entry{Time: now, AgentID: a.ID})
	return true
}

// Decide combines beat-crossing detection with the permission roll.
func (s *Scheduler) Decide(a *agents.Agent, now float64, n int) bool {
	if !Crossed(a) {
		return false
	}
	return s.Permit(a, now, n)
}

// HistoryLen reports the current history size (diagnostics only).
func (s *Scheduler) HistoryLen() int {
	return len(s.history)
}
