// Outbound snapshot types and the visualization projector.
package engine

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/songpond/internal/agents"
	"github.com/talgya/songpond/internal/oscillator"
)

// AgentPhase is one agent's entry in a phase snapshot.
type AgentPhase struct {
	ID          int     `json:"id"`
	BeatPhase   float64 `json:"beat_phase"`
	PhrasePhase float64 `json:"phrase_phase"`
}

// PhaseSnapshot is the per-tick phase state sent to renderers.
type PhaseSnapshot struct {
	Tick            uint64       `json:"tick"`
	Time            float64      `json:"time"` // Audio-clock seconds
	GlobalBeatPhase float64      `json:"global_beat_phase"`
	Coherence       float64      `json:"coherence"`
	Agents          []AgentPhase `json:"agents"`
}

// BuildPhaseSnapshot packages the population's phases plus the derived
// global beat phase (circular mean) and coherence.
func BuildPhaseSnapshot(pop []*agents.Agent, tick uint64, now float64) PhaseSnapshot {
	snap := PhaseSnapshot{
		Tick:   tick,
		Time:   now,
		Agents: make([]AgentPhase, 0, len(pop)),
	}
	phases := make([]float64, 0, len(pop))
	for _, a := range pop {
		snap.Agents = append(snap.Agents, AgentPhase{
			ID:          a.ID,
			BeatPhase:   a.BeatPhase,
			PhrasePhase: a.PhrasePhase,
		})
		phases = append(phases, a.BeatPhase)
	}
	snap.GlobalBeatPhase = oscillator.CircularMean(phases)
	snap.Coherence = oscillator.Coherence(phases)
	return snap
}

// VizAgent is the denormalized per-agent view for on-screen rendering.
// It is a lossy projection of engine state and carries nothing the phase
// snapshot doesn't already imply.
type VizAgent struct {
	ID       int     `json:"id"`
	X        float64 `json:"x"` // Position hint in [-1.2, 1.2]
	Y        float64 `json:"y"`
	Energy   float64 `json:"energy"` // Speaking energy, 0–1 of max
	Hue      float64 `json:"hue"`    // Degrees, from the last voiced note
	Speaking bool    `json:"speaking"`
	Foraging bool    `json:"foraging"`
}

// VizSnapshot is the optional lower-rate rendering snapshot.
type VizSnapshot struct {
	Tick   uint64     `json:"tick"`
	Time   float64    `json:"time"`
	Agents []VizAgent `json:"agents"`
}

// SpeakingDecaySeconds keeps the speaking flag lit briefly after a note.
const SpeakingDecaySeconds = 0.5

// Projector derives visualization snapshots. Agents sit on a ring with a
// slow noise-field drift so renders breathe instead of sitting rigid.
type Projector struct {
	drift     opensimplex.Noise
	maxEnergy float64
}

// NewProjector creates a projector seeded alongside the engine.
func NewProjector(seed int64, maxEnergy float64) *Projector {
	if maxEnergy <= 0 {
		maxEnergy = 1
	}
	return &Projector{
		drift:     opensimplex.New(seed + 7),
		maxEnergy: maxEnergy,
	}
}

// Project builds a viz snapshot for the current population.
func (p *Projector) Project(pop []*agents.Agent, tick uint64, now float64) VizSnapshot {
	snap := VizSnapshot{
		Tick:   tick,
		Time:   now,
		Agents: make([]VizAgent, 0, len(pop)),
	}
	n := len(pop)
	for _, a := range pop {
		angle := 2 * math.Pi * float64(a.ID) / float64(max(n, 1))
		wobble := 0.12 * p.drift.Eval2(float64(a.ID), now*0.1)

		hue := 0.0
		if last, ok := a.LastNote(); ok {
			hue = float64(last.Degree) / agents.NumDegrees * 360
		}

		snap.Agents = append(snap.Agents, VizAgent{
			ID:       a.ID,
			X:        (1 + wobble) * math.Cos(angle),
			Y:        (1 + wobble) * math.Sin(angle),
			Energy:   a.SpeakingEnergy / p.maxEnergy,
			Hue:      hue,
			Speaking: now-a.LastSpokeTime < SpeakingDecaySeconds && a.LastSpokeTime > 0,
			Foraging: a.Forage == agents.ForageActive,
		})
	}
	return snap
}
