// Package oscillator advances the coupled phase model.
// Each tick reads a frozen snapshot of the whole population's phases and
// writes the next tick's values, so the update is order-independent: no
// agent ever sees a neighbor's already-updated phase.
package oscillator

import (
	"log/slog"
	"math"

	"github.com/talgya/songpond/internal/agents"
)

// Coupling strength bounds. Higher K biases the ring toward synchrony.
const (
	MinCoupling = 0.0
	MaxCoupling = 0.5
)

// PhraseCouplingScale damps neighbor pull on the slow phrase channel.
const PhraseCouplingScale = 0.5

// Bank owns the coupling strength and the scratch arrays for the
// two-array phase update.
type Bank struct {
	coupling float64

	// Scratch buffers reused across ticks to avoid per-tick allocation.
	beat   []float64
	phrase []float64
}

// NewBank creates a Bank with the given coupling strength, clamped to range.
func NewBank(coupling float64) *Bank {
	b := &Bank{}
	b.SetCoupling(coupling)
	return b
}

// Coupling returns the current coupling strength.
func (b *Bank) Coupling() float64 {
	return b.coupling
}

// SetCoupling sets the coupling strength, clamped to [MinCoupling, MaxCoupling].
func (b *Bank) SetCoupling(k float64) {
	b.coupling = math.Min(MaxCoupling, math.Max(MinCoupling, k))
}

// Step advances every agent's phases by dt seconds using the frozen phases
// from the start of the tick. LastBeatPhase is stamped with the pre-update
// beat phase for crossing detection downstream.
func (b *Bank) Step(pop []*agents.Agent, dt float64) {
	n := len(pop)
	if n == 0 {
		return
	}

	// Freeze the read side.
	if cap(b.beat) < n {
		b.beat = make([]float64, n)
		b.phrase = make([]float64, n)
	}
	beat := b.beat[:n]
	phrase := b.phrase[:n]
	for i, a := range pop {
		beat[i] = a.BeatPhase
		phrase[i] = a.PhrasePhase
	}

	for i, a := range pop {
		left, right := a.Neighbors(n)

		a.LastBeatPhase = beat[i]
		a.BeatPhase = advance(beat[i], a.BeatOmega, b.coupling, beat[left], beat[right], dt)
		a.PhrasePhase = advance(phrase[i], a.PhraseOmega, b.coupling*PhraseCouplingScale, phrase[left], phrase[right], dt)

		if !isFinite(a.BeatPhase) || !isFinite(a.PhrasePhase) {
			slog.Warn("non-finite phase reset", "agent", a.ID,
				"beat", a.BeatPhase, "phrase", a.PhrasePhase)
			a.BeatPhase = 0
			a.PhrasePhase = 0
			a.LastBeatPhase = 0
		}
	}
}

// advance applies one Euler step of the ring-coupled update and wraps.
func advance(phase, omega, k, left, right, dt float64) float64 {
	pull := math.Sin(left-phase) + math.Sin(right-phase)
	return Wrap(phase + (omega+k*pull)*dt*2*math.Pi)
}

// Wrap maps a phase into [0, 2π). Phases wrap, never clamp.
func Wrap(p float64) float64 {
	p = math.Mod(p, 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	return p
}

// Coherence returns the Kuramoto order parameter r ∈ [0, 1] for a set of
// phases: 1 at full synchrony, ≈0 for uniform spread. Empty input yields 0.
func Coherence(phases []float64) float64 {
	n := len(phases)
	if n == 0 {
		return 0
	}
	var sumSin, sumCos float64
	for _, p := range phases {
		sumSin += math.Sin(p)
		sumCos += math.Cos(p)
	}
	r := math.Sqrt(sumSin*sumSin+sumCos*sumCos) / float64(n)
	// Floating point can nudge r a hair past 1 at perfect synchrony.
	return math.Min(r, 1)
}

// CircularMean returns the circular mean of the phases in [0, 2π).
// Empty or fully-cancelling input yields 0.
func CircularMean(phases []float64) float64 {
	if len(phases) == 0 {
		return 0
	}
	var sumSin, sumCos float64
	for _, p := range phases {
		sumSin += math.Sin(p)
		sumCos += math.Cos(p)
	}
	if sumSin == 0 && sumCos == 0 {
		return 0
	}
	return Wrap(math.Atan2(sumSin, sumCos))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
