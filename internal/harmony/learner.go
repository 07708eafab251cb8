// Package harmony selects pitches for speaking agents and runs the local
// reinforcement rule through which the population invents a shared harmony.
// Each agent keeps a 12-degree preference vector; consonant coincidences
// with nearby notes reinforce a degree, crowded minor seconds penalize it.
package harmony

import (
	"log/slog"
	"math"

	"github.com/talgya/songpond/internal/agents"
	"github.com/talgya/songpond/internal/entropy"
)

// Config holds the pitch selection and learning tunables.
type Config struct {
	InnovationRate float64 `yaml:"innovation_rate"` // Chance to ignore learned bias
	Tonic          float64 `yaml:"tonic"`           // Hz at base octave, degree 0
	BaseOctave     int     `yaml:"base_octave"`

	StepwiseBoost float64 `yaml:"stepwise_boost"` // Degrees 1–2 steps from last note
	LeapDamp      float64 `yaml:"leap_damp"`      // Degrees >2 steps away

	NightShift int `yaml:"night_shift"` // Semitones added after dark

	ConsonantReward  float64 `yaml:"consonant_reward"`
	DissonantPenalty float64 `yaml:"dissonant_penalty"`
	LearnWindow      float64 `yaml:"learn_window"` // Seconds of coincidence
}

// DefaultConfig returns the stock harmony parameters.
func DefaultConfig() Config {
	return Config{
		InnovationRate:   0.01,
		Tonic:            220,
		BaseOctave:       4,
		StepwiseBoost:    1.7,
		LeapDamp:         0.3,
		NightShift:       3,
		ConsonantReward:  0.02,
		DissonantPenalty: 0.01,
		LearnWindow:      0.3,
	}
}

// consonant holds the intervals (in semitones mod 12) treated as consonant.
var consonant = map[int]bool{0: true, 3: true, 4: true, 5: true, 7: true, 9: true}

// Learner selects degrees and applies the reinforcement rule.
type Learner struct {
	cfg Config
	rng *entropy.Source

	// lightLevel is the external day/night input; above 0.5 counts as day.
	// It shifts the voiced frequency only, never the stored degree.
	lightLevel float64
}

// NewLearner creates a learner drawing from the engine's randomness source.
func NewLearner(cfg Config, rng *entropy.Source) *Learner {
	return &Learner{cfg: cfg, rng: rng, lightLevel: 1}
}

// SetLightLevel updates the environmental light input, clamped to [0, 1].
func (l *Learner) SetLightLevel(v float64) {
	l.lightLevel = math.Min(1, math.Max(0, v))
}

// LightLevel returns the current light input.
func (l *Learner) LightLevel() float64 {
	return l.lightLevel
}

// tonalShift returns the semitone shift applied to voiced frequencies.
func (l *Learner) tonalShift() int {
	if l.lightLevel > 0.5 {
		return 0
	}
	return l.cfg.NightShift
}

// SelectDegree picks a scale degree for the agent. A rare innovation roll
// bypasses the learned bias entirely; otherwise the agent samples from its
// weights shaped by a stepwise-motion bias around its previous note.
func (l *Learner) SelectDegree(a *agents.Agent) int {
	if l.rng.Float() < l.cfg.InnovationRate {
		return l.rng.Intn(agents.NumDegrees)
	}

	var w [agents.NumDegrees]float64
	copy(w[:], a.DegreeWeights[:])

	if last, ok := a.LastNote(); ok {
		for d := range w {
			switch dist := scaleDistance(d, last.Degree); {
			case dist >= 1 && dist <= 2:
				w[d] *= l.cfg.StepwiseBoost
			case dist > 2:
				w[d] *= l.cfg.LeapDamp
			}
		}
	}

	total := 0.0
	for _, v := range w {
		total += v
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		slog.Warn("degenerate degree weights, sampling uniform", "agent", a.ID)
		return l.rng.Intn(agents.NumDegrees)
	}

	roll := l.rng.Float() * total
	for d, v := range w {
		roll -= v
		if roll < 0 {
			return d
		}
	}
	return agents.NumDegrees - 1
}

// Synthesize derives a full note event for the agent voicing degree.
// startTime is the already-look-ahead-adjusted audio time. The day/night
// shift is folded into the frequency here and nowhere else.
func (l *Learner) Synthesize(a *agents.Agent, degree int, startTime float64) NoteEvent {
	shifted := degree + l.tonalShift()

	// Size picks one of three octave bands with a small jitter.
	octave := l.cfg.BaseOctave - 1
	switch {
	case a.Size >= 2.0/3.0:
		octave = l.cfg.BaseOctave + 1
	case a.Size >= 1.0/3.0:
		octave = l.cfg.BaseOctave
	}
	octaveOffset := float64(octave-l.cfg.BaseOctave) + l.rng.Jitter(0.1)

	// Microtonal jitter of at most an eighth of a semitone.
	micro := l.rng.Jitter(0.125)
	freq := l.cfg.Tonic * math.Pow(2, octaveOffset) * math.Pow(2, (float64(shifted)+micro)/12)

	// Duration, amplitude, and timbre follow baseline expressiveness with
	// bounded randomization so downstream renderers never clip.
	duration := 0.3 + a.Energy*0.8 + l.rng.Float()*0.3
	amplitude := math.Min(0.8, 0.15+a.Energy*0.5+l.rng.Jitter(0.05))
	amplitude = math.Max(0.05, amplitude)
	timbre := math.Min(1, math.Max(0, 0.3+a.Energy*0.5+l.rng.Jitter(0.2)))

	return NoteEvent{
		AgentID:            a.ID,
		Degree:             degree,
		ScheduledStartTime: startTime,
		Frequency:          freq,
		Duration:           duration,
		Amplitude:          amplitude,
		Timbre:             timbre,
	}
}

// Reinforce updates the speaker's degree weights from notes other agents
// voiced within the learning window of now, then renormalizes so the vector
// keeps its constant sum and floor.
func (l *Learner) Reinforce(a *agents.Agent, pop []*agents.Agent, degree int, now float64) {
	minorSeconds := 0
	for _, other := range pop {
		if other.ID == a.ID {
			continue
		}
		for _, note := range other.NotesNear(now, l.cfg.LearnWindow) {
			interval := abs(degree-note.Degree) % agents.NumDegrees
			if consonant[interval] {
				a.DegreeWeights[degree] += l.cfg.ConsonantReward
			} else if interval == 1 {
				minorSeconds++
			}
		}
	}
	// A lone clash is tolerated; a crowded minor second is penalized.
	if minorSeconds >= 2 {
		a.DegreeWeights[degree] -= l.cfg.DissonantPenalty
	}
	Renormalize(&a.DegreeWeights)
}

// Renormalize rescales the weight vector to its constant sum while holding
// every element at or above the floor. Non-finite entries are reset first.
func Renormalize(w *[agents.NumDegrees]float64) {
	for d, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			w[d] = agents.DegreeWeightFloor
		}
	}

	// Scale to the target sum, then repair floor violations by taking the
	// deficit proportionally from the entries still above the floor. A few
	// passes settle for any realistic update magnitude.
	for pass := 0; pass < 4; pass++ {
		sum := 0.0
		for _, v := range w {
			sum += v
		}
		scale := agents.DegreeWeightSum / sum
		for d := range w {
			w[d] *= scale
		}

		deficit := 0.0
		headroom := 0.0
		for _, v := range w {
			if v < agents.DegreeWeightFloor {
				deficit += agents.DegreeWeightFloor - v
			} else {
				headroom += v - agents.DegreeWeightFloor
			}
		}
		if deficit == 0 {
			return
		}
		for d, v := range w {
			if v < agents.DegreeWeightFloor {
				w[d] = agents.DegreeWeightFloor
			} else if headroom > 0 {
				w[d] -= deficit * (v - agents.DegreeWeightFloor) / headroom
			}
		}
	}
}

// scaleDistance returns the circular distance between two degrees, in 0–6.
func scaleDistance(a, b int) int {
	d := abs(a-b) % agents.NumDegrees
	if d > agents.NumDegrees/2 {
		d = agents.NumDegrees - d
	}
	return d
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
