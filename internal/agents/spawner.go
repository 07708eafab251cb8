// Agent spawning: creates the chorus population with jittered natural
// frequencies, physical traits, and territory placement.
package agents

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/songpond/internal/entropy"
)

// SpawnConfig controls initial population generation. Frequencies are in
// cycles per second; jitters are fractions of the population mean.
type SpawnConfig struct {
	Count           int     `yaml:"count"`
	BeatFrequency   float64 `yaml:"beat_frequency"`
	BeatJitter      float64 `yaml:"beat_jitter"`
	PhraseFrequency float64 `yaml:"phrase_frequency"`
	PhraseJitter    float64 `yaml:"phrase_jitter"`

	MaxSpeakingEnergy float64 `yaml:"max_speaking_energy"`
	SpeakingCost      float64 `yaml:"speaking_cost"`
	RechargeRate      float64 `yaml:"recharge_rate"`
	StatusDecayRate   float64 `yaml:"status_decay_rate"`
}

// DefaultSpawnConfig returns the stock population parameters.
func DefaultSpawnConfig() SpawnConfig {
	return SpawnConfig{
		Count:             16,
		BeatFrequency:     0.5,
		BeatJitter:        0.1,
		PhraseFrequency:   0.06,
		PhraseJitter:      0.2,
		MaxSpeakingEnergy: 1.0,
		SpeakingCost:      0.3,
		RechargeRate:      0.08,
		StatusDecayRate:   0.05,
	}
}

// Spawner creates agents for the simulation.
type Spawner struct {
	cfg SpawnConfig
	rng *entropy.Source

	// Smooth trait fields sampled around the ring, so neighboring agents
	// inhabit similar territory instead of drawing i.i.d. traits.
	forageField    opensimplex.Noise
	territoryField opensimplex.Noise
}

// NewSpawner creates a spawner drawing from the engine's randomness source.
func NewSpawner(cfg SpawnConfig, rng *entropy.Source) *Spawner {
	return &Spawner{
		cfg:            cfg,
		rng:            rng,
		forageField:    opensimplex.NewNormalized(rng.Seed() + 1),
		territoryField: opensimplex.NewNormalized(rng.Seed() + 2),
	}
}

// SpawnPopulation creates the full agent ring.
func (s *Spawner) SpawnPopulation() []*Agent {
	pop := make([]*Agent, 0, s.cfg.Count)
	for i := 0; i < s.cfg.Count; i++ {
		pop = append(pop, s.spawnOne(i))
	}
	return pop
}

func (s *Spawner) spawnOne(id int) *Agent {
	// Ring position in [0, 2π) drives the smooth trait fields.
	angle := 2 * math.Pi * float64(id) / float64(max(s.cfg.Count, 1))
	fx, fy := math.Cos(angle), math.Sin(angle)

	a := &Agent{
		ID:          id,
		BeatPhase:   s.rng.Float() * 2 * math.Pi,
		PhrasePhase: s.rng.Float() * 2 * math.Pi,
		BeatOmega:   s.cfg.BeatFrequency * (1 + s.rng.Jitter(s.cfg.BeatJitter)),
		PhraseOmega: s.cfg.PhraseFrequency * (1 + s.rng.Jitter(s.cfg.PhraseJitter)),

		Size:   s.rng.Float(),
		Energy: 0.4 + s.rng.Float()*0.6,

		SpeakingEnergy: s.cfg.MaxSpeakingEnergy * s.rng.Range(0.5, 0.9),
		SpeakingCost:   s.cfg.SpeakingCost * (1 + s.rng.Jitter(0.2)),
		RechargeRate:   s.cfg.RechargeRate * (1 + s.rng.Jitter(0.25)),

		// Territory phase: ring position plus a field-derived offset, so
		// adjacent agents forage in overlapping but not identical cycles.
		TerritoryPhase:   wrapTwoPi(angle + s.territoryField.Eval2(fx, fy)*2*math.Pi),
		ForageEfficiency: 0.55 + 0.4*s.forageField.Eval2(fx, fy),

		SocialStatus:    0.3 + s.rng.Float()*0.3,
		StatusDecayRate: s.cfg.StatusDecayRate * (1 + s.rng.Jitter(0.2)),
	}
	a.LastBeatPhase = a.BeatPhase

	// Learned preference starts uniform; renormalization keeps the sum at
	// DegreeWeightSum from here on.
	for d := range a.DegreeWeights {
		a.DegreeWeights[d] = DegreeWeightSum / NumDegrees
	}
	return a
}

func wrapTwoPi(p float64) float64 {
	p = math.Mod(p, 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	return p
}
