// Package economy runs the per-agent energy and social economy: speaking
// energy recharge, territory foraging, status decay, speaking costs, and the
// social benefits that flow around each emission.
package economy

import (
	"log/slog"
	"math"

	"github.com/talgya/songpond/internal/agents"
	"github.com/talgya/songpond/internal/oscillator"
)

// Config holds the economy tunables.
type Config struct {
	MaxSpeakingEnergy float64 `yaml:"max_speaking_energy"`

	// Foraging.
	ForageIntervalSeconds float64 `yaml:"forage_interval_seconds"` // Min gap between attempts
	ForageHungerFrac      float64 `yaml:"forage_hunger_frac"`      // Only forage below this fraction of max
	TerritoryRate         float64 `yaml:"territory_rate"`          // Territory phase advance, rad/s
	ForageYield           float64 `yaml:"forage_yield"`            // Scales efficiency × availability
	StartThreshold        float64 `yaml:"start_threshold"`         // Availability above this starts foraging
	StopThreshold         float64 `yaml:"stop_threshold"`          // Availability at or below this stops

	// Social.
	StatusGraceSeconds float64 `yaml:"status_grace_seconds"` // Silence before status decays
	FeedPerNeighbor    float64 `yaml:"feed_per_neighbor"`    // Feeding bonus per nearby agent
	FeedCap            float64 `yaml:"feed_cap"`             // Ceiling on any single feeding bonus
	NearbyAngle        float64 `yaml:"nearby_angle"`         // Phase distance counted as "nearby", radians
	ValidationRate     float64 `yaml:"validation_rate"`      // Scales responder status into speaker bonus
	ValidationMin      float64 `yaml:"validation_min"`       // Reply delay window for validation
	ValidationMax      float64 `yaml:"validation_max"`
	ListenerTrickle    float64 `yaml:"listener_trickle"` // Scales speaker status into listener bonus
}

// DefaultConfig returns the stock economy parameters.
func DefaultConfig() Config {
	return Config{
		MaxSpeakingEnergy:     1.0,
		ForageIntervalSeconds: 2.0,
		ForageHungerFrac:      0.95,
		TerritoryRate:         0.15,
		ForageYield:           0.3,
		StartThreshold:        0.7,
		StopThreshold:         0.3,
		StatusGraceSeconds:    1.0,
		FeedPerNeighbor:       0.02,
		FeedCap:               0.1,
		NearbyAngle:           math.Pi / 3, // 60°
		ValidationRate:        0.05,
		ValidationMin:         0.1,
		ValidationMax:         3.0,
		ListenerTrickle:       0.005,
	}
}

// speech is the economy's own record of recent emissions, kept so validation
// bonuses can be granted retroactively. The conversation history proper is
// owned by the scheduler and never read here.
type speech struct {
	time    float64
	agentID int
}

// System applies the economy rules each tick.
type System struct {
	cfg      Config
	speeches []speech
}

// NewSystem creates the economy system.
func NewSystem(cfg Config) *System {
	return &System{cfg: cfg}
}

// Reset drops the speech record (population reinit).
func (s *System) Reset() {
	s.speeches = s.speeches[:0]
}

// Upkeep runs the pre-emission economy for one tick: recharge, foraging,
// and status decay. now is audio-clock seconds, dt the tick length.
func (s *System) Upkeep(pop []*agents.Agent, now, dt float64) {
	for _, a := range pop {
		s.recharge(a, dt)
		s.forage(a, now, dt)
		s.decayStatus(a, now, dt)
		sanitize(a, s.cfg.MaxSpeakingEnergy)
	}
	// Keep only speeches young enough to still earn validation.
	cut := 0
	for cut < len(s.speeches) && now-s.speeches[cut].time > s.cfg.ValidationMax {
		cut++
	}
	if cut > 0 {
		s.speeches = s.speeches[cut:]
	}
}

func (s *System) recharge(a *agents.Agent, dt float64) {
	a.SpeakingEnergy = math.Min(s.cfg.MaxSpeakingEnergy, a.SpeakingEnergy+a.RechargeRate*dt)
}

func (s *System) forage(a *agents.Agent, now, dt float64) {
	a.TerritoryPhase = oscillator.Wrap(a.TerritoryPhase + s.cfg.TerritoryRate*dt)

	// Sated agents and agents mid-cooldown skip the attempt entirely.
	if a.SpeakingEnergy >= s.cfg.ForageHungerFrac*s.cfg.MaxSpeakingEnergy {
		return
	}
	if now-a.LastForageTime < s.cfg.ForageIntervalSeconds {
		return
	}

	availability := 0.5 + 0.5*math.Sin(a.TerritoryPhase)
	switch {
	case availability > s.cfg.StartThreshold && a.Forage == agents.ForageIdle:
		a.Forage = agents.ForageActive
		gain := a.ForageEfficiency * availability * s.cfg.ForageYield
		a.SpeakingEnergy = math.Min(s.cfg.MaxSpeakingEnergy, a.SpeakingEnergy+gain)
		a.SocialStatus = math.Min(1, a.SocialStatus+gain*0.2)
		a.LastForageTime = now
		a.LastSocialTime = now
	case availability <= s.cfg.StopThreshold:
		a.Forage = agents.ForageIdle
	}
}

func (s *System) decayStatus(a *agents.Agent, now, dt float64) {
	if now-a.LastSocialTime <= s.cfg.StatusGraceSeconds {
		return
	}
	a.SocialStatus = math.Max(0, a.SocialStatus-a.StatusDecayRate*dt)
}

// ChargeSpeaker debits the speaking cost for a granted emission and stamps
// the social clock. Called the moment the scheduler grants.
func (s *System) ChargeSpeaker(a *agents.Agent, now float64) {
	a.SpeakingEnergy = math.Max(0, a.SpeakingEnergy-a.SpeakingCost)
	a.LastSocialTime = now
	a.LastSpokeTime = now
	s.speeches = append(s.speeches, speech{time: now, agentID: a.ID})
}

// ApplyBenefits distributes the post-emission social benefits for this
// tick's speakers: feeding bonuses to phase-nearby agents, retroactive
// validation to speakers who drew a reply, and a listener trickle.
func (s *System) ApplyBenefits(pop []*agents.Agent, speakers []int, now float64) {
	for _, id := range speakers {
		if id < 0 || id >= len(pop) {
			continue
		}
		speaker := pop[id]

		nearby := s.nearbyAgents(pop, speaker)
		// Feeding: each nearby agent gains with crowd size, capped.
		bonus := math.Min(s.cfg.FeedCap, s.cfg.FeedPerNeighbor*float64(len(nearby)))
		for _, l := range nearby {
			l.SpeakingEnergy = math.Min(s.cfg.MaxSpeakingEnergy, l.SpeakingEnergy+bonus)
			// Listener trickle rides the speaker's standing, skipping
			// agents busy foraging.
			if l.Forage == agents.ForageIdle {
				trickle := speaker.SocialStatus * s.cfg.ListenerTrickle
				l.SpeakingEnergy = math.Min(s.cfg.MaxSpeakingEnergy, l.SpeakingEnergy+trickle)
			}
		}

		// Validation: earlier speakers answered by this one within the
		// window gain status sized by the responder's standing.
		for _, sp := range s.speeches {
			if sp.agentID == id {
				continue
			}
			delay := now - sp.time
			if delay < s.cfg.ValidationMin || delay > s.cfg.ValidationMax {
				continue
			}
			validated := pop[sp.agentID]
			validated.SocialStatus = math.Min(1, validated.SocialStatus+speaker.SocialStatus*s.cfg.ValidationRate)
			validated.LastSocialTime = now
		}
	}
}

// nearbyAgents returns agents within the nearby phase angle of the speaker.
func (s *System) nearbyAgents(pop []*agents.Agent, speaker *agents.Agent) []*agents.Agent {
	var out []*agents.Agent
	for _, a := range pop {
		if a.ID == speaker.ID {
			continue
		}
		if phaseDistance(a.BeatPhase, speaker.BeatPhase) <= s.cfg.NearbyAngle {
			out = append(out, a)
		}
	}
	return out
}

// phaseDistance returns the circular distance between two phases, in [0, π].
func phaseDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}

// sanitize clamps ranges and resets non-finite values, logging the repair.
func sanitize(a *agents.Agent, maxEnergy float64) {
	if math.IsNaN(a.SpeakingEnergy) || math.IsInf(a.SpeakingEnergy, 0) {
		slog.Warn("non-finite speaking energy reset", "agent", a.ID)
		a.SpeakingEnergy = 0
	}
	if math.IsNaN(a.SocialStatus) || math.IsInf(a.SocialStatus, 0) {
		slog.Warn("non-finite social status reset", "agent", a.ID)
		a.SocialStatus = 0
	}
	a.SpeakingEnergy = math.Min(maxEnergy, math.Max(0, a.SpeakingEnergy))
	a.SocialStatus = math.Min(1, math.Max(0, a.SocialStatus))
}
