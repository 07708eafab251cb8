// Package agents provides the chorus agent data model and the seeded
// population spawner.
package agents

// NumDegrees is the number of chromatic scale degrees an agent can voice.
const NumDegrees = 12

// RecentNoteCap bounds the per-agent ring buffer of recently voiced notes.
const RecentNoteCap = 3

// DegreeWeightFloor is the minimum value any learned degree weight may hold.
// The floor keeps every degree reachable no matter how reinforcement goes.
const DegreeWeightFloor = 0.1

// DegreeWeightSum is the constant total the weight vector is renormalized to.
const DegreeWeightSum = float64(NumDegrees)

// ForageState tracks whether an agent is currently working its territory.
type ForageState uint8

const (
	ForageIdle   ForageState = 0
	ForageActive ForageState = 1
)

// RecentNote is one entry in an agent's bounded note memory.
// Time is in engine audio-clock seconds.
type RecentNote struct {
	Degree int     `json:"degree"`
	Time   float64 `json:"time"`
}

// Agent is one oscillating member of the chorus population.
// The index doubles as identity and ring position: an agent's coupling
// neighbors are index±1 mod N.
type Agent struct {
	ID int `json:"id"`

	// Phase state. Phases live in [0, 2π); LastBeatPhase holds the previous
	// tick's beat phase and exists only for crossing detection.
	BeatPhase     float64 `json:"beat_phase"`
	PhrasePhase   float64 `json:"phrase_phase"`
	LastBeatPhase float64 `json:"last_beat_phase"`

	// Natural frequencies in cycles per second, fixed at spawn with a small
	// per-agent jitter around the population mean.
	BeatOmega   float64 `json:"beat_omega"`
	PhraseOmega float64 `json:"phrase_omega"`

	// Physical traits, fixed at spawn. Size maps to an octave band; Energy
	// is baseline expressiveness.
	Size   float64 `json:"size"`
	Energy float64 `json:"energy"`

	// Energy economy.
	SpeakingEnergy   float64     `json:"speaking_energy"`
	SpeakingCost     float64     `json:"speaking_cost"`
	RechargeRate     float64     `json:"recharge_rate"` // Per second
	TerritoryPhase   float64     `json:"territory_phase"`
	ForageEfficiency float64     `json:"forage_efficiency"`
	LastForageTime   float64     `json:"last_forage_time"`
	Forage           ForageState `json:"forage"`

	// Social state.
	SocialStatus    float64 `json:"social_status"`
	StatusDecayRate float64 `json:"status_decay_rate"` // Per second
	LastSocialTime  float64 `json:"last_social_time"`
	LastSpokeTime   float64 `json:"last_spoke_time"`

	// Learning state.
	RecentNotes   []RecentNote        `json:"recent_notes"`
	DegreeWeights [NumDegrees]float64 `json:"degree_weights"`
}

// Neighbors returns the ring-adjacent agent indexes for a population of n.
func (a *Agent) Neighbors(n int) (left, right int) {
	left = (a.ID - 1 + n) % n
	right = (a.ID + 1) % n
	return left, right
}

// IsNeighbor reports whether other is ring-adjacent to this agent.
func (a *Agent) IsNeighbor(other, n int) bool {
	if n < 2 || other == a.ID {
		return false
	}
	left, right := a.Neighbors(n)
	return other == left || other == right
}

// PushRecentNote records a voiced note, dropping the oldest past capacity.
func (a *Agent) PushRecentNote(degree int, t float64) {
	a.RecentNotes = append(a.RecentNotes, RecentNote{Degree: degree, Time: t})
	if len(a.RecentNotes) > RecentNoteCap {
		a.RecentNotes = a.RecentNotes[len(a.RecentNotes)-RecentNoteCap:]
	}
}

// LastNote returns the most recently voiced note, if any.
func (a *Agent) LastNote() (RecentNote, bool) {
	if len(a.RecentNotes) == 0 {
		return RecentNote{}, false
	}
	return a.RecentNotes[len(a.RecentNotes)-1], true
}

// NotesNear returns this agent's notes voiced within window seconds of t.
func (a *Agent) NotesNear(t, window float64) []RecentNote {
	var out []RecentNote
	for _, n := range a.RecentNotes {
		d := t - n.Time
		if d < 0 {
			d = -d
		}
		if d <= window {
			out = append(out, n)
		}
	}
	return out
}
