// Simulation ties the chorus systems together and runs them each tick.
package engine

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/songpond/internal/agents"
	"github.com/talgya/songpond/internal/config"
	"github.com/talgya/songpond/internal/conversation"
	"github.com/talgya/songpond/internal/economy"
	"github.com/talgya/songpond/internal/entropy"
	"github.com/talgya/songpond/internal/harmony"
	"github.com/talgya/songpond/internal/oscillator"
	"github.com/talgya/songpond/internal/persistence"
)

// Emitter receives the engine's outbound messages. The engine never blocks
// on an emitter; implementations must drop rather than stall.
type Emitter interface {
	EmitPhases(PhaseSnapshot)
	EmitNotes([]harmony.NoteEvent)
	EmitViz(VizSnapshot)
}

// NopEmitter discards everything (headless runs and tests).
type NopEmitter struct{}

func (NopEmitter) EmitPhases(PhaseSnapshot)      {}
func (NopEmitter) EmitNotes([]harmony.NoteEvent) {}
func (NopEmitter) EmitViz(VizSnapshot)           {}

// Event is a notable engine occurrence kept for diagnostics.
type Event struct {
	Tick        uint64 `json:"tick"`
	Description string `json:"description"`
	Category    string `json:"category"` // "conversation", "clock", "run"
}

// SimStats tracks aggregate run statistics.
type SimStats struct {
	NotesEmitted  uint64  `json:"notes_emitted"`
	Conversations uint64  `json:"conversations"`
	Coherence     float64 `json:"coherence"` // Latest
}

// StatusView is an immutable snapshot of run state for concurrent readers
// (HTTP handlers). The tick goroutine republishes it every step.
type StatusView struct {
	RunID         string    `json:"run_id"`
	Seed          int64     `json:"seed"`
	Tick          uint64    `json:"tick"`
	AudioTime     float64   `json:"audio_time"`
	Population    int       `json:"population"`
	Coupling      float64   `json:"coupling"`
	Coherence     float64   `json:"coherence"`
	NotesEmitted  uint64    `json:"notes_emitted"`
	Conversations uint64    `json:"conversations"`
	LightLevel    float64   `json:"light_level"`
	StartedAt     time.Time `json:"started_at"`
}

// Simulation holds the complete chorus state and wires systems together.
type Simulation struct {
	Agents   []*agents.Agent
	Bank     *oscillator.Bank
	Sched    *conversation.Scheduler
	Econ     *economy.System
	Learner  *harmony.Learner
	Events   []Event
	Stats    SimStats
	LastTick uint64
	RunID    uuid.UUID

	cfg       config.Config
	rng       *entropy.Source
	spawner   *agents.Spawner
	projector *Projector
	emitter   Emitter
	recorder  *persistence.Recorder
	startedAt time.Time

	status  atomic.Pointer[StatusView]
	lastViz atomic.Pointer[VizSnapshot]
}

// NewSimulation builds a simulation. The recorder may be nil (no telemetry).
func NewSimulation(cfg config.Config, rng *entropy.Source, emitter Emitter, rec *persistence.Recorder) *Simulation {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	s := &Simulation{
		Bank:      oscillator.NewBank(cfg.Coupling),
		Sched:     conversation.NewScheduler(cfg.Conversation, rng),
		Econ:      economy.NewSystem(cfg.Economy),
		Learner:   harmony.NewLearner(cfg.Harmony, rng),
		cfg:       cfg,
		rng:       rng,
		spawner:   agents.NewSpawner(cfg.Spawn, rng),
		projector: NewProjector(rng.Seed(), cfg.Spawn.MaxSpeakingEnergy),
		emitter:   emitter,
		recorder:  rec,
	}
	s.Reset()
	return s
}

// SetEmitter swaps the outbound emitter. Call before ticking begins; the
// transport is constructed after the simulation during wiring.
func (s *Simulation) SetEmitter(e Emitter) {
	if e == nil {
		e = NopEmitter{}
	}
	s.emitter = e
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	return s.LastTick
}

// Reset reinitializes the population and all shared state from scratch.
// Nothing survives a reset except the randomness source's position.
func (s *Simulation) Reset() {
	s.Agents = s.spawner.SpawnPopulation()
	s.Sched.Reset()
	s.Econ.Reset()
	s.Stats = SimStats{}
	s.LastTick = 0
	s.RunID = uuid.New()
	s.startedAt = time.Now()
	s.Events = append(s.Events[:0], Event{
		Description: "population initialized",
		Category:    "run",
	})

	if s.recorder != nil {
		params, _ := json.Marshal(s.cfg)
		if err := s.recorder.BeginRun(s.RunID.String(), s.rng.Seed(), string(params)); err != nil {
			slog.Error("begin run record failed", "error", err)
		}
	}

	slog.Info("chorus initialized",
		"run", s.RunID,
		"agents", len(s.Agents),
		"coupling", s.Bank.Coupling(),
		"seed", s.rng.Seed(),
	)
}

// Step advances the simulation by one tick. now is the host audio-clock
// value for this tick, dt the fixed tick length in seconds. The per-tick
// order is fixed: phases advance first against frozen reads, the economy
// runs its upkeep, the scheduler pass grants emissions in stable index
// order, post-emission benefits flow, and finally snapshots go out.
func (s *Simulation) Step(tick uint64, now, dt float64) {
	s.LastTick = tick
	if len(s.Agents) == 0 {
		// Degenerate population: publish an empty snapshot and no-op.
		s.emitter.EmitPhases(BuildPhaseSnapshot(nil, tick, now))
		s.publishStatus(now)
		return
	}

	s.Bank.Step(s.Agents, dt)
	s.Econ.Upkeep(s.Agents, now, dt)
	s.Sched.Prune(now)

	var notes []harmony.NoteEvent
	var speakers []int
	for _, a := range s.Agents {
		posBefore := s.Sched.Position(now)
		if !s.Sched.Decide(a, now, len(s.Agents)) {
			continue
		}

		s.Econ.ChargeSpeaker(a, now)
		degree := s.Learner.SelectDegree(a)
		note := s.Learner.Synthesize(a, degree, now+s.cfg.LookAheadSeconds)
		a.PushRecentNote(degree, now)
		s.Learner.Reinforce(a, s.Agents, degree, now)

		notes = append(notes, note)
		speakers = append(speakers, a.ID)
		s.Stats.NotesEmitted++
		if posBefore == 0 {
			s.Stats.Conversations++
			s.recordEvent(tick, "conversation opened", "conversation")
		}
	}

	s.Econ.ApplyBenefits(s.Agents, speakers, now)

	snap := BuildPhaseSnapshot(s.Agents, tick, now)
	s.Stats.Coherence = snap.Coherence
	s.emitter.EmitPhases(snap)
	if len(notes) > 0 {
		s.emitter.EmitNotes(notes)
	}
	if s.cfg.VizEveryTicks > 0 && tick%uint64(s.cfg.VizEveryTicks) == 0 {
		viz := s.projector.Project(s.Agents, tick, now)
		s.lastViz.Store(&viz)
		s.emitter.EmitViz(viz)
	}

	s.record(tick, notes, snap.Coherence)
	s.publishStatus(now)

	if s.cfg.ReportEveryTicks > 0 && tick%uint64(s.cfg.ReportEveryTicks) == 0 {
		s.report(tick, now)
	}
}

// SetParameter adjusts a tunable by name. Unrecognized names are ignored
// with a diagnostic and no state change.
func (s *Simulation) SetParameter(name string, value float64) {
	switch name {
	case "coupling", "couplingStrength":
		s.Bank.SetCoupling(value)
		slog.Info("parameter set", "name", "coupling", "value", s.Bank.Coupling())
	case "lookAhead", "lookAheadSeconds":
		if value >= 0 && value <= 2 {
			s.cfg.LookAheadSeconds = value
			slog.Info("parameter set", "name", "lookAhead", "value", value)
		} else {
			slog.Warn("ignoring out-of-range look-ahead", "value", value)
		}
	case "lightLevel":
		s.Learner.SetLightLevel(value)
	default:
		slog.Warn("ignoring unknown parameter", "name", name, "value", value)
	}
}

// Status returns the latest published status view (may be nil before the
// first tick).
func (s *Simulation) Status() *StatusView {
	return s.status.Load()
}

// LastViz returns the latest visualization snapshot, if any.
func (s *Simulation) LastViz() *VizSnapshot {
	return s.lastViz.Load()
}

func (s *Simulation) publishStatus(now float64) {
	s.status.Store(&StatusView{
		RunID:         s.RunID.String(),
		Seed:          s.rng.Seed(),
		Tick:          s.LastTick,
		AudioTime:     now,
		Population:    len(s.Agents),
		Coupling:      s.Bank.Coupling(),
		Coherence:     s.Stats.Coherence,
		NotesEmitted:  s.Stats.NotesEmitted,
		Conversations: s.Stats.Conversations,
		LightLevel:    s.Learner.LightLevel(),
		StartedAt:     s.startedAt,
	})
}

func (s *Simulation) record(tick uint64, notes []harmony.NoteEvent, coherence float64) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordNotes(s.RunID.String(), tick, notes); err != nil {
		slog.Error("note record failed", "error", err)
	}
	every := s.cfg.DB.CoherenceEveryTicks
	if every > 0 && tick%uint64(every) == 0 {
		if err := s.recorder.RecordCoherence(s.RunID.String(), tick, coherence); err != nil {
			slog.Error("coherence record failed", "error", err)
		}
	}
}

func (s *Simulation) recordEvent(tick uint64, desc, category string) {
	s.Events = append(s.Events, Event{Tick: tick, Description: desc, Category: category})
	if len(s.Events) > 1000 {
		s.Events = s.Events[len(s.Events)-1000:]
	}
}

func (s *Simulation) report(tick uint64, now float64) {
	slog.Info("chorus report",
		"tick", tick,
		"audio_time", now,
		"uptime", humanize.Time(s.startedAt),
		"agents", len(s.Agents),
		"coherence", s.Stats.Coherence,
		"notes", humanize.Comma(int64(s.Stats.NotesEmitted)),
		"conversations", humanize.Comma(int64(s.Stats.Conversations)),
		"history", s.Sched.HistoryLen(),
	)
}
