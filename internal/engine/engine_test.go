package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/songpond/internal/config"
	"github.com/talgya/songpond/internal/entropy"
	"github.com/talgya/songpond/internal/harmony"
)

// captureEmitter records everything the simulation emits.
type captureEmitter struct {
	phases []PhaseSnapshot
	notes  [][]harmony.NoteEvent
	viz    []VizSnapshot
}

func (c *captureEmitter) EmitPhases(s PhaseSnapshot)      { c.phases = append(c.phases, s) }
func (c *captureEmitter) EmitNotes(n []harmony.NoteEvent) { c.notes = append(c.notes, n) }
func (c *captureEmitter) EmitViz(s VizSnapshot)           { c.viz = append(c.viz, s) }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Seed = 42
	cfg.Spawn.Count = 16
	cfg.DB.Path = "" // No recorder in tests
	cfg.ReportEveryTicks = 0
	return cfg
}

func runTicks(sim *Simulation, ticks int, dt float64) {
	now := 0.0
	for tick := 1; tick <= ticks; tick++ {
		now += dt
		sim.Step(uint64(tick), now, dt)
	}
}

func TestStepKeepsInvariants(t *testing.T) {
	cfg := testConfig()
	cap := &captureEmitter{}
	sim := NewSimulation(cfg, entropy.NewSource(cfg.Seed), cap, nil)

	runTicks(sim, 600, cfg.TickSeconds)

	maxEnergy := cfg.Spawn.MaxSpeakingEnergy
	for _, a := range sim.Agents {
		assert.GreaterOrEqual(t, a.BeatPhase, 0.0)
		assert.Less(t, a.BeatPhase, 2*math.Pi)
		assert.GreaterOrEqual(t, a.PhrasePhase, 0.0)
		assert.Less(t, a.PhrasePhase, 2*math.Pi)
		assert.GreaterOrEqual(t, a.SpeakingEnergy, 0.0)
		assert.LessOrEqual(t, a.SpeakingEnergy, maxEnergy)
		assert.GreaterOrEqual(t, a.SocialStatus, 0.0)
		assert.LessOrEqual(t, a.SocialStatus, 1.0)

		sum := 0.0
		for _, w := range a.DegreeWeights {
			sum += w
			assert.GreaterOrEqual(t, w, 0.1-1e-9)
		}
		assert.InDelta(t, 12.0, sum, 1e-6)
	}

	require.Len(t, cap.phases, 600, "one phase snapshot per tick")
	for _, snap := range cap.phases {
		assert.GreaterOrEqual(t, snap.Coherence, 0.0)
		assert.LessOrEqual(t, snap.Coherence, 1.0)
		assert.Len(t, snap.Agents, 16)
	}

	// 30 simulated seconds of 16 agents should have produced some notes.
	assert.NotEmpty(t, cap.notes)
	for _, batch := range cap.notes {
		assert.NotEmpty(t, batch, "empty note batches are omitted")
	}
}

func TestNoteStartTimesCarryLookAhead(t *testing.T) {
	cfg := testConfig()
	cfg.Conversation.BaseRate = 1 // Speak at every opportunity
	cap := &captureEmitter{}
	sim := NewSimulation(cfg, entropy.NewSource(7), cap, nil)

	runTicks(sim, 100, cfg.TickSeconds)

	require.NotEmpty(t, cap.notes)
	for _, batch := range cap.notes {
		for _, n := range batch {
			// Tick times start at dt, so every scheduled start sits at
			// least the look-ahead past zero.
			assert.Greater(t, n.ScheduledStartTime, cfg.LookAheadSeconds)
		}
	}
}

// With coupling the population grows clearly more coherent than without,
// from identical starting conditions.
func TestCouplingRaisesCoherence(t *testing.T) {
	run := func(coupling float64) float64 {
		cfg := testConfig()
		cfg.Coupling = coupling
		cfg.VizEveryTicks = 0
		cap := &captureEmitter{}
		sim := NewSimulation(cfg, entropy.NewSource(42), cap, nil)

		// Cluster initial phases within half the circle so the coupled
		// ring relaxes to synchrony rather than a twisted state.
		for i, a := range sim.Agents {
			a.BeatPhase = math.Pi * float64(i) / float64(len(sim.Agents))
			a.LastBeatPhase = a.BeatPhase
		}

		runTicks(sim, 1000, cfg.TickSeconds)

		mean := 0.0
		tail := cap.phases[len(cap.phases)-200:]
		for _, snap := range tail {
			mean += snap.Coherence
		}
		return mean / float64(len(tail))
	}

	coupled := run(0.15)
	free := run(0)
	assert.Greater(t, coupled, free+0.1,
		"coupled=%.3f free=%.3f", coupled, free)
}

func TestEmptyPopulationNoOps(t *testing.T) {
	cfg := testConfig()
	cfg.Spawn.Count = 0
	cap := &captureEmitter{}
	sim := NewSimulation(cfg, entropy.NewSource(1), cap, nil)

	assert.NotPanics(t, func() { runTicks(sim, 50, cfg.TickSeconds) })
	require.Len(t, cap.phases, 50)
	for _, snap := range cap.phases {
		assert.Empty(t, snap.Agents)
		assert.Equal(t, 0.0, snap.Coherence)
	}
	assert.Empty(t, cap.notes)
}

func TestResetReinitializesEverything(t *testing.T) {
	cfg := testConfig()
	sim := NewSimulation(cfg, entropy.NewSource(3), &captureEmitter{}, nil)

	runTicks(sim, 200, cfg.TickSeconds)
	firstRun := sim.RunID
	sim.Reset()

	assert.NotEqual(t, firstRun, sim.RunID)
	assert.Equal(t, uint64(0), sim.Stats.NotesEmitted)
	assert.Equal(t, uint64(0), sim.LastTick)
	assert.Equal(t, 0, sim.Sched.HistoryLen())
	assert.Len(t, sim.Agents, 16)
}

func TestSetParameter(t *testing.T) {
	cfg := testConfig()
	sim := NewSimulation(cfg, entropy.NewSource(3), nil, nil)

	sim.SetParameter("coupling", 0.4)
	assert.Equal(t, 0.4, sim.Bank.Coupling())

	// Out-of-range coupling clamps.
	sim.SetParameter("coupling", 3)
	assert.Equal(t, 0.5, sim.Bank.Coupling())

	sim.SetParameter("lightLevel", 0.2)
	assert.Equal(t, 0.2, sim.Learner.LightLevel())

	// Unknown names are ignored with no state change.
	before := sim.Bank.Coupling()
	sim.SetParameter("definitelyNotAKnob", 99)
	assert.Equal(t, before, sim.Bank.Coupling())
}

func TestStatusPublishedEachTick(t *testing.T) {
	cfg := testConfig()
	sim := NewSimulation(cfg, entropy.NewSource(3), nil, nil)
	assert.Nil(t, sim.Status())

	runTicks(sim, 10, cfg.TickSeconds)
	sv := sim.Status()
	require.NotNil(t, sv)
	assert.Equal(t, uint64(10), sv.Tick)
	assert.Equal(t, 16, sv.Population)
	assert.Equal(t, sim.RunID.String(), sv.RunID)
}

func TestVizSnapshotRate(t *testing.T) {
	cfg := testConfig()
	cfg.VizEveryTicks = 4
	cap := &captureEmitter{}
	sim := NewSimulation(cfg, entropy.NewSource(3), cap, nil)

	runTicks(sim, 100, cfg.TickSeconds)
	assert.Len(t, cap.viz, 25)
	require.NotNil(t, sim.LastViz())
	for _, va := range sim.LastViz().Agents {
		assert.GreaterOrEqual(t, va.Energy, 0.0)
		assert.LessOrEqual(t, va.Energy, 1.0)
	}
}

func TestHostClockRejectsMalformed(t *testing.T) {
	hc := &HostClock{}
	hc.Submit(math.NaN())
	hc.Submit(-5)
	_, fresh := hc.Sample()
	assert.False(t, fresh)

	hc.Submit(10)
	hc.Submit(4) // Regression ignored
	v, fresh := hc.Sample()
	assert.True(t, fresh)
	assert.Equal(t, 10.0, v)
}

// Two ticks must never reuse an identical clock value, whether the host
// clock is answering or silent.
func TestSampleClockStrictlyMonotonic(t *testing.T) {
	cfg := testConfig()
	sim := NewSimulation(cfg, entropy.NewSource(3), nil, nil)
	e := NewEngine(sim, 50*time.Millisecond)

	var prev float64
	e.Clock.Submit(1.0)
	for i := 0; i < 100; i++ {
		if i == 10 {
			e.Clock.Submit(1.2)
		}
		if i == 20 {
			// Host repeats an old value; engine must still advance.
			e.Clock.Submit(1.2)
		}
		now := e.sampleClock(0.05)
		require.Greater(t, now, prev, "tick %d", i)
		prev = now
	}
}

func TestEngineCommands(t *testing.T) {
	cfg := testConfig()
	sim := NewSimulation(cfg, entropy.NewSource(3), nil, nil)
	e := NewEngine(sim, 50*time.Millisecond)

	assert.False(t, e.Active())
	e.apply(Command{Kind: CmdStart})
	assert.True(t, e.Active())

	e.apply(Command{Kind: CmdSetParameter, Name: "coupling", Value: 0.25})
	assert.Equal(t, 0.25, sim.Bank.Coupling())

	e.apply(Command{Kind: CmdLightLevel, Value: 0.3})
	assert.Equal(t, 0.3, sim.Learner.LightLevel())

	e.apply(Command{Kind: CmdStop})
	assert.False(t, e.Active())
}
