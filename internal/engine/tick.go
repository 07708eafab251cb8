// Package engine provides the fixed-tick simulation driver.
// A single goroutine owns all agent state; inbound control arrives through
// a command channel drained at tick boundaries, and the only other shared
// state is the host audio clock behind its own lock.
package engine

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// CommandKind enumerates inbound control commands.
type CommandKind uint8

const (
	CmdStart CommandKind = iota
	CmdStop
	CmdSetParameter
	CmdLightLevel
	CmdShutdown
)

// Command is one inbound control message for the tick driver.
type Command struct {
	Kind  CommandKind
	Name  string  // Parameter name for CmdSetParameter
	Value float64 // Parameter or light level value
}

// clockMissWarnAfter is how many consecutive ticks may pass without a host
// clock value before the fallback is logged.
const clockMissWarnAfter = 20

// Engine drives the simulation forward at a fixed tick interval.
type Engine struct {
	Sim      *Simulation
	Clock    *HostClock
	Interval time.Duration

	commands chan Command
	running  atomic.Bool // Loop alive
	active   atomic.Bool // Ticking vs idle

	tick        uint64
	lastAudio   float64
	clockMisses int
}

// NewEngine creates an engine around a simulation.
func NewEngine(sim *Simulation, interval time.Duration) *Engine {
	return &Engine{
		Sim:      sim,
		Clock:    &HostClock{},
		Interval: interval,
		commands: make(chan Command, 64),
	}
}

// Submit enqueues a control command. Never blocks: if the tick driver is
// hopelessly behind, the command is dropped with a diagnostic.
func (e *Engine) Submit(cmd Command) {
	select {
	case e.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping", "kind", cmd.Kind)
	}
}

// Active reports whether the engine is currently ticking.
func (e *Engine) Active() bool {
	return e.active.Load()
}

// Shutdown stops the Run loop entirely.
func (e *Engine) Shutdown() {
	e.running.Store(false)
}

// Run is the tick loop. Blocks until Shutdown. The engine starts idle;
// a start command begins ticking.
func (e *Engine) Run() {
	e.running.Store(true)
	slog.Info("engine started", "interval", e.Interval)

	dt := e.Interval.Seconds()
	for e.running.Load() {
		e.drainCommands()

		if !e.active.Load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()
		e.tick++
		e.Sim.Step(e.tick, e.sampleClock(dt), dt)

		// Sleep for the remainder of the tick interval.
		elapsed := time.Since(start)
		if elapsed < e.Interval {
			time.Sleep(e.Interval - elapsed)
		}
	}

	slog.Info("engine stopped", "tick", e.tick)
}

// drainCommands applies all queued control commands at the tick boundary.
func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			e.apply(cmd)
		default:
			return
		}
	}
}

func (e *Engine) apply(cmd Command) {
	switch cmd.Kind {
	case CmdStart:
		// Start always reinitializes from scratch; nothing persists.
		e.Sim.Reset()
		e.tick = 0
		e.active.Store(true)
		slog.Info("ticking started", "run", e.Sim.RunID)
	case CmdStop:
		e.active.Store(false)
		slog.Info("ticking stopped", "tick", e.tick)
	case CmdSetParameter:
		e.Sim.SetParameter(cmd.Name, cmd.Value)
	case CmdLightLevel:
		e.Sim.Learner.SetLightLevel(cmd.Value)
	case CmdShutdown:
		e.active.Store(false)
		e.running.Store(false)
	}
}

// sampleClock returns this tick's audio time. It prefers a fresh host
// value and otherwise extrapolates locally; either way the result is
// strictly greater than the previous tick's value, so two ticks never share
// a clock reading.
func (e *Engine) sampleClock(dt float64) float64 {
	t, fresh := e.Clock.Sample()
	if fresh {
		if e.clockMisses >= clockMissWarnAfter {
			slog.Info("host audio clock recovered", "value", t)
		}
		e.clockMisses = 0
	} else {
		e.clockMisses++
		if e.clockMisses == clockMissWarnAfter {
			slog.Warn("host audio clock silent, extrapolating locally",
				"missed_ticks", e.clockMisses)
		}
		t = e.lastAudio + dt
	}

	if t <= e.lastAudio {
		t = e.lastAudio + dt*1e-3
	}
	e.lastAudio = t
	return t
}
