package harmony

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/songpond/internal/agents"
	"github.com/talgya/songpond/internal/entropy"
)

func testAgent(id int) *agents.Agent {
	a := &agents.Agent{ID: id, Size: 0.5, Energy: 0.7}
	for d := range a.DegreeWeights {
		a.DegreeWeights[d] = 1
	}
	return a
}

func weightSum(w [agents.NumDegrees]float64) float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum
}

// Arbitrary sequences of reinforcement and penalty must keep the vector's
// sum constant and every element at or above the floor.
func TestRenormalizeInvariants(t *testing.T) {
	rng := entropy.NewSource(99)
	var w [agents.NumDegrees]float64
	for d := range w {
		w[d] = 1
	}

	for i := 0; i < 5000; i++ {
		d := rng.Intn(agents.NumDegrees)
		if rng.Float() < 0.5 {
			w[d] += 0.02
		} else {
			w[d] -= 0.01
		}
		Renormalize(&w)

		require.InDelta(t, agents.DegreeWeightSum, weightSum(w), 1e-6, "iteration %d", i)
		for j, v := range w {
			require.GreaterOrEqual(t, v, agents.DegreeWeightFloor-1e-9,
				"iteration %d degree %d", i, j)
		}
	}
}

func TestRenormalizeRepairsNonFinite(t *testing.T) {
	var w [agents.NumDegrees]float64
	for d := range w {
		w[d] = 1
	}
	w[3] = math.NaN()
	w[7] = math.Inf(1)
	w[9] = -2

	Renormalize(&w)
	assert.InDelta(t, agents.DegreeWeightSum, weightSum(w), 1e-6)
	for d, v := range w {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "degree %d", d)
		assert.GreaterOrEqual(t, v, agents.DegreeWeightFloor-1e-9, "degree %d", d)
	}
}

func TestScaleDistanceIsCircular(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0, 11, 1},
		{0, 6, 6},
		{2, 11, 3},
		{5, 7, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scaleDistance(tt.a, tt.b), "dist(%d,%d)", tt.a, tt.b)
	}
}

// With a previous note on record, stepwise degrees should be sampled far
// more often than distant leaps.
func TestStepwiseMotionBias(t *testing.T) {
	l := NewLearner(DefaultConfig(), entropy.NewSource(7))
	a := testAgent(0)
	a.PushRecentNote(5, 0)

	counts := make(map[int]int)
	for i := 0; i < 20000; i++ {
		counts[l.SelectDegree(a)]++
	}

	stepwise := counts[3] + counts[4] + counts[6] + counts[7]
	leaps := counts[0] + counts[1] + counts[10] + counts[11]
	assert.Greater(t, stepwise, leaps*2,
		"stepwise degrees should dominate (stepwise=%d leaps=%d)", stepwise, leaps)
}

func TestInnovationSamplesUniformly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InnovationRate = 1.0
	l := NewLearner(cfg, entropy.NewSource(11))

	a := testAgent(0)
	// Pin the learned bias to one degree; innovation must ignore it.
	for d := range a.DegreeWeights {
		a.DegreeWeights[d] = agents.DegreeWeightFloor
	}
	a.DegreeWeights[2] = agents.DegreeWeightSum - 11*agents.DegreeWeightFloor

	counts := make(map[int]int)
	for i := 0; i < 12000; i++ {
		counts[l.SelectDegree(a)]++
	}
	for d := 0; d < agents.NumDegrees; d++ {
		assert.Greater(t, counts[d], 500, "degree %d should appear under innovation", d)
	}
}

// The day/night tonal shift changes the voiced frequency only; the note's
// stored degree must stay pre-shift.
func TestTonalShiftNeverTouchesDegree(t *testing.T) {
	l := NewLearner(DefaultConfig(), entropy.NewSource(3))
	a := testAgent(0)

	l.SetLightLevel(0.2) // Night: +3 semitones in frequency
	note := l.Synthesize(a, 4, 10)
	assert.Equal(t, 4, note.Degree)

	l.SetLightLevel(0.9)
	note = l.Synthesize(a, 4, 10)
	assert.Equal(t, 4, note.Degree)
}

func TestTonalShiftByLight(t *testing.T) {
	l := NewLearner(DefaultConfig(), entropy.NewSource(3))
	l.SetLightLevel(0.9)
	assert.Equal(t, 0, l.tonalShift())
	l.SetLightLevel(0.5) // Not above 0.5: night
	assert.Equal(t, 3, l.tonalShift())
	l.SetLightLevel(0.1)
	assert.Equal(t, 3, l.tonalShift())
}

// Night notes sit a minor third above day notes on average.
func TestNightShiftRaisesFrequency(t *testing.T) {
	cfg := DefaultConfig()
	l := NewLearner(cfg, entropy.NewSource(21))
	a := testAgent(0)

	meanFreq := func() float64 {
		total := 0.0
		for i := 0; i < 2000; i++ {
			total += l.Synthesize(a, 0, 0).Frequency
		}
		return total / 2000
	}

	l.SetLightLevel(1)
	day := meanFreq()
	l.SetLightLevel(0)
	night := meanFreq()

	assert.Greater(t, night, day*1.1, "night mean %.1f should sit above day mean %.1f", night, day)
}

func TestSynthesizeBounds(t *testing.T) {
	cfg := DefaultConfig()
	l := NewLearner(cfg, entropy.NewSource(17))

	for _, size := range []float64{0.0, 0.5, 0.99} {
		a := testAgent(0)
		a.Size = size
		a.Energy = 1.0
		for i := 0; i < 2000; i++ {
			n := l.Synthesize(a, 11, 5)

			assert.Equal(t, 5.0, n.ScheduledStartTime)
			assert.Greater(t, n.Frequency, 0.0)
			// Widest case: high band, night shift, max jitters.
			assert.Less(t, n.Frequency, cfg.Tonic*math.Pow(2, 1.2+17.0/12))
			assert.GreaterOrEqual(t, n.Amplitude, 0.05)
			assert.LessOrEqual(t, n.Amplitude, 0.8)
			assert.GreaterOrEqual(t, n.Timbre, 0.0)
			assert.LessOrEqual(t, n.Timbre, 1.0)
			assert.GreaterOrEqual(t, n.Duration, 0.3)
			assert.LessOrEqual(t, n.Duration, 1.4+1e-9)
		}
	}
}

func TestOctaveBandsFollowSize(t *testing.T) {
	l := NewLearner(DefaultConfig(), entropy.NewSource(29))

	mean := func(size float64) float64 {
		a := testAgent(0)
		a.Size = size
		total := 0.0
		for i := 0; i < 1000; i++ {
			total += l.Synthesize(a, 0, 0).Frequency
		}
		return total / 1000
	}

	low := mean(0.1)
	mid := mean(0.5)
	high := mean(0.9)
	assert.Greater(t, mid, low*1.5)
	assert.Greater(t, high, mid*1.5)
}

// A consonant coincidence reinforces the voiced degree.
func TestReinforceConsonant(t *testing.T) {
	l := NewLearner(DefaultConfig(), entropy.NewSource(31))
	speaker := testAgent(0)
	other := testAgent(1)
	other.PushRecentNote(7, 10.0) // Perfect fifth against degree 0

	l.Reinforce(speaker, []*agents.Agent{speaker, other}, 0, 10.1)
	assert.Greater(t, speaker.DegreeWeights[0], speaker.DegreeWeights[1])
}

// A single minor-second clash is tolerated; two or more penalize.
func TestReinforceDissonantNeedsTwo(t *testing.T) {
	l := NewLearner(DefaultConfig(), entropy.NewSource(31))

	speaker := testAgent(0)
	one := testAgent(1)
	one.PushRecentNote(1, 10.0)
	l.Reinforce(speaker, []*agents.Agent{speaker, one}, 0, 10.1)
	assert.InDelta(t, speaker.DegreeWeights[0], speaker.DegreeWeights[5], 1e-9,
		"single clash leaves weights untouched")

	speaker2 := testAgent(0)
	two := testAgent(2)
	two.PushRecentNote(1, 10.05)
	l.Reinforce(speaker2, []*agents.Agent{speaker2, one, two}, 0, 10.1)
	assert.Less(t, speaker2.DegreeWeights[0], speaker2.DegreeWeights[5])
}

// Notes outside the coincidence window contribute nothing.
func TestReinforceWindow(t *testing.T) {
	l := NewLearner(DefaultConfig(), entropy.NewSource(31))
	speaker := testAgent(0)
	other := testAgent(1)
	other.PushRecentNote(7, 5.0) // Long gone by now=10

	l.Reinforce(speaker, []*agents.Agent{speaker, other}, 0, 10)
	assert.InDelta(t, speaker.DegreeWeights[0], speaker.DegreeWeights[1], 1e-9)
}
