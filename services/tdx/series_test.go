package tdx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var nanv = math.NaN()

func assertSeries(t *testing.T, want, got []float64) {
	t.Helper()
	assert.Equal(t, len(want), len(got))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "index %d: want NaN, got %v", i, got[i])
			continue
		}
		assert.InDelta(t, want[i], got[i], 1e-9, "index %d", i)
	}
}

func TestRef(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	assertSeries(t, []float64{nanv, nanv, 1, 2, 3}, Ref(x, 2))
	assertSeries(t, x, Ref(x, 0))
}

func TestMAStrictNaN(t *testing.T) {
	x := []float64{10, 11, 12, 13, 14}
	assertSeries(t, []float64{nanv, nanv, 11, 12, 13}, MA(x, 3))

	// a NaN inside the window is never skipped
	withNaN := []float64{10, nanv, 12, 13, 14}
	assertSeries(t, []float64{nanv, nanv, nanv, nanv, 13}, MA(withNaN, 3))
}

func TestLLVHHVSkipNaN(t *testing.T) {
	x := []float64{5, nanv, 3, 8, nanv}
	assertSeries(t, []float64{5, 5, 3, 3, 3}, LLV(x, 3))
	assertSeries(t, []float64{5, 5, 5, 8, 8}, HHV(x, 3))

	// whole window NaN stays NaN
	allNaN := []float64{nanv, nanv, 4}
	assertSeries(t, []float64{nanv, nanv, 4}, LLV(allNaN, 2))
}

// A single leading NaN seeds the recursion at the first finite input and
// must not propagate past it. Expectations hand-computed for a 10-bar run.
func TestSMALeadingNaNSeeding(t *testing.T) {
	x := []float64{nanv, 10, 11, 12, 13, 12, 11, 10, 11, 12}
	want := []float64{
		nanv,
		10,
		10.3333333333,
		10.8888888889,
		11.5925925926,
		11.7283950617,
		11.4855967078,
		10.9903978052,
		10.9935985368,
		11.3290656912,
	}
	got := SMA(x, 3, 1)
	assert.Equal(t, len(want), len(got))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "index %d", i)
			continue
		}
		assert.InDelta(t, want[i], got[i], 1e-9, "index %d", i)
	}
}

func TestSMASeedIsFirstFiniteValue(t *testing.T) {
	x := []float64{7, 8, 9}
	got := SMA(x, 5, 2)
	assert.Equal(t, 7.0, got[0])
	// (2*8 + 3*7) / 5
	assert.InDelta(t, 7.4, got[1], 1e-9)
}

func TestEMALeadingNaNSeeding(t *testing.T) {
	x := []float64{nanv, 10, 11, 12, 13, 12, 11, 10, 11, 12}
	want := []float64{
		nanv,
		10,
		10.5,
		11.25,
		12.125,
		12.0625,
		11.53125,
		10.765625,
		10.8828125,
		11.44140625,
	}
	assertSeries(t, want, EMA(x, 3))
}

func TestRecursionResumesAfterGap(t *testing.T) {
	x := []float64{10, nanv, 10, 10}
	got := SMA(x, 3, 1)
	assert.Equal(t, 10.0, got[0])
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 10.0, got[2], 1e-9)
	assert.InDelta(t, 10.0, got[3], 1e-9)
}
