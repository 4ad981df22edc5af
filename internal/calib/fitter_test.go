package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach-arm/reachd/internal/kinematics"
)

// syntheticSamples generates noiseless samples from a known pivot and
// split-linear mapping.
func syntheticSamples(pivot Pivot, splitDeg, mLow, mHigh, center float64, worlds [][2]float64) []Sample {
	out := make([]Sample, 0, len(worlds))
	for _, w := range worlds {
		yaw := kinematics.WorldYawDeg(w[0]-pivot.X, w[1]-pivot.Y)
		m := mLow
		if yaw >= splitDeg {
			m = mHigh
		}
		out = append(out, Sample{
			WorldX:     w[0],
			WorldY:     w[1],
			ServoAngle: center + m*(yaw-splitDeg),
		})
	}
	return out
}

func TestFitPivotAndMapping_RecoversKnownModel(t *testing.T) {
	pivot := Pivot{X: 100, Y: -150}
	samples := syntheticSamples(pivot, 90, 0.8, 1.2, 95, [][2]float64{
		{150, 50}, {50, 50}, {100, 100}, {200, 0},
		{0, 0}, {250, 150}, {300, 100}, {20, 120},
	})

	res, err := FitPivotAndMapping(samples, 90, SearchBox{MinX: 60, MaxX: 140, MinY: -190, MaxY: -110})
	require.NoError(t, err)

	// Pivot recovered within one fine-grid step, mapping within tolerance.
	assert.InDelta(t, pivot.X, res.Pivot.X, fineStepMM)
	assert.InDelta(t, pivot.Y, res.Pivot.Y, fineStepMM)
	assert.InDelta(t, 0.8, res.ScaleLow, 0.02)
	assert.InDelta(t, 1.2, res.ScaleHigh, 0.02)
	assert.InDelta(t, 95, res.CenterDeg, 0.5)
	assert.Less(t, res.RMS, 1.0)
}

func TestFitPivotAndMapping_FourSamples(t *testing.T) {
	pivot := Pivot{X: 100, Y: -150}
	samples := syntheticSamples(pivot, 90, 0.8, 1.2, 95, [][2]float64{
		{150, 50}, {50, 50}, {200, 0}, {0, 0},
	})

	res, err := FitPivotAndMapping(samples, 90, SearchBox{MinX: 60, MaxX: 140, MinY: -190, MaxY: -110})
	require.NoError(t, err)
	assert.Less(t, res.RMS, 1.0)
}

func TestFitPivotAndMapping_TooFewSamples(t *testing.T) {
	samples := syntheticSamples(Pivot{X: 100, Y: -150}, 90, 0.8, 1.2, 95, [][2]float64{
		{150, 50}, {50, 50}, {200, 0},
	})
	_, err := FitPivotAndMapping(samples, 90, SearchBox{MinX: 60, MaxX: 140, MinY: -190, MaxY: -110})
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestFitMappingGivenPivot_OneSidedSamples(t *testing.T) {
	// Every yaw below the split: the high slope is unconstrained, so the
	// fit must return the sentinel RMS rather than a spurious model.
	yaws := []float64{10, 20, 30, 40}
	servos := []float64{20, 30, 40, 50}
	fit := FitMappingGivenPivot(yaws, servos, 90, 5)
	assert.GreaterOrEqual(t, fit.RMS, sentinelRMS)
}

func TestFitMappingGivenPivot_ExactLine(t *testing.T) {
	// Noiseless samples on both sides of the split: the alternation
	// approaches the generating model.
	split, c := 90.0, 100.0
	yaws := []float64{70, 80, 100, 110}
	servos := make([]float64, len(yaws))
	for i, y := range yaws {
		m := 0.5
		if y >= split {
			m = 1.5
		}
		servos[i] = c + m*(y-split)
	}

	fit := FitMappingGivenPivot(yaws, servos, split, 40)
	assert.InDelta(t, 0.5, fit.ScaleLow, 0.05)
	assert.InDelta(t, 1.5, fit.ScaleHigh, 0.05)
	assert.InDelta(t, c, fit.CenterDeg, 0.2)
	assert.Less(t, fit.RMS, 0.1)
}

func TestApplyFit(t *testing.T) {
	p := NewProfile()
	p.ServoMap.OffsetLow = -2
	p.ServoMap.RadialK = 0.01

	ApplyFit(p, 90, FitResult{
		Pivot:      Pivot{X: 101, Y: -149},
		MappingFit: MappingFit{ScaleLow: 0.79, ScaleHigh: 1.21, CenterDeg: 94.6, RMS: 0.4},
	})

	assert.Equal(t, Pivot{X: 101, Y: -149}, p.Pivot)
	assert.Equal(t, 90.0, p.ServoMap.SplitDeg)
	assert.Equal(t, 0.79, p.ServoMap.ScaleLow)
	// Operator tweaks survive a refit.
	assert.Equal(t, -2.0, p.ServoMap.OffsetLow)
	assert.Equal(t, 0.01, p.ServoMap.RadialK)
}

func TestFitPivotAndMapping_RMSIsRootMeanSquare(t *testing.T) {
	// Perturb one servo angle by a known amount and confirm the residual
	// shows up in the RMS.
	pivot := Pivot{X: 100, Y: -150}
	samples := syntheticSamples(pivot, 90, 0.8, 1.2, 95, [][2]float64{
		{150, 50}, {50, 50}, {100, 100}, {200, 0}, {0, 0}, {250, 150},
	})
	samples[0].ServoAngle += 2

	res, err := FitPivotAndMapping(samples, 90, SearchBox{MinX: 60, MaxX: 140, MinY: -190, MaxY: -110})
	require.NoError(t, err)
	assert.Greater(t, res.RMS, 0.0)
	assert.Less(t, res.RMS, 2.0)
	assert.False(t, math.IsNaN(res.RMS))
}
