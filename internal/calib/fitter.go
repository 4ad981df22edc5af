package calib

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/reach-arm/reachd/internal/kinematics"
)

// ErrTooFewSamples is returned when a fit is attempted with fewer samples
// than the model has degrees of freedom.
var ErrTooFewSamples = errors.New("too few calibration samples")

// sentinelRMS marks a pivot candidate that cannot be scored (one side of
// the split has no samples); the grid search steers away from it.
const sentinelRMS = 1e9

// Default grid steps for the two-pass pivot search, in millimetres.
const (
	coarseStepMM = 5.0
	fineStepMM   = 1.0
	// The fine pass is windowed to this many coarse steps around the
	// coarse best.
	fineWindowSteps = 2
)

// defaultFitIterations is how many alternating passes the grid search runs
// per pivot candidate. The alternation is coordinate descent on a
// non-centered design, so it converges linearly; 40 passes reach
// machine-precision residuals on clean samples while keeping the whole
// search comfortably sub-second.
const defaultFitIterations = 40

// Sample is one operator-supplied calibration observation: the arm's base
// servo was jogged until the gripper sat over a known world point.
type Sample struct {
	WorldX     float64 `json:"world_x_mm"`
	WorldY     float64 `json:"world_y_mm"`
	ServoAngle float64 `json:"servo_angle_deg"`
}

// SearchBox bounds the candidate pivot positions, in world millimetres.
type SearchBox struct {
	MinX float64 `json:"min_x_mm"`
	MaxX float64 `json:"max_x_mm"`
	MinY float64 `json:"min_y_mm"`
	MaxY float64 `json:"max_y_mm"`
}

// MappingFit is the split-linear mapping fitted for one pivot candidate.
type MappingFit struct {
	ScaleLow  float64 `json:"scale_low"`
	ScaleHigh float64 `json:"scale_high"`
	CenterDeg float64 `json:"center_deg"`
	RMS       float64 `json:"rms_deg"`
}

// FitResult is the winning pivot together with its fitted mapping.
type FitResult struct {
	Pivot Pivot `json:"pivot"`
	MappingFit
}

// FitPivotAndMapping solves the pivot location and split-linear mapping
// jointly: a coarse-to-fine grid search over candidate pivots, scoring each
// candidate with the linear fit of FitMappingGivenPivot and keeping the
// lowest RMS residual. Decoupling the nonlinear 2-D pivot search from the
// otherwise-linear mapping fit keeps the procedure robust with as few as
// four samples and avoids a nonlinear solver.
func FitPivotAndMapping(samples []Sample, splitDeg float64, box SearchBox) (FitResult, error) {
	if len(samples) < 4 {
		return FitResult{}, ErrTooFewSamples
	}
	if box.MaxX < box.MinX || box.MaxY < box.MinY {
		return FitResult{}, errors.New("invalid search box")
	}

	best := gridSearch(samples, splitDeg, box, coarseStepMM)
	if best.RMS >= sentinelRMS {
		return FitResult{}, errors.New("no pivot candidate splits the samples; widen the search box or add samples")
	}

	// Fine pass, windowed to ±fineWindowSteps coarse steps around the
	// coarse best and clipped to the original box.
	w := fineWindowSteps * coarseStepMM
	fineBox := SearchBox{
		MinX: math.Max(box.MinX, best.Pivot.X-w),
		MaxX: math.Min(box.MaxX, best.Pivot.X+w),
		MinY: math.Max(box.MinY, best.Pivot.Y-w),
		MaxY: math.Min(box.MaxY, best.Pivot.Y+w),
	}
	fine := gridSearch(samples, splitDeg, fineBox, fineStepMM)
	if fine.RMS < best.RMS {
		best = fine
	}
	return best, nil
}

func gridSearch(samples []Sample, splitDeg float64, box SearchBox, step float64) FitResult {
	yaws := make([]float64, len(samples))
	servos := make([]float64, len(samples))
	for i, s := range samples {
		servos[i] = s.ServoAngle
	}

	best := FitResult{MappingFit: MappingFit{RMS: math.Inf(1)}}
	for px := box.MinX; px <= box.MaxX+step/2; px += step {
		for py := box.MinY; py <= box.MaxY+step/2; py += step {
			for i, s := range samples {
				yaws[i] = kinematics.WorldYawDeg(s.WorldX-px, s.WorldY-py)
			}
			fit := FitMappingGivenPivot(yaws, servos, splitDeg, defaultFitIterations)
			if fit.RMS < best.RMS {
				best = FitResult{Pivot: Pivot{X: px, Y: py}, MappingFit: fit}
			}
		}
	}
	return best
}

// FitMappingGivenPivot fits the two slopes and shared intercept of the
// split-linear model servo = C + m_side*(yaw - split) by alternating least
// squares for a fixed iteration count: both slopes are solved through the
// current intercept, then the intercept is re-estimated as the mean
// residual-correcting offset across all samples. A side with zero samples
// returns a sentinel-high RMS so the pivot search avoids that region.
func FitMappingGivenPivot(yaws, servos []float64, splitDeg float64, iterations int) MappingFit {
	n := len(yaws)
	var nLow, nHigh int
	for _, y := range yaws {
		if y < splitDeg {
			nLow++
		} else {
			nHigh++
		}
	}
	if nLow == 0 || nHigh == 0 {
		return MappingFit{RMS: sentinelRMS}
	}

	// Design matrix: column 0 carries (yaw-split) for low-side rows,
	// column 1 for high-side rows. The intercept is held fixed per
	// iteration, so each slope solve is an ordinary least squares through
	// the shared C.
	a := mat.NewDense(n, 2, nil)
	for i, y := range yaws {
		d := y - splitDeg
		if y < splitDeg {
			a.Set(i, 0, d)
		} else {
			a.Set(i, 1, d)
		}
	}

	var c float64
	for _, s := range servos {
		c += s
	}
	c /= float64(n)

	var mLow, mHigh float64
	b := mat.NewVecDense(n, nil)
	for iter := 0; iter < iterations; iter++ {
		for i, s := range servos {
			b.SetVec(i, s-c)
		}
		var sol mat.VecDense
		if err := sol.SolveVec(a, b); err != nil {
			return MappingFit{RMS: sentinelRMS}
		}
		mLow, mHigh = sol.AtVec(0), sol.AtVec(1)

		// Re-estimate the shared intercept as the mean offset left after
		// removing each sample's slope term.
		var sum float64
		for i, y := range yaws {
			m := mLow
			if y >= splitDeg {
				m = mHigh
			}
			sum += servos[i] - m*(y-splitDeg)
		}
		c = sum / float64(n)
	}

	var sq float64
	for i, y := range yaws {
		m := mLow
		if y >= splitDeg {
			m = mHigh
		}
		r := servos[i] - (c + m*(y-splitDeg))
		sq += r * r
	}
	return MappingFit{
		ScaleLow:  mLow,
		ScaleHigh: mHigh,
		CenterDeg: c,
		RMS:       math.Sqrt(sq / float64(n)),
	}
}

// SampleResidual pairs a sample's yaw about the fitted pivot with its fit
// residual in servo degrees.
type SampleResidual struct {
	YawDeg       float64 `json:"yaw_deg"`
	ServoDeg     float64 `json:"servo_deg"`
	PredictedDeg float64 `json:"predicted_deg"`
	ResidualDeg  float64 `json:"residual_deg"`
}

// Residuals evaluates a fit against a sample set for reporting.
func Residuals(samples []Sample, splitDeg float64, r FitResult) []SampleResidual {
	out := make([]SampleResidual, len(samples))
	for i, s := range samples {
		yaw := kinematics.WorldYawDeg(s.WorldX-r.Pivot.X, s.WorldY-r.Pivot.Y)
		m := r.ScaleLow
		if yaw >= splitDeg {
			m = r.ScaleHigh
		}
		pred := r.CenterDeg + m*(yaw-splitDeg)
		out[i] = SampleResidual{
			YawDeg:       yaw,
			ServoDeg:     s.ServoAngle,
			PredictedDeg: pred,
			ResidualDeg:  s.ServoAngle - pred,
		}
	}
	return out
}

// ApplyFit folds a fit result into the profile's pivot and servo map,
// preserving the operator's offsets, correction table, and radial term.
func ApplyFit(p *Profile, splitDeg float64, r FitResult) {
	p.Pivot = r.Pivot
	p.ServoMap.SplitDeg = splitDeg
	p.ServoMap.CenterDeg = r.CenterDeg
	p.ServoMap.ScaleLow = r.ScaleLow
	p.ServoMap.ScaleHigh = r.ScaleHigh
}
