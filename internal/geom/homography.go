// Package geom implements the camera-to-world projective transform used by
// the planner. All world coordinates are millimetres on the calibrated
// table plane; pixel coordinates follow the camera frame (origin top-left,
// Y down).
package geom

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateGeometry is returned when a homography cannot be solved or
// applied: collinear or duplicate correspondences, or a point whose
// homogeneous denominator vanishes.
var ErrDegenerateGeometry = errors.New("degenerate geometry")

// denominatorEpsilon is the smallest |h20*x + h21*y + h22| accepted when
// applying a homography. Below this the projected point is unusable.
const denominatorEpsilon = 1e-12

// identityTolerance is the per-cell tolerance for treating a homography as
// the identity matrix. An identity homography signals "uncalibrated".
const identityTolerance = 1e-9

// Homography is a 3x3 projective transform, row-major, defined up to scale.
// Solve fixes the scale by setting H[2][2] = 1.
type Homography [3][3]float64

// Point is a 2-D point in either pixel or world coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WorldPoint is a point on the table plane in millimetres. Y increases away
// from the camera-near edge.
type WorldPoint struct {
	X float64 `json:"x_mm"`
	Y float64 `json:"y_mm"`
}

// Identity returns the identity homography.
func Identity() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// IsCalibrated reports whether h differs from the identity matrix. A
// profile whose homography is still the identity has never been calibrated.
func IsCalibrated(h Homography) bool {
	id := Identity()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.Abs(h[r][c]-id[r][c]) > identityTolerance {
				return true
			}
		}
	}
	return false
}

// Apply maps a pixel through the homography. It returns
// ErrDegenerateGeometry when the homogeneous denominator vanishes.
func Apply(h Homography, px, py float64) (x, y float64, err error) {
	den := h[2][0]*px + h[2][1]*py + h[2][2]
	if math.Abs(den) < denominatorEpsilon {
		return 0, 0, ErrDegenerateGeometry
	}
	x = (h[0][0]*px + h[0][1]*py + h[0][2]) / den
	y = (h[1][0]*px + h[1][1]*py + h[1][2]) / den
	return x, y, nil
}

// FrameToWorld maps a camera pixel onto the world plane. The raw projected
// Y runs in image direction (down), so it is flipped against the plane
// height to make world Y increase away from the camera-near edge.
func FrameToWorld(h Homography, planeHeightMM, px, py float64) (WorldPoint, error) {
	x, yRaw, err := Apply(h, px, py)
	if err != nil {
		return WorldPoint{}, err
	}
	return WorldPoint{X: x, Y: planeHeightMM - yRaw}, nil
}

// Solve computes the homography mapping pixel[i] -> world[i] from exactly
// four correspondences using the direct linear transform: eight unknowns
// with the scale fixed by H[2][2] = 1. Collinear or duplicate points make
// the system singular and return ErrDegenerateGeometry.
func Solve(pixel, world [4]Point) (Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		px, py := pixel[i].X, pixel[i].Y
		wx, wy := world[i].X, world[i].Y
		r := 2 * i
		// wx = (h00 px + h01 py + h02) / (h20 px + h21 py + 1)
		a.SetRow(r, []float64{px, py, 1, 0, 0, 0, -px * wx, -py * wx})
		b.SetVec(r, wx)
		// wy = (h10 px + h11 py + h12) / (h20 px + h21 py + 1)
		a.SetRow(r+1, []float64{0, 0, 0, px, py, 1, -px * wy, -py * wy})
		b.SetVec(r+1, wy)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return Homography{}, ErrDegenerateGeometry
	}

	h := Homography{
		{sol.AtVec(0), sol.AtVec(1), sol.AtVec(2)},
		{sol.AtVec(3), sol.AtVec(4), sol.AtVec(5)},
		{sol.AtVec(6), sol.AtVec(7), 1},
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.IsNaN(h[r][c]) || math.IsInf(h[r][c], 0) {
				return Homography{}, ErrDegenerateGeometry
			}
		}
	}
	return h, nil
}

// SolveToPlane solves the homography that maps the four clicked image
// corners onto the corners of a widthMM x heightMM plane, in the click
// order near-left, near-right, far-right, far-left.
func SolveToPlane(pixel [4]Point, widthMM, heightMM float64) (Homography, error) {
	world := [4]Point{
		{0, 0},
		{widthMM, 0},
		{widthMM, heightMM},
		{0, heightMM},
	}
	return Solve(pixel, world)
}

// Invert returns the inverse homography. The calibration endpoint reports
// it alongside H so overlays can project world points back into the frame.
func Invert(h Homography) (Homography, error) {
	m := mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Homography{}, ErrDegenerateGeometry
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = inv.At(r, c)
		}
	}
	return out, nil
}
