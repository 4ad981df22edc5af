package geom

import (
	"errors"
	"math"
	"testing"
)

func TestIsCalibrated_Identity(t *testing.T) {
	if IsCalibrated(Identity()) {
		t.Error("identity matrix must read as uncalibrated")
	}

	// Within tolerance of identity is still uncalibrated.
	h := Identity()
	h[0][1] = 1e-10
	if IsCalibrated(h) {
		t.Error("matrix within 1e-9 of identity must read as uncalibrated")
	}
}

func TestIsCalibrated_NonIdentity(t *testing.T) {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h := Identity()
			h[r][c] += 1e-6
			if !IsCalibrated(h) {
				t.Errorf("cell (%d,%d) differing by 1e-6 should read as calibrated", r, c)
			}
		}
	}
}

func TestSolve_RoundTrip(t *testing.T) {
	// A convex, non-degenerate quadrilateral of image points mapped onto a
	// 500x270 plane. Solve then Apply must reproduce every correspondence.
	pixel := [4]Point{{102, 398}, {538, 412}, {501, 88}, {131, 75}}
	world := [4]Point{{0, 0}, {500, 0}, {500, 270}, {0, 270}}

	h, err := Solve(pixel, world)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	for i := range pixel {
		x, y, err := Apply(h, pixel[i].X, pixel[i].Y)
		if err != nil {
			t.Fatalf("Apply point %d: %v", i, err)
		}
		if math.Abs(x-world[i].X) > 1e-6 || math.Abs(y-world[i].Y) > 1e-6 {
			t.Errorf("point %d: got (%.9f, %.9f), want (%.1f, %.1f)",
				i, x, y, world[i].X, world[i].Y)
		}
	}
}

func TestSolve_CollinearPoints(t *testing.T) {
	pixel := [4]Point{{0, 0}, {10, 10}, {20, 20}, {30, 30}}
	world := [4]Point{{0, 0}, {500, 0}, {500, 270}, {0, 270}}

	if _, err := Solve(pixel, world); !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("collinear pixels: got %v, want ErrDegenerateGeometry", err)
	}
}

func TestSolve_DuplicatePoints(t *testing.T) {
	pixel := [4]Point{{10, 10}, {10, 10}, {500, 88}, {131, 75}}
	world := [4]Point{{0, 0}, {500, 0}, {500, 270}, {0, 270}}

	if _, err := Solve(pixel, world); !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("duplicate pixels: got %v, want ErrDegenerateGeometry", err)
	}
}

func TestApply_DegenerateDenominator(t *testing.T) {
	h := Identity()
	h[2][2] = 0
	// Denominator is exactly zero at the origin.
	if _, _, err := Apply(h, 0, 0); !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("zero denominator: got %v, want ErrDegenerateGeometry", err)
	}
}

func TestFrameToWorld_FlipsVerticalAxis(t *testing.T) {
	// Identity homography: the flip is the only effect.
	p, err := FrameToWorld(Identity(), 270, 40, 50)
	if err != nil {
		t.Fatalf("FrameToWorld: %v", err)
	}
	if p.X != 40 || p.Y != 220 {
		t.Errorf("got (%v, %v), want (40, 220)", p.X, p.Y)
	}
}

func TestInvert_RoundTrip(t *testing.T) {
	pixel := [4]Point{{102, 398}, {538, 412}, {501, 88}, {131, 75}}
	h, err := SolveToPlane(pixel, 500, 270)
	if err != nil {
		t.Fatalf("SolveToPlane: %v", err)
	}
	hi, err := Invert(h)
	if err != nil {
		t.Fatalf("Invert: %v", err)
	}

	// World corner back through the inverse lands on the clicked pixel.
	x, y, err := Apply(hi, 500, 0)
	if err != nil {
		t.Fatalf("Apply inverse: %v", err)
	}
	if math.Abs(x-538) > 1e-6 || math.Abs(y-412) > 1e-6 {
		t.Errorf("inverse maps (500,0) to (%.6f, %.6f), want (538, 412)", x, y)
	}
}
