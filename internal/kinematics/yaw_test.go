package kinematics

import (
	"math"
	"testing"
)

func TestWorldYawDeg(t *testing.T) {
	tests := []struct {
		dx, dy float64
		want   float64
	}{
		{1, 0, 0},
		{0, 1, 90},
		{-1, 0, 180},
		{1, 1, 45},
		{-1, 1, 135},
		// dy's sign is collapsed: the half-plane reduction.
		{1, -1, 45},
		{0, -1, 90},
		{0, 0, 0},
	}
	for _, tt := range tests {
		got := WorldYawDeg(tt.dx, tt.dy)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("WorldYawDeg(%v, %v) = %v, want %v", tt.dx, tt.dy, got, tt.want)
		}
	}
}

func TestApplyCorrection_EmptyTable(t *testing.T) {
	for _, yaw := range []float64{-40, 0, 90, 180, 400} {
		if got := ApplyCorrection(nil, yaw); got != 0 {
			t.Errorf("empty table at yaw %v: got %v, want 0", yaw, got)
		}
	}
}

func TestApplyCorrection_SinglePoint(t *testing.T) {
	table := []CorrectionPoint{{YawDeg: 90, CorrectionDeg: -3}}
	for _, yaw := range []float64{0, 89.9, 90, 90.1, 180} {
		if got := ApplyCorrection(table, yaw); got != -3 {
			t.Errorf("single-point table at yaw %v: got %v, want -3", yaw, got)
		}
	}
}

func TestApplyCorrection_Interpolation(t *testing.T) {
	table := []CorrectionPoint{
		{YawDeg: 30, CorrectionDeg: 2},
		{YawDeg: 90, CorrectionDeg: 0},
		{YawDeg: 150, CorrectionDeg: -4},
	}
	tests := []struct {
		yaw  float64
		want float64
	}{
		{0, 2},    // flat below first point
		{30, 2},   // at first point
		{60, 1},   // halfway 30..90
		{90, 0},   // at middle point
		{120, -2}, // halfway 90..150
		{150, -4}, // at last point
		{179, -4}, // flat above last point
	}
	for _, tt := range tests {
		got := ApplyCorrection(table, tt.yaw)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ApplyCorrection(%v) = %v, want %v", tt.yaw, got, tt.want)
		}
	}
}

func TestApplyCorrection_UnsortedTable(t *testing.T) {
	table := []CorrectionPoint{
		{YawDeg: 150, CorrectionDeg: -4},
		{YawDeg: 30, CorrectionDeg: 2},
	}
	got := ApplyCorrection(table, 90)
	if math.Abs(got-(-1)) > 1e-9 {
		t.Errorf("ApplyCorrection on unsorted table = %v, want -1", got)
	}
}

func TestMapYawToServo(t *testing.T) {
	m := ServoMap{
		SplitDeg:  90,
		CenterDeg: 95,
		ScaleLow:  0.8,
		ScaleHigh: 1.2,
	}

	tests := []struct {
		yaw, radius float64
		want        int
	}{
		{90, 0, 95},   // at the split: center only
		{100, 0, 107}, // high side: 95 + 1.2*10
		{80, 0, 87},   // low side: 95 + 0.8*(-10)
	}
	for _, tt := range tests {
		if got := MapYawToServo(m, tt.yaw, tt.radius); got != tt.want {
			t.Errorf("MapYawToServo(yaw=%v) = %d, want %d", tt.yaw, got, tt.want)
		}
	}
}

func TestMapYawToServo_OffsetsCorrectionRadial(t *testing.T) {
	m := ServoMap{
		SplitDeg:   90,
		CenterDeg:  90,
		ScaleLow:   1,
		ScaleHigh:  1,
		OffsetLow:  -2,
		OffsetHigh: 3,
		Correction: []CorrectionPoint{{YawDeg: 0, CorrectionDeg: 1}, {YawDeg: 180, CorrectionDeg: 1}},
		RadialK:    0.01,
		RadialR0:   150,
	}

	// Low side: 90 + 1*(-10) + (-2) + 1 + 0.01*(250-150) = 80.
	if got := MapYawToServo(m, 80, 250); got != 80 {
		t.Errorf("low side = %d, want 80", got)
	}
	// High side: 90 + 1*10 + 3 + 1 + 0.01*(50-150) = 103.
	if got := MapYawToServo(m, 100, 50); got != 103 {
		t.Errorf("high side = %d, want 103", got)
	}
}

func TestMapYawToServo_Clamps(t *testing.T) {
	m := ServoMap{SplitDeg: 90, CenterDeg: 90, ScaleLow: 5, ScaleHigh: 5}
	if got := MapYawToServo(m, 180, 0); got != 180 {
		t.Errorf("overflow clamp = %d, want 180", got)
	}
	if got := MapYawToServo(m, 0, 0); got != 0 {
		t.Errorf("underflow clamp = %d, want 0", got)
	}
}
