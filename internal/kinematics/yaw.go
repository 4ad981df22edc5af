// Package kinematics maps world-plane geometry onto servo angles for an arm
// with no closed-form kinematic model. The base mapping is empirical: a
// split-linear model fitted offline, trimmed by a correction table and a
// radial term.
package kinematics

import (
	"math"
	"sort"
)

// Servo channel indices on the arm controller.
const (
	ServoBase     = 1
	ServoShoulder = 2
	ServoElbow    = 3
	ServoWrist    = 4
	ServoTwist    = 5
	ServoGripper  = 6
)

// Angle limits per channel. The gripper travels a shorter range than the
// rotational joints.
const (
	AngleMin        = 0
	AngleMax        = 180
	GripperAngleMax = 80
)

// CorrectionPoint is one entry of the yaw correction table: an additive
// tweak in degrees applied near a given world yaw.
type CorrectionPoint struct {
	YawDeg        float64 `json:"yaw_deg"`
	CorrectionDeg float64 `json:"correction_deg"`
}

// ServoMap holds the fitted parameters converting a world yaw angle and
// radius into a base-servo angle.
type ServoMap struct {
	SplitDeg   float64           `json:"split_deg"`
	CenterDeg  float64           `json:"center_deg"`
	ScaleLow   float64           `json:"scale_low"`
	ScaleHigh  float64           `json:"scale_high"`
	OffsetLow  float64           `json:"offset_low"`
	OffsetHigh float64           `json:"offset_high"`
	Correction []CorrectionPoint `json:"correction,omitempty"`
	RadialK    float64           `json:"radial_k"`
	RadialR0   float64           `json:"radial_r0"`
}

// WorldYawDeg returns the yaw of the vector (dx, dy) in degrees from the +X
// axis, in [0, 180]. The sign of dy is deliberately collapsed: the
// workspace is forward-facing, so targets above and below the pivot axis
// fold onto one half-plane. Do not switch this to a signed angle without
// re-validating the workspace geometry.
func WorldYawDeg(dx, dy float64) float64 {
	r := math.Hypot(dx, dy)
	if r == 0 {
		return 0
	}
	c := dx / r
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c) * 180 / math.Pi
}

// MapYawToServo converts a world yaw and radius into a base-servo angle via
// the fitted split-linear model plus correction table plus radial term. The
// result is rounded to the nearest integer and clamped to [0, 180].
func MapYawToServo(m ServoMap, yawDeg, radiusMM float64) int {
	slope := m.ScaleLow
	offset := m.OffsetLow
	if yawDeg >= m.SplitDeg {
		slope = m.ScaleHigh
		offset = m.OffsetHigh
	}
	v := m.CenterDeg + slope*(yawDeg-m.SplitDeg) + offset
	v += ApplyCorrection(m.Correction, yawDeg)
	v += m.RadialK * (radiusMM - m.RadialR0)
	return ClampAngle(int(math.Round(v)), AngleMin, AngleMax)
}

// ApplyCorrection evaluates the correction table at the given yaw. The
// table is kept sorted ascending by yaw. Outside the table's range the
// nearest endpoint's value is held flat; inside, the bracketing entries are
// linearly interpolated. An empty table contributes nothing.
func ApplyCorrection(table []CorrectionPoint, yawDeg float64) float64 {
	if len(table) == 0 {
		return 0
	}
	if !sort.SliceIsSorted(table, func(i, j int) bool { return table[i].YawDeg < table[j].YawDeg }) {
		sorted := make([]CorrectionPoint, len(table))
		copy(sorted, table)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].YawDeg < sorted[j].YawDeg })
		table = sorted
	}
	if yawDeg <= table[0].YawDeg {
		return table[0].CorrectionDeg
	}
	last := len(table) - 1
	if yawDeg >= table[last].YawDeg {
		return table[last].CorrectionDeg
	}
	i := sort.Search(len(table), func(i int) bool { return table[i].YawDeg >= yawDeg })
	a, b := table[i-1], table[i]
	t := (yawDeg - a.YawDeg) / (b.YawDeg - a.YawDeg)
	return a.CorrectionDeg + t*(b.CorrectionDeg-a.CorrectionDeg)
}

// ClampAngle clamps an integer servo angle into [lo, hi].
func ClampAngle(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
