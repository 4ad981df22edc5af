// Package calib holds the calibration profile document, its storage port,
// and the offline fitting procedure that produces the profile's kinematic
// mapping parameters.
package calib

import (
	"fmt"

	"github.com/reach-arm/reachd/internal/geom"
	"github.com/reach-arm/reachd/internal/kinematics"
)

// ErrCalibrationMissing reports an absent or unusable calibration field.
// Field names the exact missing entry so the operator knows what to
// calibrate.
type ErrCalibrationMissing struct {
	Field string
}

func (e *ErrCalibrationMissing) Error() string {
	return fmt.Sprintf("calibration missing: %s", e.Field)
}

// ObjectClass is the closed set of object classes with fixed pose tables.
// Selector kinds map onto it: colored objects are ClassObject, fiducial
// tags are ClassTag.
type ObjectClass int

const (
	ClassObject ObjectClass = iota
	ClassTag
)

func (c ObjectClass) String() string {
	switch c {
	case ClassObject:
		return "object"
	case ClassTag:
		return "tag"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// JointPose is a fixed (shoulder, elbow, wrist) configuration in degrees.
type JointPose struct {
	ShoulderDeg float64 `json:"shoulder_deg"`
	ElbowDeg    float64 `json:"elbow_deg"`
	WristDeg    float64 `json:"wrist_deg"`
}

// ClassPoses holds the calibrated down poses and gripper travel for one
// object class. Pointer fields distinguish "never calibrated" from zero.
type ClassPoses struct {
	PickDown        *JointPose `json:"pick_down,omitempty"`
	PlaceDown       *JointPose `json:"place_down,omitempty"`
	PourDown        *JointPose `json:"pour_down,omitempty"`
	GripperOpenDeg  *float64   `json:"gripper_open_deg,omitempty"`
	GripperCloseDeg *float64   `json:"gripper_close_deg,omitempty"`
}

// FixedPoses is the per-class pose table. One field per ObjectClass; the
// accessor switch below is exhaustive over the enum, so adding a class
// without a table fails at compile time rather than at runtime.
type FixedPoses struct {
	Object *ClassPoses `json:"object,omitempty"`
	Tag    *ClassPoses `json:"tag,omitempty"`
}

// Pivot is the world-plane projection of the arm's base-rotation axis.
// The zero value is the uncalibrated placeholder.
type Pivot struct {
	X float64 `json:"x_mm"`
	Y float64 `json:"y_mm"`
}

// SafeHover is the fixed safe (shoulder, wrist) pair held while the base
// rotates.
type SafeHover struct {
	ShoulderDeg float64 `json:"shoulder_deg"`
	WristDeg    float64 `json:"wrist_deg"`
	ElbowDeg    float64 `json:"elbow_deg"`
}

// ParkPose is where the arm comes to rest after an operation.
type ParkPose struct {
	BaseDeg     int     `json:"base_deg"`
	ShoulderDeg float64 `json:"shoulder_deg"`
	ElbowDeg    float64 `json:"elbow_deg"`
	WristDeg    float64 `json:"wrist_deg"`
}

// Profile is the calibration document. It is owned externally (persisted
// as JSON), loaded once per planning session, read-only to the planner, and
// overwritten wholesale by the calibration procedure.
type Profile struct {
	Homography    geom.Homography      `json:"homography"`
	PlaneWidthMM  float64              `json:"plane_width_mm"`
	PlaneHeightMM float64              `json:"plane_height_mm"`
	Pivot         Pivot                `json:"pivot"`
	ServoMap      kinematics.ServoMap  `json:"servo_map"`
	Envelope      *kinematics.Envelope `json:"envelope,omitempty"`
	Poses         FixedPoses           `json:"poses"`
	Hover         *SafeHover           `json:"hover,omitempty"`
	Park          *ParkPose            `json:"park,omitempty"`

	// Pour timing.
	PourTwistDeg *float64 `json:"pour_twist_deg,omitempty"`
	PourDwellMS  *int     `json:"pour_dwell_ms,omitempty"`
	PourSettleMS *int     `json:"pour_settle_ms,omitempty"`

	// Planner tuning.
	StepDwellMS       *int     `json:"step_dwell_ms,omitempty"`
	WorkspaceMarginMM *float64 `json:"workspace_margin_mm,omitempty"`
}

// NewProfile returns an uncalibrated profile: identity homography and
// placeholder pivot. Validate rejects it until calibration has run.
func NewProfile() *Profile {
	return &Profile{Homography: geom.Identity()}
}

// IsCalibrated reports whether the projective transform has been solved.
func (p *Profile) IsCalibrated() bool {
	return geom.IsCalibrated(p.Homography)
}

// Validate checks the invariants a profile must satisfy before planning.
func (p *Profile) Validate() error {
	if !p.IsCalibrated() {
		return &ErrCalibrationMissing{Field: "homography"}
	}
	if p.PlaneWidthMM <= 0 || p.PlaneHeightMM <= 0 {
		return &ErrCalibrationMissing{Field: "plane_size"}
	}
	if p.Pivot == (Pivot{}) {
		return &ErrCalibrationMissing{Field: "pivot"}
	}
	return nil
}

// ClassPosesFor returns the pose table for an object class. The switch is
// exhaustive over the closed ObjectClass set.
func (p *Profile) ClassPosesFor(class ObjectClass) (*ClassPoses, error) {
	var cp *ClassPoses
	switch class {
	case ClassObject:
		cp = p.Poses.Object
	case ClassTag:
		cp = p.Poses.Tag
	default:
		return nil, &ErrCalibrationMissing{Field: fmt.Sprintf("poses.%s", class)}
	}
	if cp == nil {
		return nil, &ErrCalibrationMissing{Field: fmt.Sprintf("poses.%s", class)}
	}
	return cp, nil
}

// PickDownFor returns the calibrated pick-down pose for a class.
func (p *Profile) PickDownFor(class ObjectClass) (JointPose, error) {
	cp, err := p.ClassPosesFor(class)
	if err != nil {
		return JointPose{}, err
	}
	if cp.PickDown == nil {
		return JointPose{}, &ErrCalibrationMissing{Field: fmt.Sprintf("poses.%s.pick_down", class)}
	}
	return *cp.PickDown, nil
}

// PlaceDownFor returns the calibrated place-down pose for a class.
func (p *Profile) PlaceDownFor(class ObjectClass) (JointPose, error) {
	cp, err := p.ClassPosesFor(class)
	if err != nil {
		return JointPose{}, err
	}
	if cp.PlaceDown == nil {
		return JointPose{}, &ErrCalibrationMissing{Field: fmt.Sprintf("poses.%s.place_down", class)}
	}
	return *cp.PlaceDown, nil
}

// GripperFor returns the calibrated gripper open/close degrees for a class.
func (p *Profile) GripperFor(class ObjectClass) (open, closed float64, err error) {
	cp, err := p.ClassPosesFor(class)
	if err != nil {
		return 0, 0, err
	}
	if cp.GripperOpenDeg == nil {
		return 0, 0, &ErrCalibrationMissing{Field: fmt.Sprintf("poses.%s.gripper_open_deg", class)}
	}
	if cp.GripperCloseDeg == nil {
		return 0, 0, &ErrCalibrationMissing{Field: fmt.Sprintf("poses.%s.gripper_close_deg", class)}
	}
	return *cp.GripperOpenDeg, *cp.GripperCloseDeg, nil
}

// HoverPose returns the safe hover configuration, or an error naming the
// field if it was never calibrated.
func (p *Profile) HoverPose() (SafeHover, error) {
	if p.Hover == nil {
		return SafeHover{}, &ErrCalibrationMissing{Field: "hover"}
	}
	return *p.Hover, nil
}

// GetEnvelope returns the configured safe envelope or the measured default.
func (p *Profile) GetEnvelope() kinematics.Envelope {
	if p.Envelope == nil {
		return kinematics.DefaultEnvelope()
	}
	return *p.Envelope
}

// GetPourTwistDeg returns the twist-servo pour angle or its default. The
// twist servo carries at 90; pouring tips the wrist most of the way over.
func (p *Profile) GetPourTwistDeg() float64 {
	if p.PourTwistDeg == nil {
		return 170
	}
	return *p.PourTwistDeg
}

// GetPourDwellMS returns the pour dwell or its default.
func (p *Profile) GetPourDwellMS() int {
	if p.PourDwellMS == nil {
		return 1200
	}
	return *p.PourDwellMS
}

// GetPourSettleMS returns the post-pour settle or its default.
func (p *Profile) GetPourSettleMS() int {
	if p.PourSettleMS == nil {
		return 400
	}
	return *p.PourSettleMS
}

// GetStepDwellMS returns the inter-step dwell or its default.
func (p *Profile) GetStepDwellMS() int {
	if p.StepDwellMS == nil {
		return 80
	}
	return *p.StepDwellMS
}

// GetWorkspaceMarginMM returns the workspace safety margin or its default.
func (p *Profile) GetWorkspaceMarginMM() float64 {
	if p.WorkspaceMarginMM == nil {
		return 15
	}
	return *p.WorkspaceMarginMM
}
