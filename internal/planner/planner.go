// Package planner turns detections and a calibration profile into a
// complete operation plan: servo-ready poses for the pick and place sides
// of one pick/place/drop/pour operation. Planning is deterministic and
// touches no hardware; the sequencer executes the result.
package planner

import (
	"context"
	"math"

	"github.com/reach-arm/reachd/internal/calib"
	"github.com/reach-arm/reachd/internal/geom"
	"github.com/reach-arm/reachd/internal/kinematics"
	"github.com/reach-arm/reachd/internal/vision"
)

// Pose is a servo-ready arm configuration in integer degrees.
type Pose struct {
	BaseDeg     int `json:"base_deg"`
	ShoulderDeg int `json:"shoulder_deg"`
	ElbowDeg    int `json:"elbow_deg"`
	WristDeg    int `json:"wrist_deg"`
}

// Plan is the computed motion plan for one operation. It is computed once,
// consumed by the sequencer, then discarded. The plan is JSON-serializable
// so callers can inspect it without executing.
type Plan struct {
	PickHover       Pose  `json:"pick_hover"`
	PickDown        Pose  `json:"pick_down"`
	PlaceHover      Pose  `json:"place_hover"`
	PlaceDown       *Pose `json:"place_down,omitempty"`
	GripperOpenDeg  int   `json:"gripper_open_deg"`
	GripperCloseDeg int   `json:"gripper_close_deg"`
	Carrying        bool  `json:"carrying"`
}

// Planner resolves selectors through the detection source and composes the
// coordinate transform, the yaw mapping, and the calibrated fixed poses
// into Plans.
type Planner struct {
	Source vision.Source
}

// New returns a Planner using the given detection source.
func New(source vision.Source) *Planner {
	return &Planner{Source: source}
}

// classOf maps a selector onto the closed object-class set: colored
// objects use the object pose table, fiducial tags the tag table.
func classOf(s vision.Selector) calib.ObjectClass {
	if s.Kind == vision.KindTag {
		return calib.ClassTag
	}
	return calib.ClassObject
}

// PlanOperation resolves the pick and place selectors to world points and
// builds the full plan. It fails fast with the precise cause: a missing
// calibration field, an unmatched selector, degenerate geometry, or a
// point outside the margined workspace.
func (p *Planner) PlanOperation(ctx context.Context, profile *calib.Profile, pick, place vision.Selector, needPlaceDown bool) (*Plan, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	var q vision.Query
	q.Add(pick)
	q.Add(place)
	dets, err := p.Source.Detect(ctx, q)
	if err != nil {
		return nil, err
	}

	pickDet, ok := match(dets, pick)
	if !ok {
		return nil, &DetectionNotFoundError{Selector: pick}
	}
	placeDet, ok := match(dets, place)
	if !ok {
		return nil, &DetectionNotFoundError{Selector: place}
	}

	pickPt, err := resolveWorld(profile, pickDet)
	if err != nil {
		return nil, err
	}
	placePt, err := resolveWorld(profile, placeDet)
	if err != nil {
		return nil, err
	}

	if err := checkWorkspace(profile, pickPt); err != nil {
		return nil, err
	}
	if err := checkWorkspace(profile, placePt); err != nil {
		return nil, err
	}

	pickYaw, pickRadius := yawRadius(profile, pickPt)
	placeYaw, placeRadius := yawRadius(profile, placePt)

	// Placing a generic object onto another generic object keeps the pick
	// point's radius from the pivot, so the motion stays on a
	// previously-validated reach circle. Placing onto a tag trusts the
	// tag's true detected position.
	if place.Kind != vision.KindTag {
		placeRadius = pickRadius
	}

	pickBase := kinematics.MapYawToServo(profile.ServoMap, pickYaw, pickRadius)
	placeBase := kinematics.MapYawToServo(profile.ServoMap, placeYaw, placeRadius)

	hover, err := profile.HoverPose()
	if err != nil {
		return nil, err
	}
	env := profile.GetEnvelope()
	hs, hw := kinematics.ClampSafe(env, hover.ShoulderDeg, hover.WristDeg)
	hoverAt := func(base int) Pose {
		return Pose{
			BaseDeg:     base,
			ShoulderDeg: roundDeg(hs),
			ElbowDeg:    roundDeg(hover.ElbowDeg),
			WristDeg:    roundDeg(hw),
		}
	}

	pickDown, err := profile.PickDownFor(classOf(pick))
	if err != nil {
		return nil, err
	}
	gripOpen, gripClose, err := profile.GripperFor(classOf(pick))
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		PickHover:       hoverAt(pickBase),
		PickDown:        jointPoseAt(env, pickBase, pickDown),
		PlaceHover:      hoverAt(placeBase),
		GripperOpenDeg:  kinematics.ClampAngle(roundDeg(gripOpen), kinematics.AngleMin, kinematics.GripperAngleMax),
		GripperCloseDeg: kinematics.ClampAngle(roundDeg(gripClose), kinematics.AngleMin, kinematics.GripperAngleMax),
		Carrying:        true,
	}

	if needPlaceDown {
		placeDown, err := profile.PlaceDownFor(classOf(place))
		if err != nil {
			return nil, err
		}
		down := jointPoseAt(env, placeBase, placeDown)
		plan.PlaceDown = &down
	}

	return plan, nil
}

// match returns the largest detection satisfying the selector. Area breaks
// ties deterministically when the service reports several regions of the
// same color.
func match(dets []vision.Detection, s vision.Selector) (vision.Detection, bool) {
	var best vision.Detection
	bestArea := -1
	for _, d := range dets {
		if !s.Matches(d) {
			continue
		}
		area := d.BBox.W * d.BBox.H
		if area > bestArea {
			best, bestArea = d, area
		}
	}
	return best, bestArea >= 0
}

func resolveWorld(profile *calib.Profile, d vision.Detection) (geom.WorldPoint, error) {
	cx, cy := d.CenterPx()
	return geom.FrameToWorld(profile.Homography, profile.PlaneHeightMM, cx, cy)
}

func checkWorkspace(profile *calib.Profile, pt geom.WorldPoint) error {
	m := profile.GetWorkspaceMarginMM()
	w, h := profile.PlaneWidthMM, profile.PlaneHeightMM
	if pt.X < m || pt.X > w-m || pt.Y < m || pt.Y > h-m {
		return &OutOfWorkspaceError{Point: pt, MarginMM: m, WidthMM: w, HeightMM: h}
	}
	return nil
}

func yawRadius(profile *calib.Profile, pt geom.WorldPoint) (yawDeg, radiusMM float64) {
	dx := pt.X - profile.Pivot.X
	dy := pt.Y - profile.Pivot.Y
	return kinematics.WorldYawDeg(dx, dy), math.Hypot(dx, dy)
}

// jointPoseAt pins a calibrated down pose onto a base angle, forcing the
// (shoulder, wrist) pair through the safe envelope.
func jointPoseAt(env kinematics.Envelope, base int, jp calib.JointPose) Pose {
	s, w := kinematics.ClampSafe(env, jp.ShoulderDeg, jp.WristDeg)
	return Pose{
		BaseDeg:     base,
		ShoulderDeg: roundDeg(s),
		ElbowDeg:    roundDeg(jp.ElbowDeg),
		WristDeg:    roundDeg(w),
	}
}

func roundDeg(v float64) int {
	return kinematics.ClampAngle(int(math.Round(v)), kinematics.AngleMin, kinematics.AngleMax)
}
