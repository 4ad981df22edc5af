package planner

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach-arm/reachd/internal/calib"
	"github.com/reach-arm/reachd/internal/geom"
	"github.com/reach-arm/reachd/internal/kinematics"
	"github.com/reach-arm/reachd/internal/vision"
)

type fakeSource struct {
	dets []vision.Detection
	err  error
	got  vision.Query
}

func (f *fakeSource) Detect(_ context.Context, q vision.Query) ([]vision.Detection, error) {
	f.got = q
	return f.dets, f.err
}

func floatPtr(v float64) *float64 { return &v }

// testProfile returns a calibrated 500x270mm profile whose homography maps
// pixel (px, py) to world (px, py): the projective part is a vertical
// mirror that the frame-to-world flip undoes.
func testProfile() *calib.Profile {
	p := calib.NewProfile()
	p.Homography = geom.Homography{{1, 0, 0}, {0, -1, 270}, {0, 0, 1}}
	p.PlaneWidthMM = 500
	p.PlaneHeightMM = 270
	p.Pivot = calib.Pivot{X: 250, Y: -60}
	p.ServoMap = kinematics.ServoMap{SplitDeg: 90, CenterDeg: 95, ScaleLow: 0.8, ScaleHigh: 1.2}
	p.Hover = &calib.SafeHover{ShoulderDeg: 100, ElbowDeg: 90, WristDeg: 95}
	p.Poses.Object = &calib.ClassPoses{
		PickDown:        &calib.JointPose{ShoulderDeg: 40, ElbowDeg: 60, WristDeg: 140},
		PlaceDown:       &calib.JointPose{ShoulderDeg: 45, ElbowDeg: 65, WristDeg: 138},
		GripperOpenDeg:  floatPtr(60),
		GripperCloseDeg: floatPtr(12),
	}
	p.Poses.Tag = &calib.ClassPoses{
		PlaceDown: &calib.JointPose{ShoulderDeg: 55, ElbowDeg: 70, WristDeg: 125},
	}
	return p
}

// detectionAt centers a bounding box on a pixel that the test profile maps
// to the given world coordinates.
func detectionAt(kind vision.Kind, label string, wx, wy float64) vision.Detection {
	return vision.Detection{
		Kind:  kind,
		Label: label,
		BBox:  vision.BBox{X: int(wx) - 10, Y: int(wy) - 10, W: 20, H: 20},
	}
}

func TestPlanOperation_HappyPath(t *testing.T) {
	profile := testProfile()
	src := &fakeSource{dets: []vision.Detection{
		detectionAt(vision.KindColor, "red", 250, 50),
		detectionAt(vision.KindTag, "B", 100, 200),
	}}

	plan, err := New(src).PlanOperation(context.Background(), profile,
		vision.Selector{Kind: vision.KindColor, Name: "red"},
		vision.Selector{Kind: vision.KindTag, Name: "B"},
		true)
	require.NoError(t, err)

	// The query covers both selectors.
	assert.Equal(t, []string{"red"}, src.got.Colors)
	assert.Equal(t, []string{"B"}, src.got.TagLabels)

	// Base angles follow WorldYawDeg + MapYawToServo from the pivot; a tag
	// destination uses its true detected radius.
	pickYaw := kinematics.WorldYawDeg(250-250, 50-(-60))
	wantPickBase := kinematics.MapYawToServo(profile.ServoMap, pickYaw, 110)
	placeYaw := kinematics.WorldYawDeg(100-250, 200-(-60))
	placeRadius := math.Hypot(100-250, 200-(-60))
	wantPlaceBase := kinematics.MapYawToServo(profile.ServoMap, placeYaw, placeRadius)

	want := &Plan{
		PickHover:       Pose{BaseDeg: wantPickBase, ShoulderDeg: 100, ElbowDeg: 90, WristDeg: 95},
		PickDown:        Pose{BaseDeg: wantPickBase, ShoulderDeg: 40, ElbowDeg: 60, WristDeg: 140},
		PlaceHover:      Pose{BaseDeg: wantPlaceBase, ShoulderDeg: 100, ElbowDeg: 90, WristDeg: 95},
		PlaceDown:       &Pose{BaseDeg: wantPlaceBase, ShoulderDeg: 55, ElbowDeg: 70, WristDeg: 125},
		GripperOpenDeg:  60,
		GripperCloseDeg: 12,
		Carrying:        true,
	}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanOperation_OutOfWorkspace(t *testing.T) {
	profile := testProfile()
	src := &fakeSource{dets: []vision.Detection{
		detectionAt(vision.KindColor, "red", 10, 10),
		detectionAt(vision.KindTag, "B", 100, 200),
	}}

	_, err := New(src).PlanOperation(context.Background(), profile,
		vision.Selector{Kind: vision.KindColor, Name: "red"},
		vision.Selector{Kind: vision.KindTag, Name: "B"},
		false)

	var oow *OutOfWorkspaceError
	require.ErrorAs(t, err, &oow)
	assert.InDelta(t, 10, oow.Point.X, 1e-9)
	assert.InDelta(t, 10, oow.Point.Y, 1e-9)
	assert.Equal(t, 15.0, oow.MarginMM)
}

func TestPlanOperation_DetectionNotFound(t *testing.T) {
	profile := testProfile()
	src := &fakeSource{dets: []vision.Detection{
		detectionAt(vision.KindColor, "red", 250, 50),
	}}

	_, err := New(src).PlanOperation(context.Background(), profile,
		vision.Selector{Kind: vision.KindColor, Name: "red"},
		vision.Selector{Kind: vision.KindTag, Name: "B"},
		false)

	var nf *DetectionNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, vision.Selector{Kind: vision.KindTag, Name: "B"}, nf.Selector)
}

func TestPlanOperation_UncalibratedProfile(t *testing.T) {
	src := &fakeSource{}
	_, err := New(src).PlanOperation(context.Background(), calib.NewProfile(),
		vision.Selector{Kind: vision.KindColor, Name: "red"},
		vision.Selector{Kind: vision.KindTag, Name: "B"},
		false)

	var missing *calib.ErrCalibrationMissing
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "homography", missing.Field)
	// Fail fast: no detection query is issued for an uncalibrated profile.
	assert.Empty(t, src.got.Colors)
}

func TestPlanOperation_MissingFixedPose(t *testing.T) {
	profile := testProfile()
	profile.Poses.Tag.PlaceDown = nil
	src := &fakeSource{dets: []vision.Detection{
		detectionAt(vision.KindColor, "red", 250, 50),
		detectionAt(vision.KindTag, "B", 100, 200),
	}}

	_, err := New(src).PlanOperation(context.Background(), profile,
		vision.Selector{Kind: vision.KindColor, Name: "red"},
		vision.Selector{Kind: vision.KindTag, Name: "B"},
		true)

	var missing *calib.ErrCalibrationMissing
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "poses.tag.place_down", missing.Field)
}

func TestPlanOperation_GenericPlacePreservesPickRadius(t *testing.T) {
	profile := testProfile()
	// Make the radial term bite so the radius policy is observable.
	profile.ServoMap.RadialK = 0.1
	src := &fakeSource{dets: []vision.Detection{
		detectionAt(vision.KindColor, "red", 250, 50),
		detectionAt(vision.KindColor, "blue", 100, 200),
	}}

	plan, err := New(src).PlanOperation(context.Background(), profile,
		vision.Selector{Kind: vision.KindColor, Name: "red"},
		vision.Selector{Kind: vision.KindColor, Name: "blue"},
		true)
	require.NoError(t, err)

	pickRadius := math.Hypot(250-250, 50-(-60))
	placeYaw := kinematics.WorldYawDeg(100-250, 200-(-60))
	// The place base is computed at the pick radius, not the detected one.
	want := kinematics.MapYawToServo(profile.ServoMap, placeYaw, pickRadius)
	assert.Equal(t, want, plan.PlaceHover.BaseDeg)

	detectedRadius := math.Hypot(100-250, 200-(-60))
	notWant := kinematics.MapYawToServo(profile.ServoMap, placeYaw, detectedRadius)
	assert.NotEqual(t, notWant, plan.PlaceHover.BaseDeg)
}

func TestPlanOperation_LargestDetectionWins(t *testing.T) {
	profile := testProfile()
	src := &fakeSource{dets: []vision.Detection{
		{Kind: vision.KindColor, Label: "red", BBox: vision.BBox{X: 40, Y: 40, W: 8, H: 8}},
		detectionAt(vision.KindColor, "red", 250, 50), // 20x20, larger
		detectionAt(vision.KindTag, "B", 100, 200),
	}}

	plan, err := New(src).PlanOperation(context.Background(), profile,
		vision.Selector{Kind: vision.KindColor, Name: "red"},
		vision.Selector{Kind: vision.KindTag, Name: "B"},
		false)
	require.NoError(t, err)

	pickYaw := kinematics.WorldYawDeg(0, 50-(-60))
	wantBase := kinematics.MapYawToServo(profile.ServoMap, pickYaw, 110)
	assert.Equal(t, wantBase, plan.PickHover.BaseDeg)
	assert.Nil(t, plan.PlaceDown)
}

func TestPlanOperation_SourceErrorPropagates(t *testing.T) {
	profile := testProfile()
	src := &fakeSource{err: errors.New("camera offline")}

	_, err := New(src).PlanOperation(context.Background(), profile,
		vision.Selector{Kind: vision.KindColor, Name: "red"},
		vision.Selector{Kind: vision.KindTag, Name: "B"},
		false)
	assert.ErrorContains(t, err, "camera offline")
}
