package calib

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach-arm/reachd/internal/geom"
)

func floatPtr(v float64) *float64 { return &v }

func calibratedProfile() *Profile {
	p := NewProfile()
	p.Homography = geom.Homography{{0.8, 0.01, -50}, {0.02, -0.75, 320}, {0.0001, 0.00005, 1}}
	p.PlaneWidthMM = 500
	p.PlaneHeightMM = 270
	p.Pivot = Pivot{X: 250, Y: -60}
	return p
}

func TestProfile_Validate(t *testing.T) {
	t.Run("fresh profile is uncalibrated", func(t *testing.T) {
		err := NewProfile().Validate()
		var missing *ErrCalibrationMissing
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "homography", missing.Field)
	})

	t.Run("placeholder pivot rejected", func(t *testing.T) {
		p := calibratedProfile()
		p.Pivot = Pivot{}
		err := p.Validate()
		var missing *ErrCalibrationMissing
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "pivot", missing.Field)
	})

	t.Run("missing plane size rejected", func(t *testing.T) {
		p := calibratedProfile()
		p.PlaneWidthMM = 0
		err := p.Validate()
		var missing *ErrCalibrationMissing
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "plane_size", missing.Field)
	})

	t.Run("calibrated profile passes", func(t *testing.T) {
		assert.NoError(t, calibratedProfile().Validate())
	})
}

func TestProfile_PoseLookups(t *testing.T) {
	p := calibratedProfile()
	p.Poses.Object = &ClassPoses{
		PickDown:        &JointPose{ShoulderDeg: 40, ElbowDeg: 60, WristDeg: 140},
		GripperOpenDeg:  floatPtr(60),
		GripperCloseDeg: floatPtr(12),
	}

	pose, err := p.PickDownFor(ClassObject)
	require.NoError(t, err)
	assert.Equal(t, 40.0, pose.ShoulderDeg)

	open, closed, err := p.GripperFor(ClassObject)
	require.NoError(t, err)
	assert.Equal(t, 60.0, open)
	assert.Equal(t, 12.0, closed)

	// Missing entries name the exact field.
	_, err = p.PlaceDownFor(ClassObject)
	var missing *ErrCalibrationMissing
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "poses.object.place_down", missing.Field)

	_, err = p.PickDownFor(ClassTag)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "poses.tag", missing.Field)
}

func TestProfile_Defaults(t *testing.T) {
	p := NewProfile()
	assert.Equal(t, 80, p.GetStepDwellMS())
	assert.Equal(t, 15.0, p.GetWorkspaceMarginMM())
	assert.Equal(t, 170.0, p.GetPourTwistDeg())
	assert.Equal(t, 1200, p.GetPourDwellMS())
	assert.Equal(t, 400, p.GetPourSettleMS())
	assert.Equal(t, 140.0, p.GetEnvelope().TightenAtDeg)
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	store := NewFileStore(path)

	// Missing file loads as an uncalibrated profile.
	p, err := store.Load()
	require.NoError(t, err)
	assert.False(t, p.IsCalibrated())

	saved := calibratedProfile()
	saved.Poses.Tag = &ClassPoses{PlaceDown: &JointPose{ShoulderDeg: 55, ElbowDeg: 70, WristDeg: 125}}
	saved.StepDwellMS = new(int)
	*saved.StepDwellMS = 120
	require.NoError(t, store.Save(saved))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.IsCalibrated())
	assert.Equal(t, saved.Pivot, loaded.Pivot)
	assert.Equal(t, 120, loaded.GetStepDwellMS())

	pose, err := loaded.PlaceDownFor(ClassTag)
	require.NoError(t, err)
	assert.Equal(t, 55.0, pose.ShoulderDeg)
}
