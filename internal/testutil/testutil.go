// Package testutil provides shared test fixtures: synthetic camera rigs,
// multi-frames and tolerance assertions for poses and vectors.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vislam/internal/cameras"
	"github.com/banshee-data/vislam/internal/frames"
	"github.com/banshee-data/vislam/internal/kinematics"
)

// Rig intrinsics shared by every synthetic camera.
const (
	RigWidth  = 640
	RigHeight = 480
	RigFu     = 400.0
	RigFv     = 400.0
	RigCu     = 320.0
	RigCv     = 240.0
	// RigBaseline is the x offset between consecutive cameras of a rig.
	RigBaseline = 0.1
)

// RigExtrinsics returns the T_SC used for camera i of NewRig: a translation
// of i*RigBaseline along x and a yaw of i*0.05 rad.
func RigExtrinsics(i int) kinematics.Transformation {
	return kinematics.NewTransformation(
		r3.Vec{X: RigBaseline * float64(i)},
		kinematics.DeltaQ(r3.Vec{Z: 0.05 * float64(i)}),
	)
}

// NewRig builds a rig with one pinhole camera per distortion model.
func NewRig(t testing.TB, distortions ...cameras.Distortion) *cameras.NCameraSystem {
	t.Helper()
	sys := cameras.NewNCameraSystem()
	for i, d := range distortions {
		cam, err := cameras.NewPinholeCamera(RigWidth, RigHeight, RigFu, RigFv, RigCu, RigCv, d)
		if err != nil {
			t.Fatalf("camera %d: %v", i, err)
		}
		if _, err := sys.AddCamera(RigExtrinsics(i), cam); err != nil {
			t.Fatalf("add camera %d: %v", i, err)
		}
	}
	return sys
}

// NewFrame builds an empty multi-frame over sys.
func NewFrame(t testing.TB, id uint64, sys *cameras.NCameraSystem) *frames.MultiFrame {
	t.Helper()
	f, err := frames.NewMultiFrame(id, time.Unix(0, int64(id)*int64(time.Millisecond)), sys)
	if err != nil {
		t.Fatalf("multiframe %d: %v", id, err)
	}
	return f
}

// Pose builds a transformation from a translation and a rotation vector.
func Pose(tx, ty, tz, ax, ay, az float64) kinematics.Transformation {
	return kinematics.NewTransformation(r3.Vec{X: tx, Y: ty, Z: tz}, kinematics.DeltaQ(r3.Vec{X: ax, Y: ay, Z: az}))
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertVecNear reports whether got is within tol of want component-wise.
func AssertVecNear(t testing.TB, want, got r3.Vec, tol float64) bool {
	t.Helper()
	d := r3.Sub(want, got)
	if math.Abs(d.X) > tol || math.Abs(d.Y) > tol || math.Abs(d.Z) > tol {
		t.Errorf("vector = %v, want %v (tol %g)", got, want, tol)
		return false
	}
	return true
}

// AssertTransformationNear reports whether got equals want up to tol,
// treating q and -q as the same rotation.
func AssertTransformationNear(t testing.TB, want, got kinematics.Transformation, tol float64) bool {
	t.Helper()
	if !want.Equal(got, tol) {
		t.Errorf("transformation = %v, want %v (tol %g)", got, want, tol)
		return false
	}
	return true
}
