package testutil

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vislam/internal/cameras"
	"github.com/banshee-data/vislam/internal/kinematics"
)

func TestNewRig(t *testing.T) {
	t.Parallel()

	sys := NewRig(t, cameras.RadialTangentialDistortion{}, cameras.RadialTangentialDistortion{})
	if sys.NumCameras() != 2 {
		t.Fatalf("cameras = %d, want 2", sys.NumCameras())
	}
	T_SC, err := sys.T_SC(1)
	AssertNoError(t, err)
	AssertVecNear(t, r3.Vec{X: RigBaseline}, T_SC.R(), 0)
	AssertTransformationNear(t, RigExtrinsics(1), T_SC, 1e-15)

	fu, err := sys.FocalLengthU(0)
	AssertNoError(t, err)
	if fu != RigFu {
		t.Errorf("fu = %g, want %g", fu, RigFu)
	}
}

func TestNewFrame(t *testing.T) {
	t.Parallel()

	f := NewFrame(t, 3, NewRig(t, cameras.EquidistantDistortion{}))
	if f.ID() != 3 || f.NumCameras() != 1 {
		t.Errorf("frame id=%d cameras=%d", f.ID(), f.NumCameras())
	}
}

func TestAssertVecNear(t *testing.T) {
	t.Parallel()

	fakeT := &testing.T{}
	if !AssertVecNear(fakeT, r3.Vec{X: 1}, r3.Vec{X: 1 + 1e-9}, 1e-6) {
		t.Error("expected vectors to be near")
	}
}

func TestAssertTransformationNear_DoubleCover(t *testing.T) {
	t.Parallel()

	fakeT := &testing.T{}
	T := Pose(1, 2, 3, 0.1, -0.2, 0.3)
	p := T.Parameters()
	for i := 3; i < 7; i++ {
		p[i] = -p[i]
	}
	neg := kinematics.TransformationFromParameters(p)
	if !AssertTransformationNear(fakeT, T, neg, 1e-12) {
		t.Error("q and -q should compare equal")
	}
}
