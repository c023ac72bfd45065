package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vislam/internal/cameras"
	"github.com/banshee-data/vislam/internal/frames"
	"github.com/banshee-data/vislam/internal/graph"
	"github.com/banshee-data/vislam/internal/imu"
	"github.com/banshee-data/vislam/internal/kinematics"
	"github.com/banshee-data/vislam/internal/landmarks"
	"github.com/banshee-data/vislam/internal/monitoring"
	"github.com/banshee-data/vislam/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	sys := testutil.NewRig(t,
		cameras.RadialTangentialDistortion8{K1: -0.3, K2: 0.1, P1: 1e-4, P2: -2e-4, K3: 0.01},
		cameras.RadialTangentialDistortion8{K1: -0.29, K2: 0.09, K4: 0.02},
	)
	g := graph.New()
	ts := time.Unix(1700000000, 123456789)
	require.NoError(t, g.AddState(1, ts, kinematics.Identity()))
	require.NoError(t, g.AddState(2, ts.Add(time.Second), testutil.Pose(1, 0.2, 0, 0, 0.1, 0.05)))
	_, err := g.AddRelativePoseConstraint(1, 2, testutil.Pose(1, 0, 0, 0, 0.1, 0), 0.01, 0.0001)
	require.NoError(t, err)
	info := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		info.SetSym(i, i, float64(i+2))
	}
	info.SetSym(0, 1, 0.5)
	_, err = g.AddRelativePoseConstraintWithInformation(2, 1, testutil.Pose(-1, 0, 0, 0, 0, 0), info)
	require.NoError(t, err)
	g.Landmarks().Set(10, landmarks.HomogeneousPoint{1, 2, 3, 1})
	g.Landmarks().Set(11, landmarks.HomogeneousPoint{0, 0, 1, 0})

	f, err := frames.NewMultiFrame(2, ts.Add(time.Second), sys)
	require.NoError(t, err)
	require.NoError(t, f.AddKeypoints(0, []frames.Keypoint{
		{Point: r2.Vec{X: 100.5, Y: 200.25}, Size: 12},
		{Point: r2.Vec{X: 320, Y: 240}, Size: 7},
	}))
	require.NoError(t, f.AddKeypoints(1, []frames.Keypoint{{Point: r2.Vec{X: 10, Y: 20}, Size: 31}}))
	require.NoError(t, f.SetLandmarkID(0, 1, 10))
	require.NoError(t, f.SetLandmarkID(1, 0, 11))

	p := imu.DefaultParameters()
	p.GyroBiasPrior = r3.Vec{X: 0.001, Y: -0.002, Z: 0.003}
	p.T_BS = testutil.Pose(0.01, 0.02, 0.03, 0, 0, 0.1)

	return &Snapshot{
		RunID:       "4b1c7b3e-5c55-4c8e-8d0b-1d0f7f1f2a10",
		CreatedAt:   ts,
		Imu:         p,
		Cameras:     sys,
		Graph:       g,
		MultiFrames: map[graph.StateID]*frames.MultiFrame{2: f},
	}
}

func TestOpenMigrates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// reopening an up-to-date database is a no-op
	path := s.Path()
	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	version, _, err = s2.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestLoadRunEmpty(t *testing.T) {
	t.Parallel()
	_, err := openTestStore(t).LoadRun()
	assert.ErrorIs(t, err, ErrNoRun)
}

func TestSaveLoadRun(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	want := testSnapshot(t)
	require.NoError(t, s.SaveRun(want))

	got, err := s.LoadRun()
	require.NoError(t, err)
	assert.Equal(t, want.RunID, got.RunID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	assert.Equal(t, want.Imu.Rate, got.Imu.Rate)
	assert.Equal(t, want.Imu.SigmaAccelDriftC, got.Imu.SigmaAccelDriftC)
	assert.Equal(t, want.Imu.GyroBiasPrior, got.Imu.GyroBiasPrior)
	testutil.AssertTransformationNear(t, want.Imu.T_BS, got.Imu.T_BS, 1e-12)

	require.Equal(t, 2, got.Cameras.NumCameras())
	for i := 0; i < 2; i++ {
		wg, _ := want.Cameras.Geometry(i)
		gg, err := got.Cameras.Geometry(i)
		require.NoError(t, err)
		assert.Equal(t, wg.(*cameras.PinholeCamera).Distortion(), gg.(*cameras.PinholeCamera).Distortion())
		assert.Equal(t, wg.(*cameras.PinholeCamera).FocalLengthV(), gg.(*cameras.PinholeCamera).FocalLengthV())
		wT, _ := want.Cameras.T_SC(i)
		gT, _ := got.Cameras.T_SC(i)
		testutil.AssertTransformationNear(t, wT, gT, 1e-12)
	}

	wantStates := want.Graph.States()
	gotStates := got.Graph.States()
	require.Len(t, gotStates, len(wantStates))
	for i := range wantStates {
		assert.Equal(t, wantStates[i].ID, gotStates[i].ID)
		assert.True(t, wantStates[i].Timestamp.Equal(gotStates[i].Timestamp))
		testutil.AssertTransformationNear(t, wantStates[i].T_WS, gotStates[i].T_WS, 1e-12)
	}
	assert.Equal(t, want.Graph.Landmarks().IDs(), got.Graph.Landmarks().IDs())
	h, ok := got.Graph.Landmarks().Landmark(11)
	require.True(t, ok)
	assert.True(t, h.AtInfinity(landmarks.InfinityThreshold))

	wantC := want.Graph.Constraints()
	gotC := got.Graph.Constraints()
	require.Len(t, gotC, 2)
	for i := range wantC {
		assert.Equal(t, wantC[i].From, gotC[i].From)
		assert.Equal(t, wantC[i].To, gotC[i].To)
		assert.True(t, mat.Equal(wantC[i].Error.Information(), gotC[i].Error.Information()))
	}
	wantEv, err := want.Graph.Evaluate()
	require.NoError(t, err)
	gotEv, err := got.Graph.Evaluate()
	require.NoError(t, err)
	assert.InDelta(t, wantEv.TotalCost, gotEv.TotalCost, 1e-12)

	require.Len(t, got.MultiFrames, 1)
	f := got.MultiFrames[2]
	require.NotNil(t, f)
	assert.Same(t, got.Cameras, f.CameraSystem())
	assert.Equal(t, want.MultiFrames[2].Matches(), f.Matches())
	kp, err := f.Keypoint(0, 0)
	require.NoError(t, err)
	assert.Equal(t, frames.Keypoint{Point: r2.Vec{X: 100.5, Y: 200.25}, Size: 12}, kp)
	assert.Equal(t, 1, f.NumKeypoints(1))
}

func TestSaveRunReplacesPrevious(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	require.NoError(t, s.SaveRun(testSnapshot(t)))

	next := &Snapshot{
		RunID:   "second",
		Imu:     imu.DefaultParameters(),
		Cameras: testutil.NewRig(t, cameras.EquidistantDistortion{K1: 0.1}),
		Graph:   graph.New(),
	}
	require.NoError(t, s.SaveRun(next))

	got, err := s.LoadRun()
	require.NoError(t, err)
	assert.Equal(t, "second", got.RunID)
	assert.Equal(t, 0, got.Graph.NumStates())
	assert.Equal(t, 0, got.Graph.Landmarks().Len())
	assert.Empty(t, got.MultiFrames)
	d, err := got.Cameras.CommonDistortionType()
	require.NoError(t, err)
	assert.Equal(t, cameras.Equidistant, d)
}

type wrappedCamera struct{ cameras.Geometry }

func TestSaveRunRejectsUnsupportedCamera(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	require.NoError(t, s.SaveRun(testSnapshot(t)))

	cam, err := cameras.NewPinholeCamera(10, 10, 5, 5, 5, 5, cameras.EquidistantDistortion{})
	require.NoError(t, err)
	sys := cameras.NewNCameraSystem()
	_, err = sys.AddCamera(kinematics.Identity(), wrappedCamera{cam})
	require.NoError(t, err)

	err = s.SaveRun(&Snapshot{RunID: "bad", Imu: imu.DefaultParameters(), Cameras: sys, Graph: graph.New()})
	assert.ErrorIs(t, err, ErrUnsupportedCamera)

	// the failed save rolled back
	got, err := s.LoadRun()
	require.NoError(t, err)
	assert.Equal(t, "4b1c7b3e-5c55-4c8e-8d0b-1d0f7f1f2a10", got.RunID)
}
