package loopclosure

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vislam/internal/cameras"
	"github.com/banshee-data/vislam/internal/frames"
	"github.com/banshee-data/vislam/internal/kinematics"
	"github.com/banshee-data/vislam/internal/landmarks"
	"github.com/banshee-data/vislam/internal/testutil"
)

func kid(frame uint64, cam, k int) frames.KeypointIdentifier {
	return frames.KeypointIdentifier{FrameID: frame, CameraIndex: cam, KeypointIndex: k}
}

func center() frames.Keypoint {
	return frames.Keypoint{Point: r2.Vec{X: testutil.RigCu, Y: testutil.RigCv}, Size: 12}
}

func TestAdapterNullAssociation(t *testing.T) {
	t.Parallel()
	sys := testutil.NewRig(t, cameras.RadialTangentialDistortion{})
	f := testutil.NewFrame(t, 1, sys)
	require.NoError(t, f.AddKeypoints(0, []frames.Keypoint{center()}))

	store := landmarks.NewMapStore()
	store.Set(5, landmarks.HomogeneousPoint{0, 0, 5, 1})
	matches := map[frames.KeypointIdentifier]landmarks.LandmarkID{kid(1, 0, 0): landmarks.NullLandmarkID}

	a, err := NewNoncentralAbsoluteAdapter(store, matches, sys, f)
	require.NoError(t, err)
	assert.Equal(t, 0, a.NumberCorrespondences())

	a, err = NewNoncentralAbsoluteAdapter(store, nil, sys, f)
	require.NoError(t, err)
	assert.Equal(t, 0, a.NumberCorrespondences())
}

func TestAdapterSkipsLandmarksAtInfinity(t *testing.T) {
	t.Parallel()
	sys := testutil.NewRig(t, cameras.RadialTangentialDistortion{})
	f := testutil.NewFrame(t, 1, sys)
	require.NoError(t, f.AddKeypoints(0, []frames.Keypoint{center(), center()}))

	store := landmarks.NewMapStore()
	store.Set(1, landmarks.HomogeneousPoint{1, 2, 3, 1e-10})
	store.Set(2, landmarks.HomogeneousPoint{0, 0, 10, 2})
	matches := map[frames.KeypointIdentifier]landmarks.LandmarkID{
		kid(1, 0, 0): 1,
		kid(1, 0, 1): 2,
	}

	a, err := NewNoncentralAbsoluteAdapter(store, matches, sys, f)
	require.NoError(t, err)
	require.Equal(t, 1, a.NumberCorrespondences())

	k, err := a.KeypointIndex(0)
	require.NoError(t, err)
	assert.Equal(t, 1, k)
	p, err := a.Point(0)
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 0, Y: 0, Z: 5}, p)
}

// blindCamera is a pinhole camera whose back-projection always fails.
type blindCamera struct {
	*cameras.PinholeCamera
}

func (blindCamera) BackProject(r2.Vec) (r3.Vec, bool) { return r3.Vec{}, false }

func TestAdapterBackProjectionFallback(t *testing.T) {
	t.Parallel()
	pin, err := cameras.NewPinholeCamera(640, 480, 400, 400, 320, 240, cameras.RadialTangentialDistortion{})
	require.NoError(t, err)
	sys := cameras.NewNCameraSystem()
	_, err = sys.AddCamera(kinematics.Identity(), blindCamera{pin})
	require.NoError(t, err)

	f := testutil.NewFrame(t, 9, sys)
	require.NoError(t, f.AddKeypoints(0, []frames.Keypoint{center()}))
	store := landmarks.NewMapStore()
	store.Set(4, landmarks.HomogeneousPoint{0, 0, 3, 1})

	a, err := NewNoncentralAbsoluteAdapter(store, map[frames.KeypointIdentifier]landmarks.LandmarkID{kid(9, 0, 0): 4}, sys, f)
	require.NoError(t, err)
	require.Equal(t, 1, a.NumberCorrespondences())
	b, err := a.BearingVector(0)
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 1}, b)
}

func TestAdapterMixedDistortionRejected(t *testing.T) {
	t.Parallel()
	sys := testutil.NewRig(t, cameras.RadialTangentialDistortion{}, cameras.EquidistantDistortion{})
	f := testutil.NewFrame(t, 1, sys)
	_, err := NewNoncentralAbsoluteAdapter(landmarks.NewMapStore(), nil, sys, f)
	assert.ErrorIs(t, err, cameras.ErrMixedDistortionTypes)
}

func TestAdapterSupportedDistortions(t *testing.T) {
	t.Parallel()
	for _, d := range []cameras.Distortion{
		cameras.RadialTangentialDistortion{K1: -0.2, K2: 0.05},
		cameras.RadialTangentialDistortion8{K1: -0.2, K2: 0.05, K4: 0.01},
		cameras.EquidistantDistortion{K1: 0.01},
	} {
		d := d
		t.Run(d.Type().String(), func(t *testing.T) {
			t.Parallel()
			sys := testutil.NewRig(t, d, d)
			f := testutil.NewFrame(t, 2, sys)
			store := landmarks.NewMapStore()
			matches := make(map[frames.KeypointIdentifier]landmarks.LandmarkID)

			// one landmark per camera, projected through that camera
			world := []r3.Vec{{X: 0.3, Y: -0.2, Z: 4}, {X: -0.5, Y: 0.1, Z: 6}}
			for cam, p := range world {
				T_SC, err := sys.T_SC(cam)
				require.NoError(t, err)
				g, err := sys.Geometry(cam)
				require.NoError(t, err)
				kp, ok := g.Project(T_SC.Inverse().Apply(p))
				require.True(t, ok)
				require.NoError(t, f.AddKeypoints(cam, []frames.Keypoint{{Point: kp, Size: 8}}))
				id := landmarks.LandmarkID(cam + 1)
				store.Set(id, landmarks.NewHomogeneousPoint(p))
				matches[kid(2, cam, 0)] = id
			}

			a, err := NewNoncentralAbsoluteAdapter(store, matches, sys, f)
			require.NoError(t, err)
			require.Equal(t, 2, a.NumberCorrespondences())
			for i := 0; i < 2; i++ {
				cam, err := a.CameraIndex(i)
				require.NoError(t, err)
				b, err := a.BearingVector(i)
				require.NoError(t, err)
				assert.InDelta(t, 1.0, r3.Norm(b), 1e-12)

				T_SC, err := sys.T_SC(cam)
				require.NoError(t, err)
				want := r3.Unit(T_SC.Inverse().Apply(world[cam]))
				testutil.AssertVecNear(t, want, b, 1e-7)
			}
		})
	}
}

func TestAdapterUnsupportedGeometry(t *testing.T) {
	t.Parallel()
	sys := cameras.NewNCameraSystem()
	_, err := sys.AddCamera(kinematics.Identity(), noFocalCamera{})
	require.NoError(t, err)
	f := testutil.NewFrame(t, 1, sys)
	_, err = NewNoncentralAbsoluteAdapter(landmarks.NewMapStore(), nil, sys, f)
	assert.ErrorIs(t, err, cameras.ErrUnsupportedDistortion)
}

// retaggedCamera has a focal length but an unknown distortion model.
type retaggedCamera struct{ *cameras.PinholeCamera }

func (retaggedCamera) DistortionType() cameras.DistortionType { return cameras.DistortionType(99) }

func TestAdapterUnknownDistortionRejected(t *testing.T) {
	t.Parallel()
	pin, err := cameras.NewPinholeCamera(640, 480, 400, 400, 320, 240, cameras.RadialTangentialDistortion{})
	require.NoError(t, err)
	sys := cameras.NewNCameraSystem()
	_, err = sys.AddCamera(kinematics.Identity(), retaggedCamera{pin})
	require.NoError(t, err)
	f := testutil.NewFrame(t, 1, sys)
	_, err = NewNoncentralAbsoluteAdapter(landmarks.NewMapStore(), nil, sys, f)
	assert.ErrorIs(t, err, cameras.ErrUnsupportedDistortion)
}

type noFocalCamera struct{}

func (noFocalCamera) Width() int                             { return 10 }
func (noFocalCamera) Height() int                            { return 10 }
func (noFocalCamera) DistortionType() cameras.DistortionType { return cameras.Equidistant }
func (noFocalCamera) Project(r3.Vec) (r2.Vec, bool)          { return r2.Vec{}, false }
func (noFocalCamera) BackProject(r2.Vec) (r3.Vec, bool)      { return r3.Vec{Z: 1}, true }

func TestAdapterMissingLandmark(t *testing.T) {
	t.Parallel()
	sys := testutil.NewRig(t, cameras.RadialTangentialDistortion{})
	f := testutil.NewFrame(t, 1, sys)
	require.NoError(t, f.AddKeypoints(0, []frames.Keypoint{center()}))
	_, err := NewNoncentralAbsoluteAdapter(landmarks.NewMapStore(),
		map[frames.KeypointIdentifier]landmarks.LandmarkID{kid(1, 0, 0): 77}, sys, f)
	assert.ErrorIs(t, err, ErrLandmarkNotFound)
}

func TestAdapterSigmaAngle(t *testing.T) {
	t.Parallel()
	sys := testutil.NewRig(t, cameras.RadialTangentialDistortion{})
	f := testutil.NewFrame(t, 1, sys)
	require.NoError(t, f.AddKeypoints(0, []frames.Keypoint{
		{Point: r2.Vec{X: 320, Y: 240}, Size: 12},
		{Point: r2.Vec{X: 300, Y: 200}, Size: 30},
	}))
	store := landmarks.NewMapStore()
	store.Set(1, landmarks.HomogeneousPoint{0, 0, 1, 1})
	matches := map[frames.KeypointIdentifier]landmarks.LandmarkID{kid(1, 0, 0): 1, kid(1, 0, 1): 1}

	a, err := NewNoncentralAbsoluteAdapter(store, matches, sys, f)
	require.NoError(t, err)
	require.Equal(t, 2, a.NumberCorrespondences())

	for i, size := range []float64{12, 30} {
		stdDev := 0.8 * size / 12
		want := math.Sqrt2 * stdDev * stdDev / (testutil.RigFu * testutil.RigFu)
		got, err := a.SigmaAngle(i)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-18)
	}
}

func TestAdapterSigmaAngleUsesFrameCamera(t *testing.T) {
	t.Parallel()
	rig := testutil.NewRig(t, cameras.RadialTangentialDistortion{})
	f := testutil.NewFrame(t, 1, rig)
	require.NoError(t, f.AddKeypoints(0, []frames.Keypoint{center()}))
	store := landmarks.NewMapStore()
	store.Set(1, landmarks.HomogeneousPoint{0, 0, 1, 1})

	// same distortion model, different focal length
	other := cameras.NewNCameraSystem()
	cam, err := cameras.NewPinholeCamera(testutil.RigWidth, testutil.RigHeight, 800, 800,
		testutil.RigCu, testutil.RigCv, cameras.RadialTangentialDistortion{})
	require.NoError(t, err)
	_, err = other.AddCamera(kinematics.Identity(), cam)
	require.NoError(t, err)

	a, err := NewNoncentralAbsoluteAdapter(store,
		map[frames.KeypointIdentifier]landmarks.LandmarkID{kid(1, 0, 0): 1}, other, f)
	require.NoError(t, err)
	got, err := a.SigmaAngle(0)
	require.NoError(t, err)
	stdDev := 0.8 * center().Size / 12
	assert.InDelta(t, math.Sqrt2*stdDev*stdDev/(testutil.RigFu*testutil.RigFu), got, 1e-18)
}

func TestAdapterCountAndCameraLookup(t *testing.T) {
	t.Parallel()
	d := cameras.RadialTangentialDistortion{}
	sys := testutil.NewRig(t, d, d, d)
	f := testutil.NewFrame(t, 4, sys)
	for cam := 0; cam < 3; cam++ {
		require.NoError(t, f.AddKeypoints(cam, []frames.Keypoint{center(), center(), center()}))
	}
	store := landmarks.NewMapStore()
	store.Set(10, landmarks.HomogeneousPoint{1, 0, 4, 1})
	store.Set(11, landmarks.HomogeneousPoint{1, 0, 4, 0})

	matches := map[frames.KeypointIdentifier]landmarks.LandmarkID{
		kid(4, 0, 0): 10,
		kid(4, 0, 2): 11, // at infinity
		kid(4, 1, 1): landmarks.NullLandmarkID,
		kid(4, 2, 0): 10,
		kid(4, 2, 2): 10,
		kid(5, 1, 0): 10, // other frame
	}
	a, err := NewNoncentralAbsoluteAdapter(store, matches, sys, f)
	require.NoError(t, err)
	require.Equal(t, 3, a.NumberCorrespondences())

	wantCams := []int{0, 2, 2}
	wantKps := []int{0, 0, 2}
	for i := 0; i < a.NumberCorrespondences(); i++ {
		cam, err := a.CameraIndex(i)
		require.NoError(t, err)
		assert.Equal(t, wantCams[i], cam)
		k, err := a.KeypointIndex(i)
		require.NoError(t, err)
		assert.Equal(t, wantKps[i], k)

		T_SC := testutil.RigExtrinsics(cam)
		off, err := a.CamOffset(i)
		require.NoError(t, err)
		assert.Equal(t, T_SC.R(), off)

		rot, err := a.CamRotation(i)
		require.NoError(t, err)
		C := T_SC.C()
		assert.True(t, mat.EqualApprox(mat.NewDense(3, 3, C[:]), rot, 1e-15))
	}

	// callers own the returned rotation
	rot, err := a.CamRotation(0)
	require.NoError(t, err)
	rot.Set(0, 0, 42)
	again, err := a.CamRotation(0)
	require.NoError(t, err)
	assert.NotEqual(t, 42.0, again.At(0, 0))
}

func TestAdapterIndexOutOfRange(t *testing.T) {
	t.Parallel()
	sys := testutil.NewRig(t, cameras.RadialTangentialDistortion{})
	f := testutil.NewFrame(t, 1, sys)
	require.NoError(t, f.AddKeypoints(0, []frames.Keypoint{center()}))
	store := landmarks.NewMapStore()
	store.Set(1, landmarks.HomogeneousPoint{0, 0, 2, 1})
	a, err := NewNoncentralAbsoluteAdapter(store, map[frames.KeypointIdentifier]landmarks.LandmarkID{kid(1, 0, 0): 1}, sys, f)
	require.NoError(t, err)

	for _, i := range []int{-1, 1, 100} {
		_, err = a.BearingVector(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = a.Point(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = a.CamOffset(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = a.CamRotation(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = a.SigmaAngle(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = a.CameraIndex(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = a.KeypointIndex(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	}
}

func TestAdapterConcurrentQueries(t *testing.T) {
	t.Parallel()
	sys := testutil.NewRig(t, cameras.RadialTangentialDistortion{})
	f := testutil.NewFrame(t, 1, sys)
	store := landmarks.NewMapStore()
	matches := make(map[frames.KeypointIdentifier]landmarks.LandmarkID)
	for k := 0; k < 50; k++ {
		require.NoError(t, f.AddKeypoints(0, []frames.Keypoint{{Point: r2.Vec{X: float64(100 + 5*k), Y: 240}, Size: 10}}))
		id := landmarks.LandmarkID(k + 1)
		store.Set(id, landmarks.HomogeneousPoint{float64(k), 0, 5, 1})
		matches[kid(1, 0, k)] = id
	}
	a, err := NewNoncentralAbsoluteAdapter(store, matches, sys, f)
	require.NoError(t, err)
	require.Equal(t, 50, a.NumberCorrespondences())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < a.NumberCorrespondences(); i++ {
				p, err := a.Point(i)
				assert.NoError(t, err)
				assert.Equal(t, float64(i), p.X)
			}
		}()
	}
	wg.Wait()
}
