package loopclosure

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vislam/internal/cameras"
	"github.com/banshee-data/vislam/internal/frames"
	"github.com/banshee-data/vislam/internal/kinematics"
	"github.com/banshee-data/vislam/internal/landmarks"
)

var (
	// ErrIndexOutOfRange is returned by queries outside [0, NumberCorrespondences()).
	ErrIndexOutOfRange = errors.New("correspondence index out of range")
	// ErrLandmarkNotFound is returned when an association names a landmark
	// the store does not hold.
	ErrLandmarkNotFound = errors.New("associated landmark not in store")
)

const (
	// keypointSizeToStdDev converts a detector diameter to a pixel standard deviation.
	keypointSizeToStdDev = 0.8 / 12.0
)

// fallbackBearing is used for keypoints the camera model cannot back-project.
var fallbackBearing = r3.Vec{X: 1, Y: 0, Z: 0}

// NoncentralAbsoluteAdapter exposes the 2D-3D correspondences between one
// multi-camera frame and the landmark map in the indexed form consumed by
// generalized absolute-pose solvers. All output slices are index aligned.
// The adapter is immutable after construction and safe for concurrent queries.
type NoncentralAbsoluteAdapter struct {
	camOffsets   []r3.Vec
	camRotations []kinematics.Mat3

	points          []r3.Vec
	bearingVectors  []r3.Vec
	sigmaAngles     []float64
	cameraIndices   []int
	keypointIndices []int
}

// NewNoncentralAbsoluteAdapter collects every keypoint of frame associated
// (through matches) with a finite landmark of store. Keypoints without an
// association, with the null landmark id or whose landmark lies at infinity
// are skipped. A keypoint the camera cannot back-project keeps its
// correspondence with the bearing (1, 0, 0).
//
// system is checked for a single supported distortion model; camera
// extrinsics, bearings and focal lengths are read from frame's own rig.
// store is only read during construction.
func NewNoncentralAbsoluteAdapter(
	store landmarks.Store,
	matches map[frames.KeypointIdentifier]landmarks.LandmarkID,
	system *cameras.NCameraSystem,
	frame *frames.MultiFrame,
) (*NoncentralAbsoluteAdapter, error) {
	if store == nil || system == nil || frame == nil {
		return nil, errors.New("loop closure adapter: store, camera system and frame are required")
	}
	if _, err := system.CommonDistortionType(); err != nil {
		return nil, fmt.Errorf("loop closure adapter for frame %d: %w", frame.ID(), err)
	}

	a := &NoncentralAbsoluteAdapter{}
	for cam := 0; cam < frame.NumCameras(); cam++ {
		T_SC, err := frame.T_SC(cam)
		if err != nil {
			return nil, fmt.Errorf("loop closure adapter for frame %d: %w", frame.ID(), err)
		}
		a.camOffsets = append(a.camOffsets, T_SC.R())
		a.camRotations = append(a.camRotations, T_SC.C())

		// fu must come from the camera that produced the bearings.
		geom, err := frame.Geometry(cam)
		if err != nil {
			return nil, fmt.Errorf("loop closure adapter for frame %d: %w", frame.ID(), err)
		}
		fl, ok := geom.(cameras.FocalLengther)
		if !ok {
			return nil, fmt.Errorf("loop closure adapter for frame %d: %w: camera %d geometry %T has no focal length",
				frame.ID(), cameras.ErrUnsupportedDistortion, cam, geom)
		}
		fu := fl.FocalLengthU()

		for k := 0; k < frame.NumKeypoints(cam); k++ {
			id, ok := matches[frames.KeypointIdentifier{FrameID: frame.ID(), CameraIndex: cam, KeypointIndex: k}]
			if !ok || id == landmarks.NullLandmarkID {
				continue
			}
			hp, ok := store.Landmark(id)
			if !ok {
				return nil, fmt.Errorf("loop closure adapter for frame %d cam %d kp %d: %w: %d",
					frame.ID(), cam, k, ErrLandmarkNotFound, id)
			}
			if hp.AtInfinity(landmarks.InfinityThreshold) {
				continue
			}

			bearing, ok := frame.BackProjection(cam, k)
			if !ok {
				bearing = fallbackBearing
			}
			bearing = r3.Unit(bearing)

			size, err := frame.KeypointSize(cam, k)
			if err != nil {
				return nil, err
			}
			stdDev := keypointSizeToStdDev * size

			a.points = append(a.points, hp.Euclidean())
			a.bearingVectors = append(a.bearingVectors, bearing)
			a.sigmaAngles = append(a.sigmaAngles, math.Sqrt2*stdDev*stdDev/(fu*fu))
			a.cameraIndices = append(a.cameraIndices, cam)
			a.keypointIndices = append(a.keypointIndices, k)
		}
	}
	return a, nil
}

// NumberCorrespondences returns the number of collected correspondences.
func (a *NoncentralAbsoluteAdapter) NumberCorrespondences() int { return len(a.points) }

func (a *NoncentralAbsoluteAdapter) check(i int) error {
	if i < 0 || i >= len(a.points) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(a.points))
	}
	return nil
}

// BearingVector returns the unit bearing of correspondence i in its camera frame.
func (a *NoncentralAbsoluteAdapter) BearingVector(i int) (r3.Vec, error) {
	if err := a.check(i); err != nil {
		return r3.Vec{}, err
	}
	return a.bearingVectors[i], nil
}

// Point returns the Euclidean world point of correspondence i.
func (a *NoncentralAbsoluteAdapter) Point(i int) (r3.Vec, error) {
	if err := a.check(i); err != nil {
		return r3.Vec{}, err
	}
	return a.points[i], nil
}

// CamOffset returns the position of the camera that observed correspondence
// i in the rig frame.
func (a *NoncentralAbsoluteAdapter) CamOffset(i int) (r3.Vec, error) {
	if err := a.check(i); err != nil {
		return r3.Vec{}, err
	}
	return a.camOffsets[a.cameraIndices[i]], nil
}

// CamRotation returns the camera to rig rotation for correspondence i as a
// fresh 3x3 matrix.
func (a *NoncentralAbsoluteAdapter) CamRotation(i int) (*mat.Dense, error) {
	if err := a.check(i); err != nil {
		return nil, err
	}
	c := a.camRotations[a.cameraIndices[i]]
	return mat.NewDense(3, 3, c[:]), nil
}

// SigmaAngle returns the angular standard deviation of correspondence i.
func (a *NoncentralAbsoluteAdapter) SigmaAngle(i int) (float64, error) {
	if err := a.check(i); err != nil {
		return 0, err
	}
	return a.sigmaAngles[i], nil
}

// CameraIndex returns the rig camera that observed correspondence i.
func (a *NoncentralAbsoluteAdapter) CameraIndex(i int) (int, error) {
	if err := a.check(i); err != nil {
		return 0, err
	}
	return a.cameraIndices[i], nil
}

// KeypointIndex returns the keypoint index of correspondence i within its camera.
func (a *NoncentralAbsoluteAdapter) KeypointIndex(i int) (int, error) {
	if err := a.check(i); err != nil {
		return 0, err
	}
	return a.keypointIndices[i], nil
}
