// Package frames holds multi-camera keyframes: the keypoints observed by each
// camera of a rig at one timestamp and their landmark associations.
package frames

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vislam/internal/cameras"
	"github.com/banshee-data/vislam/internal/kinematics"
	"github.com/banshee-data/vislam/internal/landmarks"
)

// KeypointIdentifier addresses one keypoint of one camera of one frame.
type KeypointIdentifier struct {
	FrameID       uint64
	CameraIndex   int
	KeypointIndex int
}

// String implements fmt.Stringer.
func (k KeypointIdentifier) String() string {
	return fmt.Sprintf("frame=%d cam=%d kp=%d", k.FrameID, k.CameraIndex, k.KeypointIndex)
}

// Keypoint is a detected image feature. Size is the detector diameter in
// pixels and drives the measurement uncertainty.
type Keypoint struct {
	Point r2.Vec
	Size  float64
}

type cameraFrame struct {
	keypoints   []Keypoint
	landmarkIDs []landmarks.LandmarkID
}

// MultiFrame is the set of keypoints observed by every camera of a rig at
// one instant. It is not safe for concurrent mutation; concurrent reads are
// fine once it is fully built.
type MultiFrame struct {
	id        uint64
	timestamp time.Time
	system    *cameras.NCameraSystem
	cams      []cameraFrame
}

// NewMultiFrame returns a frame with no keypoints for every camera of system.
func NewMultiFrame(id uint64, timestamp time.Time, system *cameras.NCameraSystem) (*MultiFrame, error) {
	if system == nil {
		return nil, fmt.Errorf("multiframe %d: camera system is required", id)
	}
	return &MultiFrame{
		id:        id,
		timestamp: timestamp,
		system:    system,
		cams:      make([]cameraFrame, system.NumCameras()),
	}, nil
}

// ID is the frame id used in KeypointIdentifier.
func (f *MultiFrame) ID() uint64 { return f.id }

// Timestamp is the capture time shared by all cameras.
func (f *MultiFrame) Timestamp() time.Time { return f.timestamp }

// NumCameras is the number of cameras of the rig the frame was built over.
func (f *MultiFrame) NumCameras() int { return len(f.cams) }

// CameraSystem returns the rig calibration the frame was observed with.
func (f *MultiFrame) CameraSystem() *cameras.NCameraSystem { return f.system }

func (f *MultiFrame) checkCamera(cam int) error {
	if cam < 0 || cam >= len(f.cams) {
		return fmt.Errorf("multiframe %d: %w: %d", f.id, cameras.ErrCameraIndex, cam)
	}
	return nil
}

func (f *MultiFrame) checkKeypoint(cam, k int) error {
	if err := f.checkCamera(cam); err != nil {
		return err
	}
	if k < 0 || k >= len(f.cams[cam].keypoints) {
		return fmt.Errorf("multiframe %d cam %d: keypoint %d out of range [0,%d)", f.id, cam, k, len(f.cams[cam].keypoints))
	}
	return nil
}

// AddKeypoints appends keypoints to camera cam. New keypoints start without
// a landmark association.
func (f *MultiFrame) AddKeypoints(cam int, kps []Keypoint) error {
	if err := f.checkCamera(cam); err != nil {
		return err
	}
	c := &f.cams[cam]
	c.keypoints = append(c.keypoints, kps...)
	c.landmarkIDs = append(c.landmarkIDs, make([]landmarks.LandmarkID, len(kps))...)
	return nil
}

// NumKeypoints returns the keypoint count of camera cam, or 0 for an
// unknown camera.
func (f *MultiFrame) NumKeypoints(cam int) int {
	if f.checkCamera(cam) != nil {
		return 0
	}
	return len(f.cams[cam].keypoints)
}

// Keypoint returns keypoint k of camera cam.
func (f *MultiFrame) Keypoint(cam, k int) (Keypoint, error) {
	if err := f.checkKeypoint(cam, k); err != nil {
		return Keypoint{}, err
	}
	return f.cams[cam].keypoints[k], nil
}

// KeypointSize returns the detector diameter of keypoint k of camera cam.
func (f *MultiFrame) KeypointSize(cam, k int) (float64, error) {
	kp, err := f.Keypoint(cam, k)
	if err != nil {
		return 0, err
	}
	return kp.Size, nil
}

// BackProjection returns the (non-normalised) viewing ray of keypoint k in
// the frame of camera cam. ok is false for an invalid index or when the
// camera model cannot invert the keypoint.
func (f *MultiFrame) BackProjection(cam, k int) (r3.Vec, bool) {
	if f.checkKeypoint(cam, k) != nil {
		return r3.Vec{}, false
	}
	g, err := f.system.Geometry(cam)
	if err != nil {
		return r3.Vec{}, false
	}
	return g.BackProject(f.cams[cam].keypoints[k].Point)
}

// T_SC returns the extrinsics of camera cam.
func (f *MultiFrame) T_SC(cam int) (kinematics.Transformation, error) {
	return f.system.T_SC(cam)
}

// Geometry returns the projection model of camera cam.
func (f *MultiFrame) Geometry(cam int) (cameras.Geometry, error) {
	return f.system.Geometry(cam)
}

// SetLandmarkID associates keypoint k of camera cam with a landmark.
// NullLandmarkID clears the association.
func (f *MultiFrame) SetLandmarkID(cam, k int, id landmarks.LandmarkID) error {
	if err := f.checkKeypoint(cam, k); err != nil {
		return err
	}
	f.cams[cam].landmarkIDs[k] = id
	return nil
}

// LandmarkID returns the landmark associated with keypoint k of camera cam.
func (f *MultiFrame) LandmarkID(cam, k int) (landmarks.LandmarkID, error) {
	if err := f.checkKeypoint(cam, k); err != nil {
		return landmarks.NullLandmarkID, err
	}
	return f.cams[cam].landmarkIDs[k], nil
}

// Matches returns the keypoint to landmark associations of this frame,
// leaving out keypoints without one.
func (f *MultiFrame) Matches() map[KeypointIdentifier]landmarks.LandmarkID {
	out := make(map[KeypointIdentifier]landmarks.LandmarkID)
	for cam := range f.cams {
		for k, id := range f.cams[cam].landmarkIDs {
			if id == landmarks.NullLandmarkID {
				continue
			}
			out[KeypointIdentifier{FrameID: f.id, CameraIndex: cam, KeypointIndex: k}] = id
		}
	}
	return out
}
