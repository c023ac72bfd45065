package cameras

import (
	"errors"
	"fmt"

	"github.com/banshee-data/vislam/internal/kinematics"
)

var (
	// ErrMixedDistortionTypes is returned when cameras of one rig use
	// different distortion models.
	ErrMixedDistortionTypes = errors.New("mixed distortion types are not supported")
	// ErrUnsupportedDistortion is returned for geometries or distortion
	// names outside the supported set.
	ErrUnsupportedDistortion = errors.New("unsupported distortion type")
	// ErrCameraIndex is returned for a camera index outside the rig.
	ErrCameraIndex = errors.New("camera index out of range")
)

// NCameraSystem is the calibration of a multi-camera rig: for each camera
// the extrinsics T_SC (camera frame to rig/sensor frame) and its geometry.
type NCameraSystem struct {
	extrinsics []kinematics.Transformation
	geometries []Geometry
}

// NewNCameraSystem returns an empty rig.
func NewNCameraSystem() *NCameraSystem {
	return &NCameraSystem{}
}

// AddCamera appends a camera and returns its index.
func (s *NCameraSystem) AddCamera(T_SC kinematics.Transformation, geometry Geometry) (int, error) {
	if geometry == nil {
		return 0, errors.New("camera geometry is required")
	}
	s.extrinsics = append(s.extrinsics, T_SC)
	s.geometries = append(s.geometries, geometry)
	return len(s.geometries) - 1, nil
}

// NumCameras returns the number of cameras in the rig.
func (s *NCameraSystem) NumCameras() int { return len(s.geometries) }

func (s *NCameraSystem) check(i int) error {
	if i < 0 || i >= len(s.geometries) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrCameraIndex, i, len(s.geometries))
	}
	return nil
}

// T_SC returns the extrinsics of camera i.
func (s *NCameraSystem) T_SC(i int) (kinematics.Transformation, error) {
	if err := s.check(i); err != nil {
		return kinematics.Transformation{}, err
	}
	return s.extrinsics[i], nil
}

// Geometry returns the projection model of camera i.
func (s *NCameraSystem) Geometry(i int) (Geometry, error) {
	if err := s.check(i); err != nil {
		return nil, err
	}
	return s.geometries[i], nil
}

// DistortionType returns the distortion model of camera i.
func (s *NCameraSystem) DistortionType(i int) (DistortionType, error) {
	if err := s.check(i); err != nil {
		return 0, err
	}
	return s.geometries[i].DistortionType(), nil
}

// CommonDistortionType returns the distortion model shared by every camera
// of the rig. It fails with ErrMixedDistortionTypes when the cameras
// disagree and with ErrUnsupportedDistortion for a model outside the
// supported set.
func (s *NCameraSystem) CommonDistortionType() (DistortionType, error) {
	if len(s.geometries) == 0 {
		return 0, errors.New("camera system has no cameras")
	}
	d := s.geometries[0].DistortionType()
	if !d.Valid() {
		return 0, fmt.Errorf("%w: camera 0 is %s", ErrUnsupportedDistortion, d)
	}
	for i := 1; i < len(s.geometries); i++ {
		if other := s.geometries[i].DistortionType(); other != d {
			return 0, fmt.Errorf("%w: camera 0 is %s, camera %d is %s", ErrMixedDistortionTypes, d, i, other)
		}
	}
	return d, nil
}

// FocalLengthU returns the horizontal focal length of camera i. Geometries
// without one are rejected with ErrUnsupportedDistortion.
func (s *NCameraSystem) FocalLengthU(i int) (float64, error) {
	if err := s.check(i); err != nil {
		return 0, err
	}
	fl, ok := s.geometries[i].(FocalLengther)
	if !ok {
		return 0, fmt.Errorf("%w: camera %d geometry %T has no focal length", ErrUnsupportedDistortion, i, s.geometries[i])
	}
	return fl.FocalLengthU(), nil
}
