package cameras

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Geometry is a camera projection model.
type Geometry interface {
	Width() int
	Height() int
	DistortionType() DistortionType
	// Project maps a point in the camera frame to image coordinates; ok is
	// false behind the camera or outside the image.
	Project(p r3.Vec) (r2.Vec, bool)
	// BackProject maps image coordinates to a (non-normalised) ray in the
	// camera frame; ok is false when the distortion cannot be inverted.
	BackProject(kp r2.Vec) (r3.Vec, bool)
}

// FocalLengther is implemented by geometries with a horizontal focal length
// in pixels, used to convert pixel uncertainty into angular uncertainty.
type FocalLengther interface {
	FocalLengthU() float64
}

// PinholeCamera is a pinhole projection with lens distortion.
type PinholeCamera struct {
	width, height int
	fu, fv        float64
	cu, cv        float64
	distortion    Distortion
}

var (
	_ Geometry      = (*PinholeCamera)(nil)
	_ FocalLengther = (*PinholeCamera)(nil)
)

// NewPinholeCamera validates the intrinsics and returns a camera.
func NewPinholeCamera(width, height int, fu, fv, cu, cv float64, distortion Distortion) (*PinholeCamera, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %dx%d", width, height)
	}
	if !(fu > 0) || !(fv > 0) || math.IsInf(fu, 0) || math.IsInf(fv, 0) {
		return nil, fmt.Errorf("focal lengths must be positive and finite, got fu=%g fv=%g", fu, fv)
	}
	if distortion == nil {
		return nil, errors.New("distortion model is required")
	}
	return &PinholeCamera{
		width: width, height: height,
		fu: fu, fv: fv, cu: cu, cv: cv,
		distortion: distortion,
	}, nil
}

// Width is the image width in pixels.
func (c *PinholeCamera) Width() int { return c.width }

// Height is the image height in pixels.
func (c *PinholeCamera) Height() int { return c.height }

// FocalLengthU is the horizontal focal length in pixels.
func (c *PinholeCamera) FocalLengthU() float64 { return c.fu }

// FocalLengthV is the vertical focal length in pixels.
func (c *PinholeCamera) FocalLengthV() float64 { return c.fv }

// ImageCenterU is the principal point column.
func (c *PinholeCamera) ImageCenterU() float64 { return c.cu }

// ImageCenterV is the principal point row.
func (c *PinholeCamera) ImageCenterV() float64 { return c.cv }

// Distortion returns the lens distortion model.
func (c *PinholeCamera) Distortion() Distortion { return c.distortion }

// DistortionType implements Geometry.
func (c *PinholeCamera) DistortionType() DistortionType { return c.distortion.Type() }

// Project implements Geometry.
func (c *PinholeCamera) Project(p r3.Vec) (r2.Vec, bool) {
	if p.Z <= 0 {
		return r2.Vec{}, false
	}
	xd, yd := c.distortion.Distort(p.X/p.Z, p.Y/p.Z)
	kp := r2.Vec{X: c.fu*xd + c.cu, Y: c.fv*yd + c.cv}
	return kp, c.inImage(kp)
}

// BackProject implements Geometry. The returned ray has z = 1.
func (c *PinholeCamera) BackProject(kp r2.Vec) (r3.Vec, bool) {
	xd := (kp.X - c.cu) / c.fu
	yd := (kp.Y - c.cv) / c.fv
	x, y, ok := c.distortion.Undistort(xd, yd)
	if !ok {
		return r3.Vec{}, false
	}
	return r3.Vec{X: x, Y: y, Z: 1}, true
}

func (c *PinholeCamera) inImage(kp r2.Vec) bool {
	return kp.X >= -0.5 && kp.Y >= -0.5 &&
		kp.X < float64(c.width)-0.5 && kp.Y < float64(c.height)-0.5
}
