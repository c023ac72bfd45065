package cameras

import (
	"fmt"
	"math"
	"strings"
)

// DistortionType names a lens distortion model.
type DistortionType int

const (
	// RadialTangential is the 4-parameter Brown-Conrady model (k1, k2, p1, p2).
	RadialTangential DistortionType = iota
	// RadialTangential8 is the rational 8-parameter model (k1..k6, p1, p2).
	RadialTangential8
	// Equidistant is the fisheye model (k1..k4) on the incidence angle.
	Equidistant
)

// String implements fmt.Stringer.
func (d DistortionType) String() string {
	switch d {
	case RadialTangential:
		return "radialtangential"
	case RadialTangential8:
		return "radialtangential8"
	case Equidistant:
		return "equidistant"
	default:
		return fmt.Sprintf("DistortionType(%d)", int(d))
	}
}

// Valid reports whether d is one of the supported models.
func (d DistortionType) Valid() bool {
	switch d {
	case RadialTangential, RadialTangential8, Equidistant:
		return true
	}
	return false
}

// ParseDistortionType parses the names produced by String.
func ParseDistortionType(s string) (DistortionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "radialtangential", "radial-tangential":
		return RadialTangential, nil
	case "radialtangential8", "radial-tangential-8":
		return RadialTangential8, nil
	case "equidistant":
		return Equidistant, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedDistortion, s)
}

// Distortion maps undistorted normalised image coordinates to distorted ones
// and back.
type Distortion interface {
	Type() DistortionType
	Parameters() []float64
	Distort(x, y float64) (xd, yd float64)
	// Undistort inverts Distort; ok is false when the iteration does not
	// converge.
	Undistort(xd, yd float64) (x, y float64, ok bool)
}

const (
	undistortMaxIterations = 20
	undistortTolerance     = 1e-10
)

// RadialTangentialDistortion is the Brown-Conrady model.
type RadialTangentialDistortion struct {
	K1, K2, P1, P2 float64
}

// Type implements Distortion.
func (d RadialTangentialDistortion) Type() DistortionType { return RadialTangential }

// Parameters returns the coefficients in the order NewDistortion expects.
func (d RadialTangentialDistortion) Parameters() []float64 {
	return []float64{d.K1, d.K2, d.P1, d.P2}
}

// Distort implements Distortion.
func (d RadialTangentialDistortion) Distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := 1 + d.K1*r2 + d.K2*r2*r2
	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

// Undistort implements Distortion.
func (d RadialTangentialDistortion) Undistort(xd, yd float64) (float64, float64, bool) {
	return undistortFixedPoint(xd, yd, d.Distort, func(x, y float64) (float64, float64, float64) {
		r2 := x*x + y*y
		radial := 1 + d.K1*r2 + d.K2*r2*r2
		dx := 2*d.P1*x*y + d.P2*(r2+2*x*x)
		dy := d.P1*(r2+2*y*y) + 2*d.P2*x*y
		return radial, dx, dy
	})
}

// RadialTangentialDistortion8 is the rational radial model with tangential terms.
type RadialTangentialDistortion8 struct {
	K1, K2, P1, P2, K3, K4, K5, K6 float64
}

// Type implements Distortion.
func (d RadialTangentialDistortion8) Type() DistortionType { return RadialTangential8 }

// Parameters returns the coefficients in the order NewDistortion expects.
func (d RadialTangentialDistortion8) Parameters() []float64 {
	return []float64{d.K1, d.K2, d.P1, d.P2, d.K3, d.K4, d.K5, d.K6}
}

func (d RadialTangentialDistortion8) radial(r2 float64) float64 {
	r4 := r2 * r2
	r6 := r4 * r2
	return (1 + d.K1*r2 + d.K2*r4 + d.K3*r6) / (1 + d.K4*r2 + d.K5*r4 + d.K6*r6)
}

// Distort implements Distortion.
func (d RadialTangentialDistortion8) Distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := d.radial(r2)
	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

// Undistort implements Distortion.
func (d RadialTangentialDistortion8) Undistort(xd, yd float64) (float64, float64, bool) {
	return undistortFixedPoint(xd, yd, d.Distort, func(x, y float64) (float64, float64, float64) {
		r2 := x*x + y*y
		dx := 2*d.P1*x*y + d.P2*(r2+2*x*x)
		dy := d.P1*(r2+2*y*y) + 2*d.P2*x*y
		return d.radial(r2), dx, dy
	})
}

// undistortFixedPoint iterates x = (xd - tangential(x)) / radial(x) and
// accepts the result only if it re-distorts onto the input.
func undistortFixedPoint(xd, yd float64,
	distort func(x, y float64) (float64, float64),
	terms func(x, y float64) (radial, dx, dy float64),
) (float64, float64, bool) {
	x, y := xd, yd
	for i := 0; i < undistortMaxIterations; i++ {
		radial, dx, dy := terms(x, y)
		if radial <= 0 || math.IsNaN(radial) || math.IsInf(radial, 0) {
			return 0, 0, false
		}
		nx := (xd - dx) / radial
		ny := (yd - dy) / radial
		converged := math.Abs(nx-x) < undistortTolerance && math.Abs(ny-y) < undistortTolerance
		x, y = nx, ny
		if converged {
			break
		}
	}
	cx, cy := distort(x, y)
	if math.Hypot(cx-xd, cy-yd) > 1e-8 {
		return 0, 0, false
	}
	return x, y, true
}

// EquidistantDistortion is the Kannala-Brandt style fisheye model:
// θd = θ(1 + k1θ² + k2θ⁴ + k3θ⁶ + k4θ⁸) with θ = atan(r).
type EquidistantDistortion struct {
	K1, K2, K3, K4 float64
}

// Type implements Distortion.
func (d EquidistantDistortion) Type() DistortionType { return Equidistant }

// Parameters returns the coefficients in the order NewDistortion expects.
func (d EquidistantDistortion) Parameters() []float64 {
	return []float64{d.K1, d.K2, d.K3, d.K4}
}

func (d EquidistantDistortion) thetaD(theta float64) float64 {
	t2 := theta * theta
	t4 := t2 * t2
	return theta * (1 + d.K1*t2 + d.K2*t4 + d.K3*t4*t2 + d.K4*t4*t4)
}

// Distort implements Distortion.
func (d EquidistantDistortion) Distort(x, y float64) (float64, float64) {
	r := math.Hypot(x, y)
	if r < 1e-12 {
		return x, y
	}
	s := d.thetaD(math.Atan(r)) / r
	return x * s, y * s
}

// Undistort implements Distortion.
func (d EquidistantDistortion) Undistort(xd, yd float64) (float64, float64, bool) {
	rd := math.Hypot(xd, yd)
	if rd < 1e-12 {
		return xd, yd, true
	}
	// Newton on θd(θ) = rd
	theta := rd
	converged := false
	for i := 0; i < undistortMaxIterations; i++ {
		t2 := theta * theta
		t4 := t2 * t2
		f := d.thetaD(theta) - rd
		df := 1 + 3*d.K1*t2 + 5*d.K2*t4 + 7*d.K3*t4*t2 + 9*d.K4*t4*t4
		if df == 0 || math.IsNaN(df) {
			return 0, 0, false
		}
		step := f / df
		theta -= step
		if math.Abs(step) < undistortTolerance {
			converged = true
			break
		}
	}
	if !converged || theta < 0 || theta >= math.Pi/2 {
		return 0, 0, false
	}
	s := math.Tan(theta) / rd
	return xd * s, yd * s, true
}

// NewDistortion rebuilds a distortion model from its type and the values
// returned by Parameters.
func NewDistortion(t DistortionType, params []float64) (Distortion, error) {
	want := map[DistortionType]int{RadialTangential: 4, RadialTangential8: 8, Equidistant: 4}
	n, ok := want[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDistortion, t)
	}
	if len(params) != n {
		return nil, fmt.Errorf("%s distortion needs %d parameters, got %d", t, n, len(params))
	}
	p := params
	switch t {
	case RadialTangential:
		return RadialTangentialDistortion{K1: p[0], K2: p[1], P1: p[2], P2: p[3]}, nil
	case RadialTangential8:
		return RadialTangentialDistortion8{K1: p[0], K2: p[1], P1: p[2], P2: p[3], K3: p[4], K4: p[5], K5: p[6], K6: p[7]}, nil
	default:
		return EquidistantDistortion{K1: p[0], K2: p[1], K3: p[2], K4: p[3]}, nil
	}
}
