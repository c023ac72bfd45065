package kinematics

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Mat3 is a 3x3 matrix in row-major order.
type Mat3 [9]float64

// Mat4 is a 4x4 matrix in row-major order.
type Mat4 [16]float64

// Identity3 returns the 3x3 identity.
func Identity3() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// At returns element (i, j).
func (m Mat3) At(i, j int) float64 { return m[i*3+j] }

// T returns the transpose.
func (m Mat3) T() Mat3 {
	return Mat3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

// Mul returns m*n.
func (m Mat3) Mul(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = m[i*3]*n[j] + m[i*3+1]*n[3+j] + m[i*3+2]*n[6+j]
		}
	}
	return out
}

// MulVec returns m*v.
func (m Mat3) MulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// Scale returns f*m.
func (m Mat3) Scale(f float64) Mat3 {
	for i := range m {
		m[i] *= f
	}
	return m
}

// Mul returns m*n.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += m[i*4+k] * n[k*4+j]
			}
			out[i*4+j] = s
		}
	}
	return out
}

// TopLeft3 returns the upper-left 3x3 block.
func (m Mat4) TopLeft3() Mat3 {
	return Mat3{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	}
}

// CrossMx returns the skew-symmetric matrix [v]x such that [v]x*u = v x u.
func CrossMx(v r3.Vec) Mat3 {
	return Mat3{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	}
}

// Coeffs returns the quaternion coefficients in (x, y, z, w) order.
func Coeffs(q quat.Number) [4]float64 {
	return [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// FromCoeffs builds a quaternion from (x, y, z, w) coefficients.
func FromCoeffs(c [4]float64) quat.Number {
	return quat.Number{Real: c[3], Imag: c[0], Jmag: c[1], Kmag: c[2]}
}

// QuatPlus returns the left-multiplication matrix of q, so that
// Coeffs(q ⊗ p) = QuatPlus(q) * Coeffs(p).
func QuatPlus(q quat.Number) Mat4 {
	x, y, z, w := q.Imag, q.Jmag, q.Kmag, q.Real
	return Mat4{
		w, -z, y, x,
		z, w, -x, y,
		-y, x, w, z,
		-x, -y, -z, w,
	}
}

// QuatOplus returns the right-multiplication matrix of q, so that
// Coeffs(p ⊗ q) = QuatOplus(q) * Coeffs(p).
func QuatOplus(q quat.Number) Mat4 {
	x, y, z, w := q.Imag, q.Jmag, q.Kmag, q.Real
	return Mat4{
		w, z, -y, x,
		-z, w, x, y,
		y, -x, w, z,
		-x, -y, -z, w,
	}
}

// Normalize returns q scaled to unit length. The zero quaternion maps to
// the identity rotation.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Canonical returns q or -q, whichever has a non-negative real part.
func Canonical(q quat.Number) quat.Number {
	if q.Real < 0 {
		return quat.Scale(-1, q)
	}
	return q
}

// RotationMatrix returns the direction cosine matrix of a unit quaternion.
func RotationMatrix(q quat.Number) Mat3 {
	x, y, z, w := q.Imag, q.Jmag, q.Kmag, q.Real
	return Mat3{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// Rotate applies the unit quaternion q to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	out := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

// DeltaQ is the exponential map from a rotation vector to a unit quaternion.
func DeltaQ(alpha r3.Vec) quat.Number {
	theta := r3.Norm(alpha)
	halfTheta := 0.5 * theta
	// sinc(halfTheta)/2 via a series expansion near zero
	var s float64
	if theta < 1e-6 {
		s = 0.5 - theta*theta/48
	} else {
		s = math.Sin(halfTheta) / theta
	}
	return quat.Number{
		Real: math.Cos(halfTheta),
		Imag: s * alpha.X,
		Jmag: s * alpha.Y,
		Kmag: s * alpha.Z,
	}
}
