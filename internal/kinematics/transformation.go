package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ParameterDim is the size of the over-parameterised pose (tx, ty, tz, qx, qy, qz, qw).
const ParameterDim = 7

// MinimalDim is the size of the pose tangent space (δr, δα).
const MinimalDim = 6

// ErrInvalidQuaternion is returned for a raw rotation with zero norm or
// non-finite coefficients.
var ErrInvalidQuaternion = errors.New("quaternion must be finite and non-zero")

// Transformation is a rigid transform T_AB mapping points in frame B into
// frame A. The rotation quaternion is kept at unit length; q and -q describe
// the same transform.
type Transformation struct {
	r r3.Vec
	q quat.Number
}

// Identity returns the identity transform.
func Identity() Transformation {
	return Transformation{q: quat.Number{Real: 1}}
}

// NewTransformation builds a transform from a translation and a (possibly
// unnormalised) rotation quaternion.
func NewTransformation(r r3.Vec, q quat.Number) Transformation {
	return Transformation{r: r, q: Normalize(q)}
}

// TransformationFromParameters reads the 7-parameter block
// (tx, ty, tz, qx, qy, qz, qw), re-normalising the quaternion.
func TransformationFromParameters(p [ParameterDim]float64) Transformation {
	return NewTransformation(
		r3.Vec{X: p[0], Y: p[1], Z: p[2]},
		quat.Number{Real: p[6], Imag: p[3], Jmag: p[4], Kmag: p[5]},
	)
}

// TransformationFromSlice is TransformationFromParameters for a raw slice.
// Unlike NewTransformation it does not map a degenerate quaternion to the
// identity: non-finite entries or a zero-norm rotation are rejected.
func TransformationFromSlice(p []float64) (Transformation, error) {
	if len(p) != ParameterDim {
		return Transformation{}, fmt.Errorf("pose parameter block must have %d entries, got %d", ParameterDim, len(p))
	}
	var a [ParameterDim]float64
	copy(a[:], p)
	for i, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Transformation{}, fmt.Errorf("%w: parameter %d is %v", ErrInvalidQuaternion, i, v)
		}
	}
	if a[3] == 0 && a[4] == 0 && a[5] == 0 && a[6] == 0 {
		return Transformation{}, fmt.Errorf("%w: zero rotation", ErrInvalidQuaternion)
	}
	return TransformationFromParameters(a), nil
}

// R returns the translation.
func (t Transformation) R() r3.Vec { return t.r }

// Q returns the unit rotation quaternion.
func (t Transformation) Q() quat.Number { return t.q }

// C returns the rotation matrix.
func (t Transformation) C() Mat3 { return RotationMatrix(t.q) }

// Parameters returns the 7-parameter block (tx, ty, tz, qx, qy, qz, qw).
func (t Transformation) Parameters() [ParameterDim]float64 {
	return [ParameterDim]float64{t.r.X, t.r.Y, t.r.Z, t.q.Imag, t.q.Jmag, t.q.Kmag, t.q.Real}
}

// Inverse returns T_BA for T_AB.
func (t Transformation) Inverse() Transformation {
	qInv := quat.Conj(t.q)
	return Transformation{
		r: r3.Scale(-1, Rotate(qInv, t.r)),
		q: qInv,
	}
}

// Mul composes T_AB * T_BC = T_AC.
func (t Transformation) Mul(o Transformation) Transformation {
	return Transformation{
		r: r3.Add(t.r, Rotate(t.q, o.r)),
		q: Normalize(quat.Mul(t.q, o.q)),
	}
}

// Apply maps a point from frame B into frame A.
func (t Transformation) Apply(p r3.Vec) r3.Vec {
	return r3.Add(Rotate(t.q, p), t.r)
}

// Plus applies a minimal perturbation (δr, δα) on the pose manifold.
func (t Transformation) Plus(delta [MinimalDim]float64) Transformation {
	return TransformationFromParameters(ManifoldPlus(t.Parameters(), delta))
}

// Equal reports whether two transforms agree within tol, treating q and -q
// as the same rotation.
func (t Transformation) Equal(o Transformation, tol float64) bool {
	if !scalar.EqualWithinAbs(t.r.X, o.r.X, tol) ||
		!scalar.EqualWithinAbs(t.r.Y, o.r.Y, tol) ||
		!scalar.EqualWithinAbs(t.r.Z, o.r.Z, tol) {
		return false
	}
	return quatEqual(t.q, o.q, tol) || quatEqual(t.q, quat.Scale(-1, o.q), tol)
}

func quatEqual(a, b quat.Number, tol float64) bool {
	return scalar.EqualWithinAbs(a.Real, b.Real, tol) &&
		scalar.EqualWithinAbs(a.Imag, b.Imag, tol) &&
		scalar.EqualWithinAbs(a.Jmag, b.Jmag, tol) &&
		scalar.EqualWithinAbs(a.Kmag, b.Kmag, tol)
}

// String implements fmt.Stringer.
func (t Transformation) String() string {
	return fmt.Sprintf("r=[%.6g %.6g %.6g] q=[%.6g %.6g %.6g %.6g]",
		t.r.X, t.r.Y, t.r.Z, t.q.Imag, t.q.Jmag, t.q.Kmag, t.q.Real)
}
