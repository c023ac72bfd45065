package kinematics

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// The pose manifold uses a left perturbation of the rotation:
//
//	r' = r + δr
//	q' = DeltaQ(δα) ⊗ q
//
// with δ = (δr, δα) in the 6-dimensional tangent space.

// ManifoldPlus applies the tangent perturbation delta to the 7-parameter pose x.
func ManifoldPlus(x [ParameterDim]float64, delta [MinimalDim]float64) [ParameterDim]float64 {
	q := Normalize(quat.Number{Real: x[6], Imag: x[3], Jmag: x[4], Kmag: x[5]})
	dq := DeltaQ(r3.Vec{X: delta[3], Y: delta[4], Z: delta[5]})
	qp := Normalize(quat.Mul(dq, q))
	return [ParameterDim]float64{
		x[0] + delta[0], x[1] + delta[1], x[2] + delta[2],
		qp.Imag, qp.Jmag, qp.Kmag, qp.Real,
	}
}

// ManifoldMinus returns the tangent vector δ with ManifoldPlus(x, δ) ≈ y.
// The rotational part is the small-angle 2·vec(q_y ⊗ q_x⁻¹) taken on the
// hemisphere with a non-negative real part, so that sign-flipped
// quaternions yield the same difference.
func ManifoldMinus(y, x [ParameterDim]float64) [MinimalDim]float64 {
	qx := Normalize(quat.Number{Real: x[6], Imag: x[3], Jmag: x[4], Kmag: x[5]})
	qy := Normalize(quat.Number{Real: y[6], Imag: y[3], Jmag: y[4], Kmag: y[5]})
	dq := Canonical(quat.Mul(qy, quat.Conj(qx)))
	return [MinimalDim]float64{
		y[0] - x[0], y[1] - x[1], y[2] - x[2],
		2 * dq.Imag, 2 * dq.Jmag, 2 * dq.Kmag,
	}
}

// PlusJacobian returns the 7x6 lift Jacobian ∂ManifoldPlus(x, δ)/∂δ at δ = 0,
// row-major.
func PlusJacobian(x [ParameterDim]float64) [ParameterDim * MinimalDim]float64 {
	var J [ParameterDim * MinimalDim]float64
	for i := 0; i < 3; i++ {
		J[i*MinimalDim+i] = 1
	}
	q := Normalize(quat.Number{Real: x[6], Imag: x[3], Jmag: x[4], Kmag: x[5]})
	Q := QuatOplus(q)
	// oplus(q) * [0.5*I3; 0]
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			J[(3+i)*MinimalDim+3+j] = 0.5 * Q[i*4+j]
		}
	}
	return J
}

// MinusJacobian returns the 6x7 chart Jacobian ∂ManifoldMinus(y, x)/∂y at
// y = x, row-major. It is the left pseudo-inverse of PlusJacobian:
// MinusJacobian(x) * PlusJacobian(x) = I.
func MinusJacobian(x [ParameterDim]float64) [MinimalDim * ParameterDim]float64 {
	var J [MinimalDim * ParameterDim]float64
	for i := 0; i < 3; i++ {
		J[i*ParameterDim+i] = 1
	}
	q := Normalize(quat.Number{Real: x[6], Imag: x[3], Jmag: x[4], Kmag: x[5]})
	Q := QuatOplus(quat.Conj(q))
	// [2*I3, 0] * oplus(q⁻¹)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			J[(3+i)*ParameterDim+3+j] = 2 * Q[i*4+j]
		}
	}
	return J
}
