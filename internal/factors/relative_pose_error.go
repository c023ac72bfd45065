package factors

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vislam/internal/kinematics"
)

const (
	// ResidualDim is the size of the relative pose residual (3 translation + 3 rotation).
	ResidualDim = 6

	// symmetryTolerance bounds |I - Iᵀ| entries accepted as symmetric.
	symmetryTolerance = 1e-9
)

var (
	// ErrInformationNotSymmetric is returned when the information matrix is
	// not a symmetric 6x6 matrix.
	ErrInformationNotSymmetric = errors.New("information matrix must be symmetric 6x6")
	// ErrInformationNotPositiveDefinite is returned when the Cholesky
	// factorisation of the information matrix fails.
	ErrInformationNotPositiveDefinite = errors.New("information matrix is not positive definite")
	// ErrInvalidVariance is returned for non-positive or non-finite variances.
	ErrInvalidVariance = errors.New("variance must be positive and finite")
	// ErrParameterBlock is returned when a raw parameter or output block has
	// the wrong size.
	ErrParameterBlock = errors.New("malformed parameter block")
)

// MinimalJacobian is a 6x6 row-major Jacobian with respect to a pose's
// tangent-space perturbation (δr, δα).
type MinimalJacobian [ResidualDim * kinematics.MinimalDim]float64

// FullJacobian is a 6x7 row-major Jacobian with respect to a pose's
// parameter block (tx, ty, tz, qx, qy, qz, qw).
type FullJacobian [ResidualDim * kinematics.ParameterDim]float64

// Linearization bundles a weighted residual with its Jacobians.
type Linearization struct {
	Residual [ResidualDim]float64
	MinimalA MinimalJacobian
	MinimalB MinimalJacobian
	FullA    FullJacobian
	FullB    FullJacobian
}

// RelativePoseError constrains the relative transform between two poses
// T_WA and T_WB to a measured T_AB, weighted by a 6x6 information matrix
// over (translation, rotation) error.
//
// The zero value is not usable; construct with NewRelativePoseError or
// NewRelativePoseErrorFromVariances. After construction the error term is
// immutable and safe for concurrent use.
type RelativePoseError struct {
	measurement kinematics.Transformation

	information           [36]float64
	covariance            [36]float64
	squareRootInformation [36]float64 // upper triangular U with UᵀU = information
}

// NewRelativePoseError builds the error term from an explicit information
// matrix. The matrix must be a symmetric positive definite 6x6 matrix.
func NewRelativePoseError(information mat.Matrix, measurement kinematics.Transformation) (*RelativePoseError, error) {
	r, c := information.Dims()
	if r != ResidualDim || c != ResidualDim {
		return nil, fmt.Errorf("%w: got %dx%d", ErrInformationNotSymmetric, r, c)
	}
	e := &RelativePoseError{measurement: measurement}
	if err := e.setInformation(information); err != nil {
		return nil, err
	}
	return e, nil
}

// NewRelativePoseErrorFromVariances builds the error term from independent
// translation and rotation variances, giving a block-diagonal information
// matrix.
func NewRelativePoseErrorFromVariances(translationVariance, rotationVariance float64, measurement kinematics.Transformation) (*RelativePoseError, error) {
	if !validVariance(translationVariance) {
		return nil, fmt.Errorf("translation %w, got %g", ErrInvalidVariance, translationVariance)
	}
	if !validVariance(rotationVariance) {
		return nil, fmt.Errorf("rotation %w, got %g", ErrInvalidVariance, rotationVariance)
	}
	information := mat.NewDense(ResidualDim, ResidualDim, nil)
	for i := 0; i < 3; i++ {
		information.Set(i, i, 1.0/translationVariance)
		information.Set(3+i, 3+i, 1.0/rotationVariance)
	}
	return NewRelativePoseError(information, measurement)
}

func validVariance(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// setInformation caches the covariance and the square-root information
// used to whiten residuals and Jacobians.
func (e *RelativePoseError) setInformation(information mat.Matrix) error {
	sym := mat.NewSymDense(ResidualDim, nil)
	for i := 0; i < ResidualDim; i++ {
		for j := i; j < ResidualDim; j++ {
			a, b := information.At(i, j), information.At(j, i)
			if math.Abs(a-b) > symmetryTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
				return fmt.Errorf("%w: entry (%d,%d)=%g differs from (%d,%d)=%g", ErrInformationNotSymmetric, i, j, a, j, i, b)
			}
			sym.SetSym(i, j, 0.5*(a+b))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return ErrInformationNotPositiveDefinite
	}

	var u mat.TriDense
	chol.UTo(&u)

	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return fmt.Errorf("%w: %v", ErrInformationNotPositiveDefinite, err)
	}

	for i := 0; i < ResidualDim; i++ {
		for j := 0; j < ResidualDim; j++ {
			e.information[i*ResidualDim+j] = sym.At(i, j)
			e.covariance[i*ResidualDim+j] = cov.At(i, j)
			e.squareRootInformation[i*ResidualDim+j] = u.At(i, j)
		}
	}
	return nil
}

// Measurement returns the measured relative transform T_AB.
func (e *RelativePoseError) Measurement() kinematics.Transformation { return e.measurement }

// Information returns a copy of the information matrix.
func (e *RelativePoseError) Information() *mat.Dense {
	return mat.NewDense(ResidualDim, ResidualDim, append([]float64(nil), e.information[:]...))
}

// Covariance returns a copy of the covariance (inverse information).
func (e *RelativePoseError) Covariance() *mat.Dense {
	return mat.NewDense(ResidualDim, ResidualDim, append([]float64(nil), e.covariance[:]...))
}

// SquareRootInformation returns a copy of the upper-triangular square-root
// information matrix U, with UᵀU equal to the information matrix.
func (e *RelativePoseError) SquareRootInformation() *mat.Dense {
	return mat.NewDense(ResidualDim, ResidualDim, append([]float64(nil), e.squareRootInformation[:]...))
}

// relative holds the intermediate quantities shared by the residual and
// the Jacobians.
type relative struct {
	raw  [ResidualDim]float64
	sign float64 // ±1, hemisphere of the rotation error quaternion
	C_AW kinematics.Mat3
}

func (e *RelativePoseError) compute(T_WA, T_WB kinematics.Transformation) relative {
	T_AW := T_WA.Inverse()
	T_AB := T_AW.Mul(T_WB)

	var rel relative
	rel.C_AW = T_AW.C()

	r := e.measurement.R()
	rHat := T_AB.R()
	rel.raw[0] = r.X - rHat.X
	rel.raw[1] = r.Y - rHat.Y
	rel.raw[2] = r.Z - rHat.Z

	dq := quat.Mul(e.measurement.Q(), quat.Conj(T_AB.Q()))
	rel.sign = 1
	if dq.Real < 0 {
		rel.sign = -1
	}
	rel.raw[3] = 2 * rel.sign * dq.Imag
	rel.raw[4] = 2 * rel.sign * dq.Jmag
	rel.raw[5] = 2 * rel.sign * dq.Kmag
	return rel
}

func (e *RelativePoseError) weigh(raw [ResidualDim]float64) [ResidualDim]float64 {
	var out [ResidualDim]float64
	for i := 0; i < ResidualDim; i++ {
		var s float64
		// U is upper triangular
		for j := i; j < ResidualDim; j++ {
			s += e.squareRootInformation[i*ResidualDim+j] * raw[j]
		}
		out[i] = s
	}
	return out
}

// Residual returns the square-root-information weighted residual for the
// poses T_WA and T_WB.
func (e *RelativePoseError) Residual(T_WA, T_WB kinematics.Transformation) [ResidualDim]float64 {
	return e.weigh(e.compute(T_WA, T_WB).raw)
}

// Cost returns ½‖r‖² for the weighted residual r.
func (e *RelativePoseError) Cost(T_WA, T_WB kinematics.Transformation) float64 {
	r := e.Residual(T_WA, T_WB)
	var s float64
	for _, v := range r {
		s += v * v
	}
	return 0.5 * s
}

// Linearize returns the weighted residual together with its minimal and
// full Jacobians with respect to both poses.
func (e *RelativePoseError) Linearize(T_WA, T_WB kinematics.Transformation) Linearization {
	rel := e.compute(T_WA, T_WB)

	var lin Linearization
	lin.Residual = e.weigh(rel.raw)

	// rotation-rotation block: top-left 3x3 of plus(q_meas ⊗ q_BW) * oplus(q_WA)
	q_BW := quat.Conj(T_WB.Q())
	rot := kinematics.QuatPlus(quat.Mul(e.measurement.Q(), q_BW)).
		Mul(kinematics.QuatOplus(T_WA.Q())).
		TopLeft3().
		Scale(rel.sign)

	transRot := rel.C_AW.Mul(kinematics.CrossMx(r3.Sub(T_WB.R(), T_WA.R()))).Scale(-1)

	var jA, jB [36]float64
	setBlock(&jA, 0, 0, rel.C_AW)
	setBlock(&jA, 0, 3, transRot)
	setBlock(&jA, 3, 3, rot)

	setBlock(&jB, 0, 0, rel.C_AW.Scale(-1))
	setBlock(&jB, 3, 3, rot.Scale(-1))

	lin.MinimalA = e.weighJacobian(jA)
	lin.MinimalB = e.weighJacobian(jB)
	lin.FullA = liftJacobian(lin.MinimalA, T_WA)
	lin.FullB = liftJacobian(lin.MinimalB, T_WB)
	return lin
}

func (e *RelativePoseError) weighJacobian(j [36]float64) MinimalJacobian {
	U := mat.NewDense(ResidualDim, ResidualDim, e.squareRootInformation[:])
	J := mat.NewDense(ResidualDim, kinematics.MinimalDim, j[:])
	var out MinimalJacobian
	dst := mat.NewDense(ResidualDim, kinematics.MinimalDim, out[:])
	dst.Mul(U, J)
	return out
}

// liftJacobian maps a minimal Jacobian onto the 7-parameter representation
// via the pseudo-inverse of the manifold lift.
func liftJacobian(minimal MinimalJacobian, T kinematics.Transformation) FullJacobian {
	lift := kinematics.MinusJacobian(T.Parameters())
	Jmin := mat.NewDense(ResidualDim, kinematics.MinimalDim, minimal[:])
	L := mat.NewDense(kinematics.MinimalDim, kinematics.ParameterDim, lift[:])
	var out FullJacobian
	dst := mat.NewDense(ResidualDim, kinematics.ParameterDim, out[:])
	dst.Mul(Jmin, L)
	return out
}

func setBlock(dst *[36]float64, row, col int, m kinematics.Mat3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dst[(row+i)*6+col+j] = m.At(i, j)
		}
	}
}
