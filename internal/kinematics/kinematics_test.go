package kinematics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func randomTransformation(rng *rand.Rand) Transformation {
	r := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
	q := quat.Number{Real: rng.NormFloat64(), Imag: rng.NormFloat64(), Jmag: rng.NormFloat64(), Kmag: rng.NormFloat64()}
	return NewTransformation(r, q)
}

func coeffVec(m Mat4, c [4]float64) [4]float64 {
	var out [4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i] += m[i*4+j] * c[j]
		}
	}
	return out
}

func TestQuatMultiplicationMatrices(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		p := randomTransformation(rng).Q()
		q := randomTransformation(rng).Q()
		want := Coeffs(quat.Mul(p, q))

		gotPlus := coeffVec(QuatPlus(p), Coeffs(q))
		gotOplus := coeffVec(QuatOplus(q), Coeffs(p))
		for k := 0; k < 4; k++ {
			assert.InDelta(t, want[k], gotPlus[k], 1e-12)
			assert.InDelta(t, want[k], gotOplus[k], 1e-12)
		}
	}
}

func TestCrossMx(t *testing.T) {
	t.Parallel()
	a := r3.Vec{X: 1, Y: -2, Z: 0.5}
	b := r3.Vec{X: 0.3, Y: 4, Z: -1}
	got := CrossMx(a).MulVec(b)
	want := r3.Cross(a, b)
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

func TestRotationMatrixMatchesRotate(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 20; i++ {
		T := randomTransformation(rng)
		v := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		a := T.C().MulVec(v)
		b := Rotate(T.Q(), v)
		assert.InDelta(t, 0, r3.Norm(r3.Sub(a, b)), 1e-12)
	}
}

func TestTransformationInverseAndCompose(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		T := randomTransformation(rng)
		assert.True(t, T.Mul(T.Inverse()).Equal(Identity(), 1e-12), "T*T^-1 != I for %v", T)

		U := randomTransformation(rng)
		p := r3.Vec{X: 1, Y: 2, Z: 3}
		lhs := T.Mul(U).Apply(p)
		rhs := T.Apply(U.Apply(p))
		assert.InDelta(t, 0, r3.Norm(r3.Sub(lhs, rhs)), 1e-12)
	}
}

func TestTransformationFromParametersNormalises(t *testing.T) {
	t.Parallel()
	T := TransformationFromParameters([7]float64{1, 2, 3, 0, 0, 0, 5})
	assert.InDelta(t, 1.0, quat.Abs(T.Q()), 1e-15)
	assert.True(t, T.Equal(NewTransformation(r3.Vec{X: 1, Y: 2, Z: 3}, quat.Number{Real: 1}), 1e-15))

	_, err := TransformationFromSlice([]float64{1, 2, 3})
	require.Error(t, err)
}

func TestTransformationFromSliceRejectsDegenerateRotation(t *testing.T) {
	t.Parallel()
	for name, p := range map[string][]float64{
		"zero":        {1, 2, 3, 0, 0, 0, 0},
		"nan":         {1, 2, 3, math.NaN(), 0, 0, 1},
		"inf":         {1, 2, 3, 0, 0, 0, math.Inf(1)},
		"translation": {math.NaN(), 0, 0, 0, 0, 0, 1},
	} {
		_, err := TransformationFromSlice(p)
		assert.ErrorIs(t, err, ErrInvalidQuaternion, name)
	}

	T, err := TransformationFromSlice([]float64{1, 2, 3, 0, 0, 0, -2})
	require.NoError(t, err)
	assert.True(t, T.Equal(NewTransformation(r3.Vec{X: 1, Y: 2, Z: 3}, quat.Number{Real: 1}), 1e-15))
}

func TestEqualTreatsDoubleCoverAsSame(t *testing.T) {
	t.Parallel()
	q := quat.Number{Real: 0, Imag: 1}
	a := NewTransformation(r3.Vec{}, q)
	b := NewTransformation(r3.Vec{}, quat.Scale(-1, q))
	assert.True(t, a.Equal(b, 1e-12))

	c := NewTransformation(r3.Vec{X: 1e-3}, q)
	assert.False(t, a.Equal(c, 1e-6))
}

func TestDeltaQSmallAndLargeAngles(t *testing.T) {
	t.Parallel()
	for _, theta := range []float64{0, 1e-9, 1e-4, 0.5, math.Pi / 2} {
		axis := r3.Unit(r3.Vec{X: 1, Y: 2, Z: -1})
		dq := DeltaQ(r3.Scale(theta, axis))
		assert.InDelta(t, 1.0, quat.Abs(dq), 1e-12)
		assert.InDelta(t, math.Cos(theta/2), dq.Real, 1e-12)
		assert.InDelta(t, math.Sin(theta/2)*axis.X, dq.Imag, 1e-12)
	}
}

func TestManifoldPlusMinusRoundTrip(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 20; i++ {
		x := randomTransformation(rng).Parameters()
		delta := [6]float64{0.1, -0.2, 0.05, 0.01, -0.02, 0.015}
		y := ManifoldPlus(x, delta)
		got := ManifoldMinus(y, x)
		for k := 0; k < 3; k++ {
			assert.InDelta(t, delta[k], got[k], 1e-12)
		}
		// small-angle chart: 2*sin(θ/2)*axis ≈ δα
		for k := 3; k < 6; k++ {
			assert.InDelta(t, delta[k], got[k], 1e-5)
		}
	}
}

func TestManifoldMinusIgnoresQuaternionSign(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(5))
	x := randomTransformation(rng).Parameters()
	y := ManifoldPlus(x, [6]float64{0, 0, 0, 0.02, 0.01, -0.03})
	yNeg := y
	for k := 3; k < 7; k++ {
		yNeg[k] = -yNeg[k]
	}
	assert.Equal(t, ManifoldMinus(y, x), ManifoldMinus(yNeg, x))
}

func TestMinusJacobianIsLeftInverseOfPlusJacobian(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(6))
	for i := 0; i < 20; i++ {
		x := randomTransformation(rng).Parameters()
		Jp := PlusJacobian(x)
		Jm := MinusJacobian(x)
		for r := 0; r < 6; r++ {
			for c := 0; c < 6; c++ {
				var s float64
				for k := 0; k < 7; k++ {
					s += Jm[r*7+k] * Jp[k*6+c]
				}
				want := 0.0
				if r == c {
					want = 1
				}
				assert.InDelta(t, want, s, 1e-12, "entry (%d,%d)", r, c)
			}
		}
	}
}

func TestPlusJacobianMatchesFiniteDifference(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	x := randomTransformation(rng).Parameters()
	J := PlusJacobian(x)
	const h = 1e-7
	for c := 0; c < 6; c++ {
		var dp, dm [6]float64
		dp[c], dm[c] = h, -h
		yp := ManifoldPlus(x, dp)
		ym := ManifoldPlus(x, dm)
		for r := 0; r < 7; r++ {
			fd := (yp[r] - ym[r]) / (2 * h)
			assert.InDelta(t, J[r*6+c], fd, 1e-6, "entry (%d,%d)", r, c)
		}
	}
}
