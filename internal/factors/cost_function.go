package factors

import (
	"fmt"

	"github.com/banshee-data/vislam/internal/kinematics"
)

// CostFunction is the raw block interface consumed by nonlinear
// least-squares solvers. Parameters are passed as flat blocks, Jacobians are
// row-major, and any nil output slot is skipped.
type CostFunction interface {
	NumResiduals() int
	ParameterBlockSizes() []int
	MinimalBlockSizes() []int
	EvaluateBlocks(parameters [][]float64, residuals []float64, jacobians, jacobiansMinimal [][]float64) error
}

var _ CostFunction = (*RelativePoseError)(nil)

// NumResiduals implements CostFunction.
func (e *RelativePoseError) NumResiduals() int { return ResidualDim }

// ParameterBlockSizes implements CostFunction: two 7-parameter poses.
func (e *RelativePoseError) ParameterBlockSizes() []int {
	return []int{kinematics.ParameterDim, kinematics.ParameterDim}
}

// MinimalBlockSizes implements CostFunction: two 6-dimensional tangent spaces.
func (e *RelativePoseError) MinimalBlockSizes() []int {
	return []int{kinematics.MinimalDim, kinematics.MinimalDim}
}

// EvaluateBlocks implements CostFunction. parameters holds T_WA and T_WB as
// (tx, ty, tz, qx, qy, qz, qw); quaternions are re-normalised on read.
// jacobians and jacobiansMinimal may be nil, as may each of their entries.
func (e *RelativePoseError) EvaluateBlocks(parameters [][]float64, residuals []float64, jacobians, jacobiansMinimal [][]float64) error {
	if len(parameters) != 2 {
		return fmt.Errorf("%w: expected 2 parameter blocks, got %d", ErrParameterBlock, len(parameters))
	}
	if len(residuals) != ResidualDim {
		return fmt.Errorf("%w: residual buffer has %d entries, want %d", ErrParameterBlock, len(residuals), ResidualDim)
	}
	if err := checkOutputs(jacobians, ResidualDim*kinematics.ParameterDim); err != nil {
		return err
	}
	if err := checkOutputs(jacobiansMinimal, ResidualDim*kinematics.MinimalDim); err != nil {
		return err
	}

	T_WA, err := kinematics.TransformationFromSlice(parameters[0])
	if err != nil {
		return fmt.Errorf("%w: block 0: %w", ErrParameterBlock, err)
	}
	T_WB, err := kinematics.TransformationFromSlice(parameters[1])
	if err != nil {
		return fmt.Errorf("%w: block 1: %w", ErrParameterBlock, err)
	}

	if !wantsAny(jacobians) && !wantsAny(jacobiansMinimal) {
		r := e.Residual(T_WA, T_WB)
		copy(residuals, r[:])
		return nil
	}

	lin := e.Linearize(T_WA, T_WB)
	copy(residuals, lin.Residual[:])
	if jacobians != nil {
		if jacobians[0] != nil {
			copy(jacobians[0], lin.FullA[:])
		}
		if jacobians[1] != nil {
			copy(jacobians[1], lin.FullB[:])
		}
	}
	if jacobiansMinimal != nil {
		if jacobiansMinimal[0] != nil {
			copy(jacobiansMinimal[0], lin.MinimalA[:])
		}
		if jacobiansMinimal[1] != nil {
			copy(jacobiansMinimal[1], lin.MinimalB[:])
		}
	}
	return nil
}

func checkOutputs(blocks [][]float64, size int) error {
	if blocks == nil {
		return nil
	}
	if len(blocks) != 2 {
		return fmt.Errorf("%w: expected 2 jacobian slots, got %d", ErrParameterBlock, len(blocks))
	}
	for i, b := range blocks {
		if b != nil && len(b) != size {
			return fmt.Errorf("%w: jacobian %d has %d entries, want %d", ErrParameterBlock, i, len(b), size)
		}
	}
	return nil
}

func wantsAny(blocks [][]float64) bool {
	for _, b := range blocks {
		if b != nil {
			return true
		}
	}
	return false
}
