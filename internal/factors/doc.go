// Package factors implements error terms for the pose graph.
//
// RelativePoseError ties two 6-DoF poses to a measured relative transform.
// It exposes a pure evaluation API (Residual, Linearize) returning weighted
// residuals and analytic Jacobians, and a raw block API (EvaluateBlocks)
// for solvers that pass flat parameter and Jacobian buffers.
//
// Residuals and Jacobians are pre-multiplied by the upper-triangular
// square-root information matrix, so the cost is a plain sum of squares.
package factors
