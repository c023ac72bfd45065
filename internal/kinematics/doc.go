// Package kinematics holds the rigid-body algebra shared by the estimator:
// transforms stored as translation plus unit quaternion, the quaternion
// multiplication matrices used to build analytic Jacobians, and the pose
// manifold (chart and lift maps between the 7-parameter representation and
// the 6-dimensional tangent space).
//
// Quaternion coefficients are ordered (x, y, z, w) wherever they appear as
// vectors or in parameter blocks. Products follow the Hamilton convention
// of gonum's num/quat.
package kinematics
