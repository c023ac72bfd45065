// Package loopclosure prepares loop-closure candidates for absolute pose
// recovery.
//
// NoncentralAbsoluteAdapter gathers, for one multi-camera frame, every
// keypoint associated with a finite landmark of the map and exposes the
// resulting 2D-3D correspondences by index: unit bearing vector in the
// observing camera, Euclidean world point, camera offset and rotation in the
// rig frame and an angular standard deviation derived from the keypoint
// size. Generalized perspective-pose solvers consume this view; the pose
// estimation itself lives outside this package.
//
// Degenerate inputs are not errors. Keypoints without an association,
// associated with the null landmark or with a landmark at infinity are
// skipped. Keypoints the camera model cannot back-project keep the fixed
// bearing (1, 0, 0). Rigs mixing distortion models and geometries without a
// focal length are rejected at construction.
package loopclosure
