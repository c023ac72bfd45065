// Package sqlite persists SLAM runs in a single SQLite file.
//
// A run is the camera rig and IMU calibration, the pose graph (states,
// landmarks, relative-pose constraints) and the multi-frames observed at
// each state. One file holds one run; SaveRun replaces the previous run in
// a single transaction. The schema is versioned with golang-migrate using
// migrations embedded in the binary.
package sqlite
