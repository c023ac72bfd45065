// Package imu describes the inertial sensor model of a SLAM run.
package imu

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vislam/internal/kinematics"
)

// Parameters is the IMU noise and saturation model. Continuous-time noise
// densities carry the _c suffix.
type Parameters struct {
	AccelerationMax  float64 // a_max [m/s²]
	AngularRateMax   float64 // g_max [rad/s]
	SigmaGyroC       float64 // sigma_g_c [rad/s/√Hz]
	SigmaAccelC      float64 // sigma_a_c [m/s²/√Hz]
	SigmaGyroBias    float64 // sigma_bg, prior [rad/s]
	SigmaAccelBias   float64 // sigma_ba, prior [m/s²]
	SigmaGyroDriftC  float64 // sigma_gw_c [rad/s²/√Hz]
	SigmaAccelDriftC float64 // sigma_aw_c [m/s³/√Hz]
	Gravity          float64 // g [m/s²]
	GyroBiasPrior    r3.Vec  // g0 [rad/s]
	AccelBiasPrior   r3.Vec  // a0 [m/s²]
	Rate             int     // [Hz]
	T_BS             kinematics.Transformation
}

// DefaultParameters returns a consumer-grade MEMS IMU model sampled at 200 Hz
// with the body frame coinciding with the sensor frame.
func DefaultParameters() Parameters {
	return Parameters{
		AccelerationMax:  200,
		AngularRateMax:   10,
		SigmaGyroC:       12.0e-4,
		SigmaAccelC:      8.0e-3,
		SigmaGyroBias:    0.03,
		SigmaAccelBias:   0.1,
		SigmaGyroDriftC:  4.0e-6,
		SigmaAccelDriftC: 4.0e-5,
		Gravity:          9.81007,
		Rate:             200,
		T_BS:             kinematics.Identity(),
	}
}

// Validate checks that every noise term is positive and finite.
func (p Parameters) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"a_max", p.AccelerationMax},
		{"g_max", p.AngularRateMax},
		{"sigma_g_c", p.SigmaGyroC},
		{"sigma_a_c", p.SigmaAccelC},
		{"sigma_bg", p.SigmaGyroBias},
		{"sigma_ba", p.SigmaAccelBias},
		{"sigma_gw_c", p.SigmaGyroDriftC},
		{"sigma_aw_c", p.SigmaAccelDriftC},
		{"g", p.Gravity},
	}
	var errs []error
	for _, f := range positive {
		if !(f.v > 0) || math.IsInf(f.v, 0) {
			errs = append(errs, fmt.Errorf("%s must be positive and finite, got %g", f.name, f.v))
		}
	}
	if p.Rate <= 0 {
		errs = append(errs, fmt.Errorf("rate must be positive, got %d", p.Rate))
	}
	return errors.Join(errs...)
}
