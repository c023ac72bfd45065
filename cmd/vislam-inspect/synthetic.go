package main

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vislam/internal/cameras"
	"github.com/banshee-data/vislam/internal/component"
	"github.com/banshee-data/vislam/internal/config"
	"github.com/banshee-data/vislam/internal/frames"
	"github.com/banshee-data/vislam/internal/graph"
	"github.com/banshee-data/vislam/internal/imu"
	"github.com/banshee-data/vislam/internal/kinematics"
	"github.com/banshee-data/vislam/internal/landmarks"
)

const (
	synthStep      = 0.5 // metres between keyframes
	synthWallDepth = 5.0
	synthKeypoint  = 12.0
)

// synthHorizon is the landmark id of a point at infinity seen by every
// keyframe; it never yields a correspondence.
const synthHorizon landmarks.LandmarkID = 1

// synthesizeRun builds a stereo rig driving along x in front of a planar
// wall of landmarks. Consecutive keyframes are linked by slightly perturbed
// odometry; the last keyframe closes the loop back to the first.
func synthesizeRun(n int, cfg *config.SlamConfig) (*component.Component, error) {
	if n < 2 {
		return nil, fmt.Errorf("synthetic run needs at least 2 keyframes, got %d", n)
	}
	rig, err := synthRig()
	if err != nil {
		return nil, err
	}
	c := component.New(imu.DefaultParameters(), rig)
	g := c.Graph()

	wall := synthWall(n)
	g.Landmarks().Set(synthHorizon, landmarks.HomogeneousPoint{0, 0, 1, 0})
	for id, p := range wall {
		g.Landmarks().Set(id, landmarks.NewHomogeneousPoint(p))
	}

	start := time.Unix(0, 0).UTC()
	poses := make([]kinematics.Transformation, n)
	for i := range poses {
		poses[i] = kinematics.NewTransformation(r3.Vec{X: synthStep * float64(i)}, kinematics.Identity().Q())
		id := graph.StateID(i + 1)
		ts := start.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := g.AddState(id, ts, poses[i]); err != nil {
			return nil, err
		}
		f, err := synthFrame(uint64(id), ts, rig, poses[i], wall)
		if err != nil {
			return nil, err
		}
		if err := c.AddMultiFrame(id, f); err != nil {
			return nil, err
		}
	}

	for i := 1; i < n; i++ {
		T_AB := poses[i-1].Inverse().Mul(poses[i]).Plus(synthNoise(i, 1e-3))
		if _, err := g.AddRelativePoseConstraint(graph.StateID(i), graph.StateID(i+1), T_AB,
			cfg.GetOdometryTranslationVariance(), cfg.GetOdometryRotationVariance()); err != nil {
			return nil, err
		}
	}
	T_loop := poses[n-1].Inverse().Mul(poses[0]).Plus(synthNoise(n, 1e-2))
	if _, err := g.AddRelativePoseConstraint(graph.StateID(n), 1, T_loop,
		cfg.GetLoopClosureTranslationVariance(), cfg.GetLoopClosureRotationVariance()); err != nil {
		return nil, err
	}
	return c, nil
}

func synthRig() (*cameras.NCameraSystem, error) {
	rig := cameras.NewNCameraSystem()
	for i := 0; i < 2; i++ {
		cam, err := cameras.NewPinholeCamera(640, 480, 400, 400, 320, 240, cameras.RadialTangentialDistortion{})
		if err != nil {
			return nil, err
		}
		T_SC := kinematics.NewTransformation(r3.Vec{X: 0.1 * float64(i)}, kinematics.Identity().Q())
		if _, err := rig.AddCamera(T_SC, cam); err != nil {
			return nil, err
		}
	}
	return rig, nil
}

// synthWall places landmarks on a 0.5 m grid at z = synthWallDepth.
func synthWall(n int) map[landmarks.LandmarkID]r3.Vec {
	wall := make(map[landmarks.LandmarkID]r3.Vec)
	id := synthHorizon + 1
	xMax := synthStep*float64(n-1) + 2
	for x := -2.0; x <= xMax; x += 0.5 {
		for y := -1.0; y <= 1.0; y += 0.5 {
			wall[id] = r3.Vec{X: x, Y: y, Z: synthWallDepth}
			id++
		}
	}
	return wall
}

// synthFrame observes every wall landmark visible from T_WS, plus the
// horizon point at the image centre of camera 0.
func synthFrame(id uint64, ts time.Time, rig *cameras.NCameraSystem,
	T_WS kinematics.Transformation, wall map[landmarks.LandmarkID]r3.Vec) (*frames.MultiFrame, error) {
	f, err := frames.NewMultiFrame(id, ts, rig)
	if err != nil {
		return nil, err
	}
	for cam := 0; cam < rig.NumCameras(); cam++ {
		T_SC, err := rig.T_SC(cam)
		if err != nil {
			return nil, fmt.Errorf("synthetic frame %d: %w", id, err)
		}
		geom, err := rig.Geometry(cam)
		if err != nil {
			return nil, fmt.Errorf("synthetic frame %d: %w", id, err)
		}
		T_CW := T_WS.Mul(T_SC).Inverse()

		var kps []frames.Keypoint
		var ids []landmarks.LandmarkID
		if cam == 0 {
			kps = append(kps, frames.Keypoint{Point: r2Center(geom), Size: synthKeypoint})
			ids = append(ids, synthHorizon)
		}
		for lm := synthHorizon + 1; lm < synthHorizon+1+landmarks.LandmarkID(len(wall)); lm++ {
			px, ok := geom.Project(T_CW.Apply(wall[lm]))
			if !ok {
				continue
			}
			kps = append(kps, frames.Keypoint{Point: px, Size: synthKeypoint})
			ids = append(ids, lm)
		}
		if err := f.AddKeypoints(cam, kps); err != nil {
			return nil, err
		}
		for k, lm := range ids {
			if err := f.SetLandmarkID(cam, k, lm); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func r2Center(g cameras.Geometry) r2.Vec {
	return r2.Vec{X: float64(g.Width()) / 2, Y: float64(g.Height()) / 2}
}

// synthNoise is a deterministic perturbation of magnitude ~scale.
func synthNoise(seed int, scale float64) [kinematics.MinimalDim]float64 {
	var d [kinematics.MinimalDim]float64
	for i := range d {
		d[i] = scale * math.Sin(float64(seed*7+i*13))
	}
	return d
}
