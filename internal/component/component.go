// Package component is the persisted container of a SLAM run: calibration,
// pose graph and the multi-frames observed at each state.
package component

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vislam/internal/cameras"
	"github.com/banshee-data/vislam/internal/frames"
	"github.com/banshee-data/vislam/internal/graph"
	"github.com/banshee-data/vislam/internal/imu"
	"github.com/banshee-data/vislam/internal/monitoring"
	"github.com/banshee-data/vislam/internal/storage/sqlite"
)

// ErrNoGraph is returned when a component is used without a graph.
var ErrNoGraph = errors.New("component has no graph")

var logf = monitoring.Prefixed("[component] ")

// Component holds one SLAM run. The graph is either owned (created by New or
// Load) or referenced (passed to NewWithGraph, where another component such
// as the live estimator keeps optimising it). Multi-frames are always owned.
//
// Component does no locking of its own; the graph guards itself.
type Component struct {
	RunID         string
	CreatedAt     time.Time
	ImuParameters imu.Parameters
	CameraSystem  *cameras.NCameraSystem
	MultiFrames   map[graph.StateID]*frames.MultiFrame

	graph     *graph.Graph
	ownsGraph bool
}

// New returns a component owning a fresh, empty graph.
func New(imuParameters imu.Parameters, cameraSystem *cameras.NCameraSystem) *Component {
	return &Component{
		RunID:         uuid.NewString(),
		CreatedAt:     time.Now(),
		ImuParameters: imuParameters,
		CameraSystem:  cameraSystem,
		MultiFrames:   make(map[graph.StateID]*frames.MultiFrame),
		graph:         graph.New(),
		ownsGraph:     true,
	}
}

// NewWithGraph returns a component referencing g and taking ownership of
// multiFrames.
func NewWithGraph(imuParameters imu.Parameters, cameraSystem *cameras.NCameraSystem,
	g *graph.Graph, multiFrames map[graph.StateID]*frames.MultiFrame) (*Component, error) {
	if g == nil {
		return nil, ErrNoGraph
	}
	if multiFrames == nil {
		multiFrames = make(map[graph.StateID]*frames.MultiFrame)
	}
	return &Component{
		RunID:         uuid.NewString(),
		CreatedAt:     time.Now(),
		ImuParameters: imuParameters,
		CameraSystem:  cameraSystem,
		MultiFrames:   multiFrames,
		graph:         g,
	}, nil
}

// Graph returns the graph of this run.
func (c *Component) Graph() *graph.Graph { return c.graph }

// OwnsGraph reports whether the graph was created by this component.
func (c *Component) OwnsGraph() bool { return c.ownsGraph }

// AddMultiFrame stores the frame observed at state id, which must exist in
// the graph.
func (c *Component) AddMultiFrame(id graph.StateID, f *frames.MultiFrame) error {
	if c.graph == nil {
		return ErrNoGraph
	}
	if _, ok := c.graph.State(id); !ok {
		return fmt.Errorf("multiframe %d: %w: %d", f.ID(), graph.ErrUnknownState, id)
	}
	c.MultiFrames[id] = f
	return nil
}

// Save writes the run to the SQLite file at path, replacing any run it
// already holds.
func (c *Component) Save(path string) error {
	if c.graph == nil {
		return ErrNoGraph
	}
	if c.CameraSystem == nil {
		return errors.New("save component: camera system is required")
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveRun(&sqlite.Snapshot{
		RunID:       c.RunID,
		CreatedAt:   c.CreatedAt,
		Imu:         c.ImuParameters,
		Cameras:     c.CameraSystem,
		Graph:       c.graph,
		MultiFrames: c.MultiFrames,
	}); err != nil {
		return fmt.Errorf("save component %s: %w", c.RunID, err)
	}
	return nil
}

// Load replaces the contents of c with the run stored at path. The loaded
// graph is owned by c. On error c is left unchanged.
func (c *Component) Load(path string) error {
	store, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.LoadRun()
	if err != nil {
		return fmt.Errorf("load component from %s: %w", path, err)
	}
	if err := snap.Imu.Validate(); err != nil {
		logf("run %s: stored imu parameters are invalid: %v", snap.RunID, err)
	}

	c.RunID = snap.RunID
	c.CreatedAt = snap.CreatedAt
	c.ImuParameters = snap.Imu
	c.CameraSystem = snap.Cameras
	c.MultiFrames = snap.MultiFrames
	c.graph = snap.Graph
	c.ownsGraph = true
	return nil
}

// Load reads a component from path.
func Load(path string) (*Component, error) {
	c := &Component{}
	if err := c.Load(path); err != nil {
		return nil, err
	}
	return c, nil
}
