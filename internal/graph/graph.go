// Package graph holds the pose graph a SLAM run optimises: keyframe states,
// the shared landmark map and relative-pose constraints between states.
//
// The graph only stores and evaluates; the optimisation loop belongs to an
// external solver that consumes the factors' cost-function contract.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/vislam/internal/factors"
	"github.com/banshee-data/vislam/internal/kinematics"
	"github.com/banshee-data/vislam/internal/landmarks"
)

var (
	// ErrUnknownState is returned for a state id the graph does not hold.
	ErrUnknownState = errors.New("unknown state")
	// ErrDuplicateState is returned when adding a state id twice.
	ErrDuplicateState = errors.New("state already exists")
)

// StateID identifies a keyframe state. It matches the id of the multi-frame
// observed at that state.
type StateID uint64

// State is a keyframe pose T_WS (sensor frame to world frame).
type State struct {
	ID        StateID
	Timestamp time.Time
	T_WS      kinematics.Transformation
}

// Constraint is a relative-pose factor between two states.
type Constraint struct {
	From  StateID
	To    StateID
	Error *factors.RelativePoseError
}

// ConstraintEvaluation is the weighted residual and cost of one constraint
// at the current state estimates.
type ConstraintEvaluation struct {
	From     StateID
	To       StateID
	Residual [factors.ResidualDim]float64
	Cost     float64
}

// Evaluation summarises all constraints of a graph.
type Evaluation struct {
	Constraints []ConstraintEvaluation
	TotalCost   float64
}

// Graph is safe for concurrent use.
type Graph struct {
	mu          sync.RWMutex
	states      map[StateID]State
	landmarks   *landmarks.MapStore
	constraints []Constraint
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		states:    make(map[StateID]State),
		landmarks: landmarks.NewMapStore(),
	}
}

// AddState inserts a new keyframe state.
func (g *Graph) AddState(id StateID, timestamp time.Time, T_WS kinematics.Transformation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.states[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateState, id)
	}
	g.states[id] = State{ID: id, Timestamp: timestamp, T_WS: T_WS}
	return nil
}

// State returns the state with the given id.
func (g *Graph) State(id StateID) (State, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.states[id]
	return s, ok
}

// SetPose replaces the pose estimate of an existing state.
func (g *Graph) SetPose(id StateID, T_WS kinematics.Transformation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.states[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownState, id)
	}
	s.T_WS = T_WS
	g.states[id] = s
	return nil
}

// NumStates returns the number of states.
func (g *Graph) NumStates() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.states)
}

// States returns all states ordered by id.
func (g *Graph) States() []State {
	g.mu.RLock()
	out := make([]State, 0, len(g.states))
	for _, s := range g.states {
		out = append(out, s)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Landmarks returns the landmark map shared by every consumer of the graph.
func (g *Graph) Landmarks() *landmarks.MapStore { return g.landmarks }

// AddRelativePoseConstraint adds a constraint measuring T_AB between states
// from (A) and to (B) with block-diagonal information built from the
// translation and rotation variances. It returns the constraint index.
func (g *Graph) AddRelativePoseConstraint(from, to StateID, T_AB kinematics.Transformation, translationVariance, rotationVariance float64) (int, error) {
	e, err := factors.NewRelativePoseErrorFromVariances(translationVariance, rotationVariance, T_AB)
	if err != nil {
		return 0, fmt.Errorf("constraint %d->%d: %w", from, to, err)
	}
	return g.addConstraint(from, to, e)
}

// AddRelativePoseConstraintWithInformation is AddRelativePoseConstraint with
// a full 6x6 information matrix over (translation, rotation).
func (g *Graph) AddRelativePoseConstraintWithInformation(from, to StateID, T_AB kinematics.Transformation, information mat.Matrix) (int, error) {
	e, err := factors.NewRelativePoseError(information, T_AB)
	if err != nil {
		return 0, fmt.Errorf("constraint %d->%d: %w", from, to, err)
	}
	return g.addConstraint(from, to, e)
}

func (g *Graph) addConstraint(from, to StateID, e *factors.RelativePoseError) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range []StateID{from, to} {
		if _, ok := g.states[id]; !ok {
			return 0, fmt.Errorf("constraint %d->%d: %w: %d", from, to, ErrUnknownState, id)
		}
	}
	g.constraints = append(g.constraints, Constraint{From: from, To: to, Error: e})
	return len(g.constraints) - 1, nil
}

// Constraints returns a copy of the constraint list. Error terms are
// immutable and shared.
func (g *Graph) Constraints() []Constraint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Constraint(nil), g.constraints...)
}

// Evaluate computes every constraint's weighted residual and cost at the
// current pose estimates.
func (g *Graph) Evaluate() (Evaluation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ev := Evaluation{Constraints: make([]ConstraintEvaluation, 0, len(g.constraints))}
	for i, c := range g.constraints {
		a, okA := g.states[c.From]
		b, okB := g.states[c.To]
		if !okA || !okB {
			return Evaluation{}, fmt.Errorf("constraint %d: %w", i, ErrUnknownState)
		}
		r := c.Error.Residual(a.T_WS, b.T_WS)
		cost := 0.5 * floats.Dot(r[:], r[:])
		ev.Constraints = append(ev.Constraints, ConstraintEvaluation{From: c.From, To: c.To, Residual: r, Cost: cost})
		ev.TotalCost += cost
	}
	return ev, nil
}

// ResidualNorms returns the Euclidean norm of each constraint's residual.
func (e Evaluation) ResidualNorms() []float64 {
	out := make([]float64, len(e.Constraints))
	for i, c := range e.Constraints {
		out[i] = floats.Norm(c.Residual[:], 2)
	}
	return out
}
