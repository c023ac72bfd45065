package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"

	"github.com/banshee-data/vislam/internal/component"
	"github.com/banshee-data/vislam/internal/config"
	"github.com/banshee-data/vislam/internal/fsutil"
	"github.com/banshee-data/vislam/internal/graph"
	"github.com/banshee-data/vislam/internal/loopclosure"
	"github.com/banshee-data/vislam/internal/report"
)

// frameReport is the loop-closure readiness of one keyframe.
type frameReport struct {
	State           graph.StateID
	Correspondences int
	Candidate       bool
}

type inspection struct {
	RunID       string
	Evaluation  graph.Evaluation
	States      []graph.State
	Frames      []frameReport
	MinRequired int
}

// inspect loads the run at path, evaluates its graph and builds a
// correspondence adapter for every keyframe.
func inspect(path string, cfg *config.SlamConfig) (*inspection, error) {
	c, err := component.Load(path)
	if err != nil {
		return nil, err
	}
	g := c.Graph()

	ev, err := g.Evaluate()
	if err != nil {
		return nil, fmt.Errorf("evaluate graph: %w", err)
	}
	log.Printf("Run %s: %d states, %d constraints, total cost %.6g",
		c.RunID, g.NumStates(), len(ev.Constraints), ev.TotalCost)

	rep := &inspection{
		RunID:       c.RunID,
		Evaluation:  ev,
		States:      g.States(),
		MinRequired: cfg.GetMinLoopClosureCorrespondences(),
	}

	ids := make([]graph.StateID, 0, len(c.MultiFrames))
	for id := range c.MultiFrames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		f := c.MultiFrames[id]
		a, err := loopclosure.NewNoncentralAbsoluteAdapter(g.Landmarks(), f.Matches(), c.CameraSystem, f)
		if err != nil {
			return nil, fmt.Errorf("state %d: %w", id, err)
		}
		n := a.NumberCorrespondences()
		rep.Frames = append(rep.Frames, frameReport{State: id, Correspondences: n, Candidate: n >= rep.MinRequired})
	}
	return rep, nil
}

func (r *inspection) print(w io.Writer) {
	fmt.Fprintf(w, "run %s\n", r.RunID)
	fmt.Fprintf(w, "constraints: %d  total cost: %.6g\n", len(r.Evaluation.Constraints), r.Evaluation.TotalCost)
	for i, c := range r.Evaluation.Constraints {
		fmt.Fprintf(w, "  #%d %d->%d cost %.6g\n", i, c.From, c.To, c.Cost)
	}
	fmt.Fprintf(w, "keyframes (loop closure needs >= %d correspondences):\n", r.MinRequired)
	for _, f := range r.Frames {
		status := "rejected"
		if f.Candidate {
			status = "candidate"
		}
		fmt.Fprintf(w, "  state %d: %d correspondences, %s\n", f.State, f.Correspondences, status)
	}
}

// writeCharts renders the optional charts, creating their directories.
func writeCharts(r *inspection, residualPath, trajectoryPath string) error {
	fsys := fsutil.OSFileSystem{}
	if residualPath != "" && len(r.Evaluation.Constraints) > 0 {
		if err := fsys.MkdirAll(filepath.Dir(residualPath), 0o755); err != nil {
			return err
		}
		if err := report.PlotResidualNorms(residualPath, r.Evaluation.ResidualNorms()); err != nil {
			return err
		}
		log.Printf("Wrote residual chart to %s", residualPath)
	}
	if trajectoryPath != "" && len(r.States) > 0 {
		if err := fsys.MkdirAll(filepath.Dir(trajectoryPath), 0o755); err != nil {
			return err
		}
		if err := report.PlotTrajectory(trajectoryPath, r.States); err != nil {
			return err
		}
		log.Printf("Wrote trajectory chart to %s", trajectoryPath)
	}
	return nil
}

// writeDashboard renders the HTML report through fsys; an empty path is a no-op.
func writeDashboard(fsys fsutil.FileSystem, r *inspection, path string) error {
	if path == "" {
		return nil
	}
	d := report.Dashboard{
		RunID:              r.RunID,
		Evaluation:         r.Evaluation,
		States:             r.States,
		Correspondences:    make(map[graph.StateID]int, len(r.Frames)),
		MinCorrespondences: r.MinRequired,
	}
	for _, f := range r.Frames {
		d.Correspondences[f.State] = f.Correspondences
	}

	var buf bytes.Buffer
	if err := report.RenderDashboard(&buf, d); err != nil {
		return err
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	log.Printf("Wrote dashboard to %s", path)
	return nil
}
