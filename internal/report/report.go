// Package report renders diagnostic charts for a SLAM run.
package report

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/vislam/internal/graph"
)

var (
	barColor        = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	trajectoryColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// PlotResidualNorms writes a bar chart of per-constraint weighted residual
// norms to path. The image format follows the file extension.
func PlotResidualNorms(path string, norms []float64) error {
	if len(norms) == 0 {
		return errors.New("no residuals to plot")
	}

	p := plot.New()
	p.Title.Text = "Relative pose constraints - weighted residual norm"
	p.X.Label.Text = "Constraint"
	p.Y.Label.Text = "|r|"

	bars, err := plotter.NewBarChart(plotter.Values(norms), vg.Points(8))
	if err != nil {
		return err
	}
	bars.Color = barColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.Add(plotter.NewGrid())

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save residual plot: %w", err)
	}
	return nil
}

// PlotTrajectory writes the x-y projection of the state positions, in id
// order, to path.
func PlotTrajectory(path string, states []graph.State) error {
	if len(states) == 0 {
		return errors.New("no states to plot")
	}

	pts := make(plotter.XYs, len(states))
	for i, s := range states {
		r := s.T_WS.R()
		pts[i] = plotter.XY{X: r.X, Y: r.Y}
	}

	p := plot.New()
	p.Title.Text = "Keyframe trajectory"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	line, scatter, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.Color = trajectoryColor
	line.Width = vg.Points(1)
	scatter.GlyphStyle.Color = trajectoryColor
	p.Add(line, scatter, plotter.NewGrid())

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}
