package report

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/vislam/internal/graph"
)

// Dashboard is the content of the interactive HTML report of one run.
type Dashboard struct {
	RunID      string
	Evaluation graph.Evaluation
	States     []graph.State
	// Correspondences is the loop-closure correspondence count per keyframe.
	Correspondences map[graph.StateID]int
	// MinCorrespondences is drawn as the acceptance line of the
	// correspondence chart; zero hides it.
	MinCorrespondences int
}

// RenderDashboard writes d as a standalone HTML page of echarts.
func RenderDashboard(w io.Writer, d Dashboard) error {
	if len(d.States) == 0 {
		return errors.New("dashboard has no states")
	}

	page := components.NewPage()
	page.AddCharts(residualChart(d), trajectoryChart(d))
	if len(d.Correspondences) > 0 {
		page.AddCharts(correspondenceChart(d))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	return nil
}

func residualChart(d Dashboard) *charts.Bar {
	x := make([]string, len(d.Evaluation.Constraints))
	y := make([]opts.BarData, len(d.Evaluation.Constraints))
	norms := d.Evaluation.ResidualNorms()
	for i, c := range d.Evaluation.Constraints {
		x[i] = fmt.Sprintf("%d->%d", c.From, c.To)
		y[i] = opts.BarData{Value: norms[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "SLAM run " + d.RunID, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Weighted residual norm", Subtitle: fmt.Sprintf("total cost %.6g", d.Evaluation.TotalCost)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("|r|", y)
	return bar
}

func trajectoryChart(d Dashboard) *charts.Scatter {
	pts := make([]opts.ScatterData, len(d.States))
	for i, s := range d.States {
		r := s.T_WS.R()
		pts[i] = opts.ScatterData{Value: []interface{}{r.X, r.Y, uint64(s.ID)}}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Keyframe trajectory", Subtitle: fmt.Sprintf("states=%d", len(d.States))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("states", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

func correspondenceChart(d Dashboard) *charts.Bar {
	ids := make([]graph.StateID, 0, len(d.Correspondences))
	for id := range d.Correspondences {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	x := make([]string, len(ids))
	y := make([]opts.BarData, len(ids))
	for i, id := range ids {
		x[i] = fmt.Sprintf("%d", id)
		y[i] = opts.BarData{Value: d.Correspondences[id]}
	}

	subtitle := "per keyframe"
	if d.MinCorrespondences > 0 {
		subtitle = fmt.Sprintf("loop closure needs >= %d", d.MinCorrespondences)
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "2D-3D correspondences", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("correspondences", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}
