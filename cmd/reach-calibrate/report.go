package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/reach-arm/reachd/internal/calib"
)

// writeResidualPlot renders residual-vs-yaw as a PNG scatter so an operator
// can spot a bad sample or a poorly chosen split at a glance.
func writeResidualPlot(path string, samples []calib.Sample, splitDeg float64, result calib.FitResult) error {
	residuals := calib.Residuals(samples, splitDeg, result)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Fit residuals (pivot %.1f, %.1f)", result.Pivot.X, result.Pivot.Y)
	p.X.Label.Text = "yaw (deg)"
	p.Y.Label.Text = "residual (deg)"

	pts := make(plotter.XYs, len(residuals))
	for i, r := range residuals {
		pts[i] = plotter.XY{X: r.YawDeg, Y: r.ResidualDeg}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.Radius = vg.Points(3)
	p.Add(scatter, plotter.NewGrid())

	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}

// writeHTMLReport renders the fitted mapping against the samples: measured
// servo angles as a scatter over the split-linear prediction line.
func writeHTMLReport(path string, samples []calib.Sample, splitDeg float64, result calib.FitResult) error {
	residuals := calib.Residuals(samples, splitDeg, result)
	sort.Slice(residuals, func(i, j int) bool { return residuals[i].YawDeg < residuals[j].YawDeg })

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Yaw mapping fit",
			Width:     "1000px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: "Yaw to base-servo mapping",
			Subtitle: fmt.Sprintf(
				"pivot (%.1f, %.1f) mm · split %.0f° · slopes %.3f / %.3f · rms %.3f°",
				result.Pivot.X, result.Pivot.Y, splitDeg,
				result.ScaleLow, result.ScaleHigh, result.RMS,
			),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "yaw (deg)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "servo (deg)"}),
	)

	xs := make([]string, len(residuals))
	predicted := make([]opts.LineData, len(residuals))
	measured := make([]opts.LineData, len(residuals))
	for i, r := range residuals {
		xs[i] = fmt.Sprintf("%.1f", r.YawDeg)
		predicted[i] = opts.LineData{Value: r.PredictedDeg}
		measured[i] = opts.LineData{Value: r.ServoDeg, Symbol: "circle", SymbolSize: 8}
	}
	line.SetXAxis(xs).
		AddSeries("fitted", predicted).
		AddSeries("measured", measured, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}
