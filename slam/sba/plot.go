package sba

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotCostHistory draws the cost after each accepted iteration. The image format follows the
// extension of path (png, svg, pdf, ...).
func PlotCostHistory(res *Result, path string) error {
	if res == nil || len(res.CostHistory) == 0 {
		return errors.New("no cost history to plot")
	}
	pts := make(plotter.XYs, len(res.CostHistory))
	for i, cost := range res.CostHistory {
		pts[i].X = float64(i)
		pts[i].Y = cost
	}

	p := plot.New()
	p.Title.Text = "bundle adjustment cost"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "mean weighted squared error"
	if err := plotutil.AddLinePoints(p, "cost", pts); err != nil {
		return errors.Wrap(err, "error adding cost line")
	}
	return errors.Wrapf(p.Save(8*vg.Inch, 5*vg.Inch, path), "error saving plot to %q", path)
}
