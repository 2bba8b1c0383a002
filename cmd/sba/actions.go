package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/sfm/config"
	"go.viam.com/sfm/slam"
	"go.viam.com/sfm/slam/sba"
)

func (r *runner) optimizeAction(c *cli.Context) error {
	solverCfg := sba.NewDefaultConfig()
	criteria := sba.TerminationCriteria(sba.NewCountAndCostDelta(config.DefaultMaxIterations, config.DefaultCostDelta))
	if path := c.String(flagConfig); path != "" {
		cfg, err := config.Read(path)
		if err != nil {
			return err
		}
		if solverCfg, err = cfg.SolverConfig(); err != nil {
			return err
		}
		criteria = cfg.Criteria()
	}

	m, err := slam.LoadFile(c.String(flagInput), r.logger.Sublogger("map"))
	if err != nil {
		return err
	}
	solver, err := sba.New(solverCfg, r.logger.Sublogger("solver"))
	if err != nil {
		return err
	}
	res, err := solver.Optimize(c.Context, m, criteria)
	if err != nil {
		return err
	}
	if err := m.SaveFile(c.String(flagOutput)); err != nil {
		return err
	}
	if path := c.String(flagPlot); path != "" {
		if err := sba.PlotCostHistory(res, path); err != nil {
			return err
		}
	}
	printResult(c.App.Writer, res)
	return nil
}

func (r *runner) convertAction(c *cli.Context) error {
	m, err := slam.LoadFile(c.String(flagInput), r.logger.Sublogger("map"))
	if err != nil {
		return err
	}
	return m.SaveFile(c.String(flagOutput))
}

func (r *runner) statsAction(c *cli.Context) error {
	m, err := slam.LoadFile(c.String(flagInput), r.logger.Sublogger("map"))
	if err != nil {
		return err
	}
	stats, err := sba.NewReprojectionStats(m)
	if err != nil {
		return err
	}

	summary := table.NewWriter()
	summary.SetOutputMirror(c.App.Writer)
	summary.AppendHeader(table.Row{"Keyframes", "Features", "Measurements", "Behind", "Mean", "Median", "RMS", "P95", "Max"})
	summary.AppendRow(table.Row{
		m.NumKeyframes(), m.NumFeatures(), m.MeasurementCount(), stats.Behind,
		fmt.Sprintf("%.4f", stats.Mean),
		fmt.Sprintf("%.4f", stats.Median),
		fmt.Sprintf("%.4f", stats.RMS),
		fmt.Sprintf("%.4f", stats.P95),
		fmt.Sprintf("%.4f", stats.Max),
	})
	summary.Render()

	perKeyframe := table.NewWriter()
	perKeyframe.SetOutputMirror(c.App.Writer)
	perKeyframe.AppendHeader(table.Row{"Keyframe", "Fixed", "Measurements", "RMS"})
	for _, kf := range stats.Keyframes {
		fixed := false
		if keyframe, err := m.KeyframeForID(kf.ID); err == nil {
			fixed = keyframe.Fixed()
		}
		perKeyframe.AppendRow(table.Row{kf.ID, fixed, kf.Count, fmt.Sprintf("%.4f", kf.RMS)})
	}
	perKeyframe.Render()
	return nil
}

func (r *runner) synthAction(c *cli.Context) error {
	params := slam.DefaultSceneParams()
	if c.IsSet(flagKeyframes) {
		params.NumKeyframes = c.Int(flagKeyframes)
	}
	if c.IsSet(flagFeatures) {
		params.NumFeatures = c.Int(flagFeatures)
	}
	if c.IsSet(flagFixed) {
		params.NumFixed = c.Int(flagFixed)
	}
	if c.IsSet(flagPixelNoise) {
		params.PixelNoise = c.Float64(flagPixelNoise)
	}
	if c.IsSet(flagSeed) {
		params.Seed = c.Int64(flagSeed)
	}
	scene, err := slam.GenerateScene(params, r.logger.Sublogger("map"))
	if err != nil {
		return errors.Wrap(err, "error generating scene")
	}
	return scene.Map.SaveFile(c.String(flagOutput))
}

func printResult(w io.Writer, res *sba.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Initial cost", "Final cost", "Iterations", "Rejections", "Numeric failures", "Lambda", "Stationary"})
	t.AppendRow(table.Row{
		fmt.Sprintf("%.6g", res.InitialCost),
		fmt.Sprintf("%.6g", res.Cost),
		res.Iterations, res.Rejections, res.NumericFailures,
		fmt.Sprintf("%.3g", res.Lambda),
		res.Stationary,
	})
	t.Render()
}
