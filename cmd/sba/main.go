// Package main is the bundle adjustment command line tool.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/sfm/logging"
)

const (
	flagDebug   = "debug"
	flagLogFile = "log-file"

	flagInput  = "input"
	flagOutput = "output"
	flagConfig = "config"
	flagPlot   = "plot"

	flagKeyframes  = "keyframes"
	flagFeatures   = "features"
	flagFixed      = "fixed"
	flagPixelNoise = "pixel-noise"
	flagSeed       = "seed"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runner carries the state shared by every command: the logger built from the global flags.
type runner struct {
	logger  logging.Logger
	logFile io.Closer
}

func (r *runner) before(c *cli.Context) error {
	if c.Bool(flagDebug) {
		r.logger = logging.NewDebugLogger("sba")
	} else {
		r.logger = logging.NewLogger("sba")
	}
	if path := c.String(flagLogFile); path != "" {
		appender, closer := logging.NewFileAppender(path)
		r.logger.AddAppender(appender)
		r.logFile = closer
	}
	return nil
}

func (r *runner) after(_ *cli.Context) error {
	if r.logger == nil {
		return nil
	}
	//nolint:errcheck
	r.logger.Sync()
	if r.logFile != nil {
		return errors.Wrap(r.logFile.Close(), "error closing log file")
	}
	return nil
}

func newApp(out, errOut io.Writer) *cli.App {
	r := &runner{}
	return &cli.App{
		Name:            "sba",
		Usage:           "optimize and inspect sparse bundle adjustment maps",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to a rotated `FILE`",
			},
		},
		Before: r.before,
		After:  r.after,
		Commands: []*cli.Command{
			{
				Name:  "optimize",
				Usage: "run bundle adjustment on a map and save the result",
				Flags: []cli.Flag{
					inputFlag(),
					outputFlag(),
					&cli.StringFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Usage:   "load solver and termination settings from `FILE`",
					},
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "save the cost history plot to `FILE` (.png, .svg or .pdf)",
					},
				},
				Action: r.optimizeAction,
			},
			{
				Name:   "convert",
				Usage:  "convert a map between file formats",
				Flags:  []cli.Flag{inputFlag(), outputFlag()},
				Action: r.convertAction,
			},
			{
				Name:   "stats",
				Usage:  "print map size and reprojection error",
				Flags:  []cli.Flag{inputFlag()},
				Action: r.statsAction,
			},
			{
				Name:  "synth",
				Usage: "generate a noisy synthetic map",
				Flags: []cli.Flag{
					outputFlag(),
					&cli.IntFlag{Name: flagKeyframes, Usage: "number of keyframes"},
					&cli.IntFlag{Name: flagFeatures, Usage: "number of features"},
					&cli.IntFlag{Name: flagFixed, Usage: "number of fixed keyframes"},
					&cli.Float64Flag{Name: flagPixelNoise, Usage: "measurement noise standard deviation in pixels"},
					&cli.Int64Flag{Name: flagSeed, Usage: "random seed"},
				},
				Action: r.synthAction,
			},
		},
	}
}

func inputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     flagInput,
		Aliases:  []string{"i"},
		Required: true,
		Usage:    "read the map from `FILE` (.bin, .json, .yaml or .bson)",
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     flagOutput,
		Aliases:  []string{"o"},
		Required: true,
		Usage:    "write the map to `FILE`; the format follows the extension",
	}
}
