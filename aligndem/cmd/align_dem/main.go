// Package main aligns a DEM to another one using a pair of orthoimages registered to them.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"go.viam.com/demalign/aligndem"
	"go.viam.com/demalign/logging"
)

const (
	// Flags.
	flagMaxMatchPoints   = "max-match-points"
	flagDefaultValue     = "default-value"
	flagOutputPrefix     = "output-prefix"
	flagTileSize         = "tile-size"
	flagInlierThreshold  = "inlier-threshold"
	flagRANSACIterations = "ransac-iterations"
	flagSeed             = "seed"
	flagConfig           = "config"
	flagDebug            = "debug"
	flagWriteInliers     = "write-inliers"
	flagMatchPlot        = "match-plot"
	flagResidualPlot     = "residual-plot"
	flagQuiet            = "quiet"
)

type runFunc func(ctx context.Context, cfg aligndem.Config, logger logging.Logger) error

func main() {
	app := newApp(func(ctx context.Context, cfg aligndem.Config, logger logging.Logger) error {
		res, err := aligndem.Run(ctx, cfg, logger)
		if err != nil {
			return err
		}
		if !cfg.Quiet {
			fmt.Println(res.Table())
		}
		return nil
	})
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if aligndem.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newApp(run runFunc) *cli.App {
	defaults := aligndem.DefaultConfig()
	return &cli.App{
		Name:      "align_dem",
		Usage:     "align a DEM to another one using matched orthoimages",
		ArgsUsage: "<dem1> <ortho1> <dem2> <ortho2>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  flagMaxMatchPoints,
				Value: defaults.MaxMatchPoints,
				Usage: "maximum number of correspondences used to fit the transform",
			},
			&cli.Float64Flag{
				Name:  flagDefaultValue,
				Usage: "no-data value of the first DEM, overriding the one it declares",
			},
			&cli.StringFlag{
				Name:    flagOutputPrefix,
				Aliases: []string{"o"},
				Usage:   "prefix of the output files (default: the first DEM without its extension)",
			},
			&cli.IntFlag{
				Name:  flagTileSize,
				Value: defaults.TileSize,
				Usage: "side of the output point cloud tiles, a multiple of 16",
			},
			&cli.Float64Flag{
				Name:  flagInlierThreshold,
				Value: defaults.InlierThreshold,
				Usage: "largest residual of an inlier, in meters",
			},
			&cli.IntFlag{
				Name:  flagRANSACIterations,
				Value: defaults.RANSACIterations,
				Usage: "number of RANSAC iterations",
			},
			&cli.Int64Flag{
				Name:  flagSeed,
				Usage: "seed for RANSAC sampling, for reproducible runs",
			},
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`; flags override it",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagWriteInliers,
				Usage: "write the inlier points of the first DEM as a pcd file",
			},
			&cli.BoolFlag{
				Name:  flagMatchPlot,
				Usage: "draw the correspondences between the orthoimages",
			},
			&cli.BoolFlag{
				Name:  flagResidualPlot,
				Usage: "plot a histogram of the inlier residuals",
			},
			&cli.BoolFlag{
				Name:    flagQuiet,
				Aliases: []string{"q"},
				Usage:   "hide progress bars and the summary",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := configFromContext(c)
			if err != nil {
				return err
			}
			logger := logging.NewLogger("align_dem")
			if c.Bool(flagDebug) {
				logger.SetLevel(logging.DEBUG)
			}
			defer utils.UncheckedErrorFunc(logger.Sync)
			return run(c.Context, cfg, logger)
		},
	}
}

// configFromContext layers positional arguments and explicitly set flags over the config file,
// or over the defaults when there is none.
func configFromContext(c *cli.Context) (aligndem.Config, error) {
	cfg := aligndem.DefaultConfig()
	if path := c.String(flagConfig); path != "" {
		loaded, err := aligndem.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}

	switch c.NArg() {
	case 0:
	case 4:
		cfg.DEM1, cfg.Ortho1, cfg.DEM2, cfg.Ortho2 = c.Args().Get(0), c.Args().Get(1), c.Args().Get(2), c.Args().Get(3)
	default:
		return cfg, &aligndem.ConfigError{Err: errors.Errorf("expected 4 arguments %s, got %d", c.App.ArgsUsage, c.NArg())}
	}

	if c.IsSet(flagMaxMatchPoints) {
		cfg.MaxMatchPoints = c.Int(flagMaxMatchPoints)
	}
	if c.IsSet(flagDefaultValue) {
		v := c.Float64(flagDefaultValue)
		cfg.DefaultValue = &v
	}
	if c.IsSet(flagOutputPrefix) {
		cfg.OutputPrefix = c.String(flagOutputPrefix)
	}
	if c.IsSet(flagTileSize) {
		cfg.TileSize = c.Int(flagTileSize)
	}
	if c.IsSet(flagInlierThreshold) {
		cfg.InlierThreshold = c.Float64(flagInlierThreshold)
	}
	if c.IsSet(flagRANSACIterations) {
		cfg.RANSACIterations = c.Int(flagRANSACIterations)
	}
	if c.IsSet(flagSeed) {
		seed := c.Int64(flagSeed)
		cfg.Seed = &seed
	}
	for flag, dst := range map[string]*bool{
		flagWriteInliers: &cfg.WriteInliers,
		flagMatchPlot:    &cfg.MatchPlot,
		flagResidualPlot: &cfg.ResidualPlot,
		flagQuiet:        &cfg.Quiet,
	} {
		if c.IsSet(flag) {
			*dst = c.Bool(flag)
		}
	}
	return cfg, cfg.Validate("align_dem")
}
