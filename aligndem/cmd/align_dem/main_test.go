package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/demalign/aligndem"
	"go.viam.com/demalign/logging"
)

func captureConfig(t *testing.T, args ...string) (aligndem.Config, error) {
	t.Helper()
	var got aligndem.Config
	app := newApp(func(ctx context.Context, cfg aligndem.Config, logger logging.Logger) error {
		got = cfg
		return nil
	})
	err := app.Run(append([]string{"align_dem"}, args...))
	return got, err
}

func TestFlags(t *testing.T) {
	cfg, err := captureConfig(t,
		"--max-match-points", "50",
		"--default-value=-32768",
		"-o", "out/aligned",
		"--seed", "3",
		"--tile-size", "64",
		"--match-plot",
		"--quiet",
		"d1.dem", "o1.png", "d2.dem", "o2.png",
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.DEM1, test.ShouldEqual, "d1.dem")
	test.That(t, cfg.Ortho1, test.ShouldEqual, "o1.png")
	test.That(t, cfg.DEM2, test.ShouldEqual, "d2.dem")
	test.That(t, cfg.Ortho2, test.ShouldEqual, "o2.png")
	test.That(t, cfg.MaxMatchPoints, test.ShouldEqual, 50)
	test.That(t, *cfg.DefaultValue, test.ShouldEqual, -32768.0)
	test.That(t, cfg.OutputPrefix, test.ShouldEqual, "out/aligned")
	test.That(t, *cfg.Seed, test.ShouldEqual, int64(3))
	test.That(t, cfg.TileSize, test.ShouldEqual, 64)
	test.That(t, cfg.MatchPlot, test.ShouldBeTrue)
	test.That(t, cfg.Quiet, test.ShouldBeTrue)
	test.That(t, cfg.WriteInliers, test.ShouldBeFalse)
	test.That(t, cfg.InlierThreshold, test.ShouldEqual, 10.0)
}

func TestDefaults(t *testing.T) {
	cfg, err := captureConfig(t, "d1.dem", "o1.png", "d2.dem", "o2.png")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.MaxMatchPoints, test.ShouldEqual, 800)
	test.That(t, cfg.DefaultValue, test.ShouldBeNil)
	test.That(t, cfg.Seed, test.ShouldBeNil)
	test.That(t, cfg.Prefix(), test.ShouldEqual, "d1")
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "align.json")
	test.That(t, os.WriteFile(path, []byte(`{
		"dem1": "a.dem", "ortho1": "a.png", "dem2": "b.dem", "ortho2": "b.png",
		"max_match_points": 25, "write_inliers": true
	}`), 0o600), test.ShouldBeNil)

	cfg, err := captureConfig(t, "--config", path, "--max-match-points", "30")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.DEM1, test.ShouldEqual, "a.dem")
	test.That(t, cfg.MaxMatchPoints, test.ShouldEqual, 30)
	test.That(t, cfg.WriteInliers, test.ShouldBeTrue)
	test.That(t, cfg.TileSize, test.ShouldEqual, 256)
}

func TestConfigErrors(t *testing.T) {
	_, err := captureConfig(t)
	test.That(t, aligndem.IsConfigError(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dem1")

	_, err = captureConfig(t, "d1.dem", "o1.png")
	test.That(t, aligndem.IsConfigError(err), test.ShouldBeTrue)

	_, err = captureConfig(t, "--tile-size", "100", "d1.dem", "o1.png", "d2.dem", "o2.png")
	test.That(t, aligndem.IsConfigError(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "tile_size")

	_, err = captureConfig(t, "--config", filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, aligndem.IsConfigError(err), test.ShouldBeTrue)
}
