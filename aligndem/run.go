// Package aligndem aligns a DEM to another one using correspondences between orthoimages
// registered to each, and reprojects the first DEM's points into the second's frame.
package aligndem

import (
	"context"
	"math/rand"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/demalign/correspondence"
	"go.viam.com/demalign/georef"
	"go.viam.com/demalign/logging"
	"go.viam.com/demalign/pointcloud"
	"go.viam.com/demalign/ransac"
	"go.viam.com/demalign/rimage"
	"go.viam.com/demalign/spatialmath"
	rutils "go.viam.com/demalign/utils"
)

// EstimationError is a failure to derive a transform from the correspondences.
type EstimationError struct {
	Err error
}

func (e *EstimationError) Error() string {
	return "estimation error: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *EstimationError) Unwrap() error {
	return e.Err
}

// Result is the outcome of Run.
type Result struct {
	Transform *spatialmath.AffineTransform
	Report    *Report
	// Inliers index the lifted pairs.
	Inliers []int
	// Matches is the number of correspondences between the orthoimages.
	Matches                int
	Dropped                int
	MedianHorizontalOffset float64
	PointCloud             pointcloud.TransformStats

	ReportPath     string
	PointCloudPath string
}

type input struct {
	path string
	md   *georef.Metadata
	geo  *georef.GeoReference
}

func readInput(path string) (*input, error) {
	md, err := georef.ReadMetadata(path)
	if err != nil {
		return nil, err
	}
	geo, err := md.GeoReference()
	if err != nil {
		return nil, errors.Wrapf(err, "georeference of %q", path)
	}
	return &input{path: path, md: md, geo: geo}, nil
}

// Run aligns cfg.DEM1 to cfg.DEM2 and writes the report and the transformed point cloud.
func Run(ctx context.Context, cfg Config, logger logging.Logger) (res *Result, err error) {
	if err := cfg.Validate("aligndem"); err != nil {
		return nil, err
	}
	progress := func(title string) rutils.ProgressReporter {
		if cfg.Quiet {
			return rutils.NoopProgress{}
		}
		return rutils.NewTerminalProgress(title, nil)
	}

	inputs := make([]*input, 4)
	for i, path := range []string{cfg.DEM1, cfg.Ortho1, cfg.DEM2, cfg.Ortho2} {
		if inputs[i], err = readInput(path); err != nil {
			return nil, err
		}
	}
	dem1In, ortho1In, dem2In, ortho2In := inputs[0], inputs[1], inputs[2], inputs[3]

	nodata1 := rimage.NoDataFromPointer(dem1In.md.NoData)
	if cfg.DefaultValue != nil {
		nodata1 = rimage.NoDataFromValue(*cfg.DefaultValue)
	}
	nodata2 := rimage.NoDataFromPointer(dem2In.md.NoData)
	if !nodata2.Set {
		nodata2 = nodata1
	}
	logger.Debugw("no-data values", "dem1", nodata1.String(), "dem2", nodata2.String())

	dem1, err := rimage.OpenDEM(cfg.DEM1, dem1In.md)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(dem1.Close)
	dem2, err := rimage.OpenDEM(cfg.DEM2, dem2In.md)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(dem2.Close)

	matcher := correspondence.NewMatcher(correspondence.NewFileStore(), logger.Sublogger("matcher"))
	matcher.Progress = progress("matching")
	a, b, err := matcher.Match(ctx, cfg.Ortho1, cfg.Ortho2, cfg.MaxMatchPoints)
	if err != nil {
		return nil, err
	}
	logger.Infof("located %d matches", len(a))
	if cfg.MatchPlot && len(a) > 0 {
		if err := writeMatchPlot(cfg.Ortho1, cfg.Ortho2, a, b, MatchPlotPath(cfg.Prefix())); err != nil {
			return nil, err
		}
	}

	lifter := NewLifter(
		Terrain{Ortho: ortho1In.geo, DEM: dem1In.geo, Elevation: rimage.NewSampler(dem1, nodata1)},
		Terrain{Ortho: ortho2In.geo, DEM: dem2In.geo, Elevation: rimage.NewSampler(dem2, nodata2)},
		logger.Sublogger("lifter"),
	)
	lifted, err := lifter.Lift(a, b)
	if err != nil {
		return nil, err
	}

	var rng *rand.Rand
	if cfg.Seed != nil {
		rng = rand.New(rand.NewSource(*cfg.Seed))
	}
	estimator := ransac.New(cfg.InlierThreshold, cfg.RANSACIterations, rng, logger.Sublogger("ransac"))
	estimate, err := estimator.Estimate(lifted.P1, lifted.P2)
	if err != nil {
		return nil, &EstimationError{Err: err}
	}
	transform := estimate.Transform
	inliers := estimator.InlierIndices(transform, lifted.P1, lifted.P2)
	logger.Infof("found %d inliers of %d pairs", len(inliers), len(lifted.P1))

	report, residuals := newReport(estimator, transform, lifted, inliers)
	res = &Result{
		Transform:              transform,
		Report:                 report,
		Inliers:                inliers,
		Matches:                len(a),
		Dropped:                lifted.Dropped,
		MedianHorizontalOffset: lifted.MedianHorizontalOffset,
		ReportPath:             ReportPath(cfg.DEM1, cfg.DEM2),
		PointCloudPath:         PointCloudPath(cfg.Prefix()),
	}
	if err := WriteReport(res.ReportPath, report); err != nil {
		return nil, err
	}
	logger.Infow("wrote transform", "path", res.ReportPath)

	if cfg.WriteInliers {
		if err := writeInliers(lifted, inliers, InliersPath(cfg.Prefix())); err != nil {
			return nil, err
		}
	}
	if cfg.ResidualPlot {
		if err := writeResidualPlot(residuals, ResidualPlotPath(cfg.Prefix())); err != nil {
			return nil, err
		}
	}

	out, err := pointcloud.Create(res.PointCloudPath, dem1.Width(), dem1.Height(), cfg.TileSize, pointcloud.Generic3Float64)
	if err != nil {
		return nil, err
	}
	res.PointCloud, err = pointcloud.TransformDEM(ctx, dem1, dem1In.geo, nodata1, transform, out, progress("writing point cloud"))
	if err = multierr.Combine(err, out.Close()); err != nil {
		return nil, err
	}
	logger.Infow("wrote point cloud", "path", res.PointCloudPath, "valid", res.PointCloud.Valid, "nodata", res.PointCloud.NoData)
	return res, nil
}

func newReport(
	estimator *ransac.RANSAC,
	transform *spatialmath.AffineTransform,
	lifted *LiftResult,
	inliers []int,
) (*Report, []float64) {
	p1, p2 := lifted.Subset(inliers)
	residuals := make([]float64, len(inliers))
	for i := range residuals {
		residuals[i] = estimator.Metric(transform, p1[i], p2[i])
	}
	report := &Report{Inliers: len(inliers), Pairs: len(lifted.P1), Transform: transform}
	if len(residuals) > 0 {
		report.MeanResidual, _ = stats.Mean(residuals)
		report.MedianResidual, _ = stats.Median(residuals)
		report.MaxResidual, _ = stats.Max(residuals)
	}
	return report, residuals
}
