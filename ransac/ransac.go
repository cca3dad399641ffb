// Package ransac robustly fits an affine transform between two corresponding point sets.
package ransac

import (
	"math"
	"math/rand"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/demalign/logging"
	"go.viam.com/demalign/spatialmath"
)

const (
	// DefaultIterations is how many random samples are tried.
	DefaultIterations = 200
	// DefaultInlierThreshold is the largest residual, in meters, of an inlier.
	DefaultInlierThreshold = 10.0
)

var (
	// ErrInsufficientPoints is returned when there are fewer pairs than a minimal sample.
	ErrInsufficientPoints = errors.New("not enough point pairs to estimate a transform")
	// ErrNoConsensus is returned when no sampled model gathers enough inliers.
	ErrNoConsensus = errors.New("no transform reached the minimum number of inliers")
	// ErrMismatchedSets is returned when the two point sets differ in length.
	ErrMismatchedSets = errors.New("point sets have different lengths")
)

// FittingFunc fits a transform mapping src onto dst.
type FittingFunc func(src, dst []r3.Vector) (*spatialmath.AffineTransform, error)

// ErrorMetric measures how far a transform maps src from dst.
type ErrorMetric func(t *spatialmath.AffineTransform, src, dst r3.Vector) float64

// AffineFitter fits a 3D affine transform by least squares.
func AffineFitter(src, dst []r3.Vector) (*spatialmath.AffineTransform, error) {
	return spatialmath.FitAffine(src, dst)
}

// L2Metric is the Euclidean distance between the transformed source and the destination.
func L2Metric(t *spatialmath.AffineTransform, src, dst r3.Vector) float64 {
	return t.Apply(src).Sub(dst).Norm()
}

// RANSAC estimates a transform from point pairs contaminated by outliers.
type RANSAC struct {
	Fitter FittingFunc
	Metric ErrorMetric
	// MinSampleSize is the number of pairs fitted per iteration.
	MinSampleSize int
	Threshold     float64
	Iterations    int
	// MinInliers is the inlier count a model needs to be accepted. Zero means half of the pairs,
	// and never fewer than MinSampleSize.
	MinInliers int
	// Rand drives sampling. A nil Rand is seeded from the clock.
	Rand *rand.Rand

	logger logging.Logger
}

// New returns a RANSAC fitting 3D affine transforms.
func New(threshold float64, iterations int, r *rand.Rand, logger logging.Logger) *RANSAC {
	return &RANSAC{
		Fitter:        AffineFitter,
		Metric:        L2Metric,
		MinSampleSize: spatialmath.MinAffineFitPoints,
		Threshold:     threshold,
		Iterations:    iterations,
		Rand:          r,
		logger:        logger,
	}
}

// Result is the outcome of Estimate.
type Result struct {
	Transform *spatialmath.AffineTransform
	// Inliers are indices of the pairs within the threshold of Transform, in increasing order.
	Inliers []int
	// Residuals holds the residual of each inlier, in the same order.
	Residuals []float64
}

// MeanResidual returns the mean inlier residual.
func (res *Result) MeanResidual() float64 {
	if len(res.Residuals) == 0 {
		return 0
	}
	return stat.Mean(res.Residuals, nil)
}

// StdDevResidual returns the standard deviation of the inlier residuals.
func (res *Result) StdDevResidual() float64 {
	if len(res.Residuals) < 2 {
		return 0
	}
	return stat.StdDev(res.Residuals, nil)
}

func (r *RANSAC) minInliers(n int) int {
	if r.MinInliers > 0 {
		return r.MinInliers
	}
	half := n / 2
	if half < r.MinSampleSize {
		return r.MinSampleSize
	}
	return half
}

// score counts the inliers of t and sums their residuals.
func (r *RANSAC) score(t *spatialmath.AffineTransform, p1, p2 []r3.Vector) (int, float64) {
	count, total := 0, 0.0
	for i := range p1 {
		e := r.Metric(t, p1[i], p2[i])
		if e <= r.Threshold {
			count++
			total += e
		}
	}
	return count, total
}

// InlierIndices returns, in increasing order, the indices of the pairs whose residual under t is
// within the threshold.
func (r *RANSAC) InlierIndices(t *spatialmath.AffineTransform, p1, p2 []r3.Vector) []int {
	inliers := []int{}
	for i := range p1 {
		if r.Metric(t, p1[i], p2[i]) <= r.Threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

func subset(points []r3.Vector, indices []int) []r3.Vector {
	out := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		out[i] = points[idx]
	}
	return out
}

// Estimate fits a transform mapping p1 onto p2. Each iteration fits a random minimal sample and
// counts its inliers, preferring the lower total inlier residual on ties. The best model is refit
// on its inliers.
func (r *RANSAC) Estimate(p1, p2 []r3.Vector) (*Result, error) {
	if len(p1) != len(p2) {
		return nil, errors.Wrapf(ErrMismatchedSets, "%d and %d", len(p1), len(p2))
	}
	if r.MinSampleSize < 1 {
		return nil, errors.Errorf("minimum sample size must be positive, got %d", r.MinSampleSize)
	}
	n := len(p1)
	if n < r.MinSampleSize {
		return nil, errors.Wrapf(ErrInsufficientPoints, "have %d, need %d", n, r.MinSampleSize)
	}
	rng := r.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var best *spatialmath.AffineTransform
	bestCount, bestTotal := 0, math.Inf(1)
	degenerate := 0
	for i := 0; i < r.Iterations; i++ {
		sample := rng.Perm(n)[:r.MinSampleSize]
		model, err := r.Fitter(subset(p1, sample), subset(p2, sample))
		if err != nil {
			degenerate++
			continue
		}
		count, total := r.score(model, p1, p2)
		if count > bestCount || (count == bestCount && count > 0 && total < bestTotal) {
			best, bestCount, bestTotal = model, count, total
		}
	}
	if degenerate > 0 {
		r.logger.Debugw("skipped degenerate samples", "count", degenerate, "iterations", r.Iterations)
	}

	need := r.minInliers(n)
	if best == nil || bestCount < need {
		return nil, errors.Wrapf(ErrNoConsensus, "best model has %d inliers of %d pairs, need %d", bestCount, n, need)
	}

	inliers := r.InlierIndices(best, p1, p2)
	if refit, err := r.Fitter(subset(p1, inliers), subset(p2, inliers)); err == nil {
		if count, _ := r.score(refit, p1, p2); count >= bestCount {
			best = refit
			inliers = r.InlierIndices(best, p1, p2)
		}
	} else {
		r.logger.Warnw("refitting on inliers failed, keeping the sampled model", "error", err)
	}

	residuals := make([]float64, len(inliers))
	for i, idx := range inliers {
		residuals[i] = r.Metric(best, p1[idx], p2[idx])
	}
	res := &Result{Transform: best, Inliers: inliers, Residuals: residuals}
	r.logger.Debugw("RANSAC finished", "inliers", len(inliers), "pairs", n,
		"mean_residual", res.MeanResidual(), "stddev_residual", res.StdDevResidual())
	return res, nil
}
