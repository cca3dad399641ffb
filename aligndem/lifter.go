package aligndem

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/demalign/georef"
	"go.viam.com/demalign/logging"
	"go.viam.com/demalign/rimage"
	"go.viam.com/demalign/vision/keypoints"
)

// Terrain is one orthoimage and the DEM it is registered to.
type Terrain struct {
	Ortho *georef.GeoReference
	DEM   *georef.GeoReference
	// Elevation samples the DEM and knows its no-data value.
	Elevation *rimage.Sampler
}

// lift maps an orthoimage pixel to its point on the terrain. It fails when the DEM has no
// elevation there.
func (t Terrain) lift(px r2.Point) (r3.Vector, r2.Point, bool) {
	ll := t.Ortho.PixelToLonLat(px)
	demPx := t.DEM.LonLatToPixel(ll)
	if _, ok := t.Elevation.Nearest(demPx.X, demPx.Y); !ok {
		return r3.Vector{}, ll, false
	}
	elevation, ok := t.Elevation.Bilinear(demPx.X, demPx.Y)
	if !ok {
		return r3.Vector{}, ll, false
	}
	return t.DEM.Datum.TerrainPoint(ll.X, ll.Y, elevation), ll, true
}

// LiftResult holds the correspondences that landed on valid elevation in both DEMs.
type LiftResult struct {
	P1, P2 []r3.Vector
	// Indices maps each lifted pair back to its position in the input pairs.
	Indices []int
	Dropped int
	// MedianHorizontalOffset is the median great-circle distance between the pairs, in meters.
	MedianHorizontalOffset float64
}

// Lifter turns matched pixel pairs into pairs of Cartesian terrain points.
type Lifter struct {
	terrain1, terrain2 Terrain
	logger             logging.Logger
}

// NewLifter returns a Lifter lifting the first point of each pair through terrain1 and the second
// through terrain2.
func NewLifter(terrain1, terrain2 Terrain, logger logging.Logger) *Lifter {
	return &Lifter{terrain1: terrain1, terrain2: terrain2, logger: logger}
}

// Lift converts the pairs a[i] ↔ b[i]. Pairs falling on no-data or outside either DEM are dropped
// and counted. Only read failures are errors.
func (l *Lifter) Lift(a, b []keypoints.InterestPoint) (*LiftResult, error) {
	if len(a) != len(b) {
		return nil, errors.Errorf("cannot lift %d points against %d", len(a), len(b))
	}
	res := &LiftResult{}
	var offsets []float64
	for i := range a {
		p1, ll1, ok1 := l.terrain1.lift(a[i].Point())
		p2, ll2, ok2 := l.terrain2.lift(b[i].Point())
		if !ok1 || !ok2 {
			res.Dropped++
			l.logger.Debugw("dropping correspondence without elevation", "index", i, "dem1", ok1, "dem2", ok2)
			continue
		}
		res.P1 = append(res.P1, p1)
		res.P2 = append(res.P2, p2)
		res.Indices = append(res.Indices, i)
		// GreatCircleDistance returns kilometers
		offsets = append(offsets, geo.NewPoint(ll1.Y, ll1.X).GreatCircleDistance(geo.NewPoint(ll2.Y, ll2.X))*1000)
	}
	if err := l.terrain1.Elevation.Err(); err != nil {
		return nil, errors.Wrap(err, "sampling the first DEM")
	}
	if err := l.terrain2.Elevation.Err(); err != nil {
		return nil, errors.Wrap(err, "sampling the second DEM")
	}
	if res.Dropped > 0 {
		l.logger.Infof("dropped %d of %d correspondences that fell on DEM no-data", res.Dropped, len(a))
	}
	if len(offsets) > 0 {
		median, err := stats.Median(offsets)
		if err == nil {
			res.MedianHorizontalOffset = median
		}
		l.logger.Debugw("lifted correspondences", "count", len(offsets), "median_horizontal_offset_m", res.MedianHorizontalOffset)
	}
	return res, nil
}

// Subset returns the lifted pairs at the given positions of P1 and P2.
func (res *LiftResult) Subset(indices []int) ([]r3.Vector, []r3.Vector) {
	pick := func(points []r3.Vector) []r3.Vector {
		return lo.Map(indices, func(i, _ int) r3.Vector { return points[i] })
	}
	return pick(res.P1), pick(res.P2)
}
