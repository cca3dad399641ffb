package rimage

import (
	"math"
)

// samplerBandRows is how many rows a Sampler keeps in memory at once.
const samplerBandRows = 64

// Sampler reads elevations at fractional pixel locations of an ElevationRaster, keeping a band
// of rows cached. Read failures are sticky and reported by Err.
type Sampler struct {
	raster ElevationRaster
	nodata NoData

	band   []float64
	bandY0 int
	bandN  int
	err    error
}

// NewSampler returns a Sampler over raster using nodata to recognise missing samples.
func NewSampler(raster ElevationRaster, nodata NoData) *Sampler {
	return &Sampler{raster: raster, nodata: nodata}
}

// NoData returns the predicate the sampler applies.
func (s *Sampler) NoData() NoData {
	return s.nodata
}

// Err returns the first read error encountered.
func (s *Sampler) Err() error {
	return s.err
}

func (s *Sampler) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < s.raster.Width() && y < s.raster.Height()
}

// value returns the raw sample at an integer location already known to be in bounds.
func (s *Sampler) value(x, y int) (float64, bool) {
	if s.err != nil {
		return 0, false
	}
	if y < s.bandY0 || y >= s.bandY0+s.bandN {
		n := samplerBandRows
		y0 := y - n/2
		if y0 < 0 {
			y0 = 0
		}
		if y0+n > s.raster.Height() {
			n = s.raster.Height() - y0
		}
		if cap(s.band) < n*s.raster.Width() {
			s.band = make([]float64, samplerBandRows*s.raster.Width())
		}
		if err := s.raster.ReadRows(y0, n, s.band[:n*s.raster.Width()]); err != nil {
			s.err = err
			s.bandN = 0
			return 0, false
		}
		s.bandY0, s.bandN = y0, n
	}
	return s.band[(y-s.bandY0)*s.raster.Width()+x], true
}

// Nearest returns the sample nearest to (x, y). ok is false when the location is outside the
// raster or the sample is missing.
func (s *Sampler) Nearest(x, y float64) (float64, bool) {
	ix := int(math.Floor(x + 0.5))
	iy := int(math.Floor(y + 0.5))
	if !s.inBounds(ix, iy) {
		return 0, false
	}
	v, ok := s.value(ix, iy)
	if !ok || s.nodata.IsNoData(v) {
		return 0, false
	}
	return v, true
}

// Bilinear interpolates the four samples around (x, y). When any of them is missing the nearest
// sample is returned instead.
func (s *Sampler) Bilinear(x, y float64) (float64, bool) {
	nearest, ok := s.Nearest(x, y)
	if !ok {
		return 0, false
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	var corners [4]float64
	for i, off := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		cx, cy := x0+off[0], y0+off[1]
		if !s.inBounds(cx, cy) {
			return nearest, true
		}
		v, ok := s.value(cx, cy)
		if !ok || s.nodata.IsNoData(v) {
			return nearest, true
		}
		corners[i] = v
	}
	top := corners[0]*(1-fx) + corners[1]*fx
	bottom := corners[2]*(1-fx) + corners[3]*fx
	return top*(1-fy) + bottom*fy, true
}
