package georef

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// GeoReference ties a raster's pixel grid to longitude/latitude on a datum.
//
// Transform follows GDAL's coefficient ordering. Integer pixel coordinates are the sample
// locations, so (0, 0) maps to (t[0], t[3]):
//
//	lon = t[0] + x*t[1] + y*t[2]
//	lat = t[3] + x*t[4] + y*t[5]
type GeoReference struct {
	Transform [6]float64
	Datum     Datum

	forward *mat.Dense
	inverse *mat.Dense
}

// NewGeoReference builds a GeoReference and precomputes the inverse mapping. A transform that
// cannot be inverted is an error.
func NewGeoReference(transform [6]float64, datum Datum) (*GeoReference, error) {
	if err := datum.Validate(); err != nil {
		return nil, err
	}
	forward := mat.NewDense(3, 3, []float64{
		transform[1], transform[2], transform[0],
		transform[4], transform[5], transform[3],
		0, 0, 1,
	})
	if mat.Det(forward) == 0 {
		return nil, errors.Errorf("geotransform %v is not invertible", transform)
	}
	var inverse mat.Dense
	if err := inverse.Inverse(forward); err != nil {
		return nil, errors.Wrapf(err, "geotransform %v is not invertible", transform)
	}
	return &GeoReference{
		Transform: transform,
		Datum:     datum,
		forward:   forward,
		inverse:   &inverse,
	}, nil
}

func applyAffine2(m *mat.Dense, x, y float64) (float64, float64) {
	return m.At(0, 0)*x + m.At(0, 1)*y + m.At(0, 2),
		m.At(1, 0)*x + m.At(1, 1)*y + m.At(1, 2)
}

// PixelToLonLat maps a (possibly fractional) pixel location to (lon, lat) in degrees.
func (g *GeoReference) PixelToLonLat(px r2.Point) r2.Point {
	lon, lat := applyAffine2(g.forward, px.X, px.Y)
	return r2.Point{X: lon, Y: lat}
}

// LonLatToPixel maps (lon, lat) in degrees to a fractional pixel location.
func (g *GeoReference) LonLatToPixel(ll r2.Point) r2.Point {
	x, y := applyAffine2(g.inverse, ll.X, ll.Y)
	return r2.Point{X: x, Y: y}
}

// PixelSize returns the ground size of one pixel along x and y in degrees.
func (g *GeoReference) PixelSize() (float64, float64) {
	return r2.Point{X: g.Transform[1], Y: g.Transform[4]}.Norm(), r2.Point{X: g.Transform[2], Y: g.Transform[5]}.Norm()
}

func (g *GeoReference) String() string {
	return fmt.Sprintf("GeoReference(datum=%s transform=%v)", g.Datum.Name, g.Transform)
}
