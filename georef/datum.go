// Package georef maps raster pixels to geographic coordinates and geographic coordinates to
// Earth-centered Cartesian points.
package georef

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s2"
	"github.com/pkg/errors"
)

// Datum is a reference ellipsoid of revolution, in meters.
type Datum struct {
	Name          string  `json:"name"`
	SemiMajorAxis float64 `json:"semi_major_axis"`
	SemiMinorAxis float64 `json:"semi_minor_axis"`
}

// WGS84 returns the WGS 1984 datum.
func WGS84() Datum {
	return Datum{Name: "WGS_1984", SemiMajorAxis: 6378137.0, SemiMinorAxis: 6356752.314245}
}

// Sphere returns a spherical datum of the given radius.
func Sphere(name string, radius float64) Datum {
	return Datum{Name: name, SemiMajorAxis: radius, SemiMinorAxis: radius}
}

// Validate ensures the axes describe a real ellipsoid.
func (d Datum) Validate() error {
	if d.SemiMajorAxis <= 0 || d.SemiMinorAxis <= 0 {
		return errors.Errorf("datum %q axes must be positive, got %v and %v", d.Name, d.SemiMajorAxis, d.SemiMinorAxis)
	}
	if d.SemiMinorAxis > d.SemiMajorAxis {
		return errors.Errorf("datum %q semi minor axis %v exceeds semi major axis %v", d.Name, d.SemiMinorAxis, d.SemiMajorAxis)
	}
	return nil
}

// Radius returns the distance from the datum's center to its surface at the given geodetic
// longitude and latitude, in degrees. The longitude does not matter for an ellipsoid of
// revolution but is kept so callers read like the coordinates they hold.
func (d Datum) Radius(lon, lat float64) float64 {
	if d.SemiMajorAxis == d.SemiMinorAxis {
		return d.SemiMajorAxis
	}
	a, b := d.SemiMajorAxis, d.SemiMinorAxis
	// parametric latitude
	t := math.Atan((a / b) * math.Tan(lat*math.Pi/180))
	x := a * math.Cos(t)
	y := b * math.Sin(t)
	return math.Hypot(x, y)
}

// LonLatRadiusToXYZ converts a longitude and latitude in degrees plus a distance from the
// planet's center into Earth-centered Cartesian coordinates.
func LonLatRadiusToXYZ(lon, lat, radius float64) r3.Vector {
	p := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	return p.Vector.Mul(radius)
}

// XYZToLonLatRadius is the inverse of LonLatRadiusToXYZ. The zero vector maps to all zeros.
func XYZToLonLatRadius(v r3.Vector) (lon, lat, radius float64) {
	radius = v.Norm()
	if radius == 0 {
		return 0, 0, 0
	}
	ll := s2.LatLngFromPoint(s2.Point{Vector: v.Mul(1 / radius)})
	return ll.Lng.Degrees(), ll.Lat.Degrees(), radius
}

// TerrainPoint returns the Cartesian point elevation meters above the datum's surface at the
// given longitude and latitude.
func (d Datum) TerrainPoint(lon, lat, elevation float64) r3.Vector {
	return LonLatRadiusToXYZ(lon, lat, d.Radius(lon, lat)+elevation)
}
