// Package testutils builds synthetic terrain and orthoimages for tests.
package testutils

import (
	"math"
	"math/rand"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/demalign/georef"
	"go.viam.com/demalign/rimage"
)

// Blob is a bright Gaussian spot in a synthetic orthoimage.
type Blob struct {
	X, Y      float64
	Sigma     float64
	Amplitude float64
}

// Scene is a pair of co-registered DEM/orthoimage rasters where the second pair is the first
// one displaced by a known geographic shift and elevation offset.
type Scene struct {
	Width, Height int
	Datum         georef.Datum
	// Origin is the (lon, lat) of pixel (0, 0) of the first pair, in degrees.
	Origin    r2.Point
	PixelSize float64

	BaseElevation float64
	Relief        float64
	// NoDataRows rows at the top of the first DEM hold NoDataValue.
	NoDataRows  int
	NoDataValue float64

	Background float64
	Blobs      []Blob

	// Shift is the (dlon, dlat) of the second pair, in degrees.
	Shift       r2.Point
	HeightShift float64
}

// NewScene returns a 100x100 scene on WGS84 with twelve distinct blobs.
func NewScene() *Scene {
	s := &Scene{
		Width:         100,
		Height:        100,
		Datum:         georef.WGS84(),
		Origin:        r2.Point{X: 10.25, Y: 20.5},
		PixelSize:     1e-4,
		BaseElevation: 1200,
		Relief:        40,
		NoDataRows:    4,
		NoDataValue:   -9999,
		Background:    0.05,
		Shift:         r2.Point{X: 2.5e-4, Y: -1.5e-4},
		HeightShift:   7,
	}
	s.Blobs = RandomBlobs(s.Width, s.Height, 12, 1)
	return s
}

// RandomBlobs places n blobs at least 17 pixels apart and 12 pixels inside the border.
func RandomBlobs(width, height, n int, seed int64) []Blob {
	r := rand.New(rand.NewSource(seed))
	const margin, separation = 12.0, 17.0
	var blobs []Blob
	for attempts := 0; len(blobs) < n && attempts < 100000; attempts++ {
		b := Blob{
			X:         margin + r.Float64()*(float64(width)-2*margin),
			Y:         margin + r.Float64()*(float64(height)-2*margin),
			Sigma:     2.5 + r.Float64(),
			Amplitude: 0.5 + 0.4*r.Float64(),
		}
		ok := true
		for _, other := range blobs {
			if math.Hypot(b.X-other.X, b.Y-other.Y) < separation {
				ok = false
				break
			}
		}
		if ok {
			blobs = append(blobs, b)
		}
	}
	return blobs
}

// BlobImage renders blobs over a uniform background.
func BlobImage(width, height int, background float64, blobs []Blob) *rimage.FloatImage {
	img := rimage.NewFloatImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := background
			for _, b := range blobs {
				dx, dy := float64(x)-b.X, float64(y)-b.Y
				v += b.Amplitude * math.Exp(-(dx*dx+dy*dy)/(2*b.Sigma*b.Sigma))
			}
			img.Set(x, y, v)
		}
	}
	return img
}

// Elevation is the terrain height of the first DEM at pixel (x, y), ignoring no-data.
func (s *Scene) Elevation(x, y float64) float64 {
	return s.BaseElevation +
		s.Relief*math.Sin(x/13)*math.Cos(y/17) +
		0.3*s.Relief*math.Sin((x+2*y)/29)
}

// Transform1 is the geotransform shared by the first DEM and orthoimage.
func (s *Scene) Transform1() [6]float64 {
	return [6]float64{s.Origin.X, s.PixelSize, 0, s.Origin.Y, 0, -s.PixelSize}
}

// Transform2 is the geotransform shared by the second DEM and orthoimage.
func (s *Scene) Transform2() [6]float64 {
	t := s.Transform1()
	t[0] += s.Shift.X
	t[3] += s.Shift.Y
	return t
}

// DEM1 renders the first DEM, with no-data rows at the top.
func (s *Scene) DEM1() *rimage.DEM {
	dem := rimage.NewDEM(s.Width, s.Height)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			if y < s.NoDataRows {
				dem.Set(x, y, s.NoDataValue)
				continue
			}
			dem.Set(x, y, s.Elevation(float64(x), float64(y)))
		}
	}
	return dem
}

// DEM2 renders the second DEM. It has no missing samples.
func (s *Scene) DEM2() *rimage.DEM {
	dem := rimage.NewDEM(s.Width, s.Height)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			dem.Set(x, y, s.Elevation(float64(x), float64(y))+s.HeightShift)
		}
	}
	return dem
}

// Ortho renders the orthoimage shared by both pairs.
func (s *Scene) Ortho() *rimage.FloatImage {
	return BlobImage(s.Width, s.Height, s.Background, s.Blobs)
}

// Metadata1 describes the first DEM and orthoimage.
func (s *Scene) Metadata1(withNoData bool) *georef.Metadata {
	md := &georef.Metadata{GeoTransform: s.Transform1(), Datum: s.Datum}
	if withNoData {
		v := s.NoDataValue
		md.NoData = &v
	}
	return md
}

// Metadata2 describes the second DEM and orthoimage.
func (s *Scene) Metadata2() *georef.Metadata {
	return &georef.Metadata{GeoTransform: s.Transform2(), Datum: s.Datum}
}

// Displace maps a point of the first terrain to where the same ground point sits in the second.
func (s *Scene) Displace(v r3.Vector) r3.Vector {
	lon, lat, radius := georef.XYZToLonLatRadius(v)
	height := radius - s.Datum.Radius(lon, lat)
	lon2, lat2 := lon+s.Shift.X, lat+s.Shift.Y
	return georef.LonLatRadiusToXYZ(lon2, lat2, s.Datum.Radius(lon2, lat2)+height+s.HeightShift)
}

// ScenePaths locates a scene written to disk.
type ScenePaths struct {
	DEM1, Ortho1, DEM2, Ortho2 string
}

// Write saves both DEMs as raw DEM files and both orthoimages as PNGs, each with its
// georeference sidecar. The first DEM declares its no-data value when declareNoData is set.
func (s *Scene) Write(dir string, declareNoData bool) (ScenePaths, error) {
	paths := ScenePaths{
		DEM1:   filepath.Join(dir, "dem1.dem"),
		Ortho1: filepath.Join(dir, "ortho1.png"),
		DEM2:   filepath.Join(dir, "dem2.dem"),
		Ortho2: filepath.Join(dir, "ortho2.png"),
	}
	ortho := s.Ortho().ToGray()
	if err := rimage.WriteRawDEM(paths.DEM1, s.DEM1()); err != nil {
		return paths, err
	}
	if err := rimage.WriteRawDEM(paths.DEM2, s.DEM2()); err != nil {
		return paths, err
	}
	for _, p := range []string{paths.Ortho1, paths.Ortho2} {
		if err := imaging.Save(ortho, p); err != nil {
			return paths, errors.Wrapf(err, "saving %q", p)
		}
	}
	for path, md := range map[string]*georef.Metadata{
		paths.DEM1:   s.Metadata1(declareNoData),
		paths.Ortho1: s.Metadata1(false),
		paths.DEM2:   s.Metadata2(),
		paths.Ortho2: s.Metadata2(),
	} {
		if err := georef.WriteMetadata(path, md); err != nil {
			return paths, err
		}
	}
	return paths, nil
}
