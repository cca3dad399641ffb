package georef

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// MetadataSuffix is appended to a raster's path to locate its georeferencing sidecar.
const MetadataSuffix = ".geo.json"

// Metadata is the georeferencing sidecar stored next to every input raster.
type Metadata struct {
	GeoTransform [6]float64 `json:"geotransform"`
	Datum        Datum      `json:"datum"`
	// NoData is the raster's declared missing value, if any.
	NoData *float64 `json:"nodata,omitempty"`
	// ElevationScale and ElevationOffset convert integer DEM samples to meters.
	ElevationScale  *float64 `json:"elevation_scale,omitempty"`
	ElevationOffset float64  `json:"elevation_offset,omitempty"`
}

// MetadataPath returns where the sidecar of rasterPath lives.
func MetadataPath(rasterPath string) string {
	return rasterPath + MetadataSuffix
}

// Validate ensures the metadata can build a GeoReference.
func (md *Metadata) Validate(path string) error {
	if err := md.Datum.Validate(); err != nil {
		return errors.Wrapf(err, "%s: datum", path)
	}
	if md.ElevationScale != nil && (*md.ElevationScale == 0 || math.IsNaN(*md.ElevationScale)) {
		return errors.Errorf("%s: elevation_scale must be non-zero", path)
	}
	if md.GeoTransform[1]*md.GeoTransform[5]-md.GeoTransform[2]*md.GeoTransform[4] == 0 {
		return errors.Errorf("%s: geotransform %v is degenerate", path, md.GeoTransform)
	}
	return nil
}

// GeoReference builds the GeoReference described by the metadata.
func (md *Metadata) GeoReference() (*GeoReference, error) {
	return NewGeoReference(md.GeoTransform, md.Datum)
}

// Scale returns the elevation scale, defaulting to 1.
func (md *Metadata) Scale() float64 {
	if md.ElevationScale == nil {
		return 1
	}
	return *md.ElevationScale
}

// ReadMetadata loads and validates the sidecar of rasterPath.
func ReadMetadata(rasterPath string) (*Metadata, error) {
	path := filepath.Clean(MetadataPath(rasterPath))
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening georeference for %q", rasterPath)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var md Metadata
	if err := json.NewDecoder(f).Decode(&md); err != nil {
		return nil, errors.Wrapf(err, "decoding %q", path)
	}
	if err := md.Validate(path); err != nil {
		return nil, err
	}
	return &md, nil
}

// WriteMetadata writes md as the sidecar of rasterPath.
func WriteMetadata(rasterPath string, md *Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(MetadataPath(rasterPath), data, 0o600), "writing georeference for %q", rasterPath)
}
