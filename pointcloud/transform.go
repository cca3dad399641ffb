package pointcloud

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/demalign/georef"
	"go.viam.com/demalign/rimage"
	"go.viam.com/demalign/spatialmath"
	"go.viam.com/demalign/utils"
)

// TransformStats counts the pixels visited by TransformDEM.
type TransformStats struct {
	Valid  int
	NoData int
}

// TransformDEM turns every pixel of src into a Cartesian point using geo, maps it through t and
// streams the result to out one band of tiles at a time. No-data pixels are written as the zero
// vector. out must match the raster's size and hold 3 channels.
func TransformDEM(
	ctx context.Context,
	src rimage.ElevationRaster,
	geo *georef.GeoReference,
	nodata rimage.NoData,
	t *spatialmath.AffineTransform,
	out *TiledWriter,
	progress utils.ProgressReporter,
) (TransformStats, error) {
	var stats TransformStats
	if out.Width() != src.Width() || out.Height() != src.Height() {
		return stats, errors.Errorf("output is %dx%d but the DEM is %dx%d", out.Width(), out.Height(), src.Width(), src.Height())
	}
	if out.Format().Channels != 3 {
		return stats, errors.Errorf("point output needs 3 channels, got %d", out.Format().Channels)
	}
	if t.Dim() != 3 {
		return stats, errors.Errorf("point transform must be 3D, got %dD", t.Dim())
	}
	if progress == nil {
		progress = utils.NoopProgress{}
	}
	defer progress.Done()

	width, ts := src.Width(), out.TileSize()
	across, down := out.TilesAcross(), out.TilesDown()
	band := make([]float64, ts*width)
	tiles := make([][]float64, across)
	for tx := range tiles {
		tiles[tx] = make([]float64, out.TileLen())
	}
	tileStats := make([]TransformStats, across)
	for ty := 0; ty < down; ty++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		y0 := ty * ts
		rows := utils.MinInt(ts, src.Height()-y0)
		if err := src.ReadRows(y0, rows, band[:rows*width]); err != nil {
			return stats, errors.Wrapf(err, "reading DEM rows %d-%d", y0, y0+rows)
		}
		utils.ForEachBand(across, func(from, to int) {
			for tx := from; tx < to; tx++ {
				tileStats[tx] = transformTile(band, width, out.TileBounds(tx, ty), y0, ts, geo, nodata, t, tiles[tx])
			}
		})
		for tx := 0; tx < across; tx++ {
			stats.Valid += tileStats[tx].Valid
			stats.NoData += tileStats[tx].NoData
			if err := out.WriteTile(tx, ty, tiles[tx]); err != nil {
				return stats, err
			}
		}
		progress.Report(float64(ty+1) / float64(down))
	}
	return stats, nil
}

// transformTile fills tile with the points of the pixels in bounds, read from band which starts at
// row y0. Pixels outside the raster and no-data pixels stay zero.
func transformTile(
	band []float64,
	width int,
	bounds image.Rectangle,
	y0, ts int,
	geo *georef.GeoReference,
	nodata rimage.NoData,
	t *spatialmath.AffineTransform,
	tile []float64,
) TransformStats {
	var stats TransformStats
	for i := range tile {
		tile[i] = 0
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			elevation := band[(y-y0)*width+x]
			if nodata.IsNoData(elevation) {
				stats.NoData++
				continue
			}
			ll := geo.PixelToLonLat(r2.Point{X: float64(x), Y: float64(y)})
			p := t.Apply(geo.Datum.TerrainPoint(ll.X, ll.Y, elevation))
			i := ((y-y0)*ts + (x - bounds.Min.X)) * 3
			tile[i], tile[i+1], tile[i+2] = p.X, p.Y, p.Z
			stats.Valid++
		}
	}
	return stats
}
