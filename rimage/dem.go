package rimage

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/image/tiff"

	"go.viam.com/demalign/georef"
)

// ElevationRaster is a single band grid of elevations that can be read a band of rows at a time.
type ElevationRaster interface {
	Width() int
	Height() int
	// ReadRows fills dst, which must hold n*Width() values, with rows [y0, y0+n).
	ReadRows(y0, n int, dst []float64) error
	Close() error
}

// RawDEMMagic starts every raw DEM file. It reads as "DEMF64v1".
const RawDEMMagic uint64 = 0x31763436464d4544

const rawDEMHeaderSize = 24

// maxDEMSide bounds the sides accepted from a file header.
const maxDEMSide = 1 << 20

// DEM is an in-memory elevation grid stored row-major.
type DEM struct {
	width  int
	height int

	data []float64
}

// NewDEM returns a width x height DEM filled with zeros.
func NewDEM(width, height int) *DEM {
	return &DEM{width: width, height: height, data: make([]float64, width*height)}
}

// NewDEMFromData wraps row-major data. len(data) must equal width*height.
func NewDEMFromData(width, height int, data []float64) (*DEM, error) {
	if width <= 0 || height <= 0 || len(data) != width*height {
		return nil, errors.Errorf("DEM of %dx%d cannot hold %d values", width, height, len(data))
	}
	return &DEM{width: width, height: height, data: data}, nil
}

// Width returns the number of columns.
func (dem *DEM) Width() int {
	return dem.width
}

// Height returns the number of rows.
func (dem *DEM) Height() int {
	return dem.height
}

// At returns the elevation at column x, row y.
func (dem *DEM) At(x, y int) float64 {
	return dem.data[y*dem.width+x]
}

// Set stores an elevation at column x, row y.
func (dem *DEM) Set(x, y int, v float64) {
	dem.data[y*dem.width+x] = v
}

// ReadRows copies rows [y0, y0+n) into dst.
func (dem *DEM) ReadRows(y0, n int, dst []float64) error {
	if err := checkRows(dem, y0, n, dst); err != nil {
		return err
	}
	copy(dst, dem.data[y0*dem.width:(y0+n)*dem.width])
	return nil
}

// Close does nothing.
func (dem *DEM) Close() error {
	return nil
}

// MinMax returns the smallest and largest elevations that are not missing.
func (dem *DEM) MinMax(nodata NoData) (float64, float64) {
	low, high := math.Inf(1), math.Inf(-1)
	for _, v := range dem.data {
		if nodata.IsNoData(v) {
			continue
		}
		low = math.Min(low, v)
		high = math.Max(high, v)
	}
	return low, high
}

func checkRows(r ElevationRaster, y0, n int, dst []float64) error {
	if y0 < 0 || n < 0 || y0+n > r.Height() {
		return errors.Errorf("rows [%d, %d) outside raster of height %d", y0, y0+n, r.Height())
	}
	if len(dst) < n*r.Width() {
		return errors.Errorf("destination holds %d values, need %d", len(dst), n*r.Width())
	}
	return nil
}

// WriteRawDEM writes r to path in the raw DEM format. A ".gz" extension compresses the file.
func WriteRawDEM(path string, r ElevationRaster) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating DEM %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var out io.Writer = f
	var gout *gzip.Writer
	if filepath.Ext(path) == ".gz" {
		gout = gzip.NewWriter(f)
		out = gout
	}
	bout := bufio.NewWriter(out)

	if err := WriteRawDEMTo(bout, r); err != nil {
		return errors.Wrapf(err, "writing DEM %q", path)
	}
	if err := bout.Flush(); err != nil {
		return err
	}
	if gout != nil {
		if err := gout.Close(); err != nil {
			return err
		}
	}
	return f.Sync()
}

// WriteRawDEMTo writes the header and rows of r to out.
func WriteRawDEMTo(out io.Writer, r ElevationRaster) error {
	header := make([]byte, rawDEMHeaderSize)
	binary.LittleEndian.PutUint64(header, RawDEMMagic)
	binary.LittleEndian.PutUint64(header[8:], uint64(r.Width()))
	binary.LittleEndian.PutUint64(header[16:], uint64(r.Height()))
	if _, err := out.Write(header); err != nil {
		return err
	}

	row := make([]float64, r.Width())
	buf := make([]byte, 8*r.Width())
	for y := 0; y < r.Height(); y++ {
		if err := r.ReadRows(y, 1, row); err != nil {
			return err
		}
		for x, v := range row {
			binary.LittleEndian.PutUint64(buf[8*x:], math.Float64bits(v))
		}
		if _, err := out.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func parseRawDEMHeader(header []byte) (int, int, error) {
	if len(header) < rawDEMHeaderSize {
		return 0, 0, errors.New("raw DEM header is truncated")
	}
	if magic := binary.LittleEndian.Uint64(header); magic != RawDEMMagic {
		return 0, 0, errors.Errorf("bad raw DEM magic number %#x", magic)
	}
	width := binary.LittleEndian.Uint64(header[8:])
	height := binary.LittleEndian.Uint64(header[16:])
	if width == 0 || width >= maxDEMSide || height == 0 || height >= maxDEMSide {
		return 0, 0, errors.Errorf("bad width or height for DEM %v %v", width, height)
	}
	return int(width), int(height), nil
}

// ReadRawDEM reads a whole raw DEM from r into memory.
func ReadRawDEM(r io.Reader) (*DEM, error) {
	header := make([]byte, rawDEMHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(err, "reading raw DEM header")
	}
	width, height, err := parseRawDEMHeader(header)
	if err != nil {
		return nil, err
	}
	dem := NewDEM(width, height)
	buf := make([]byte, 8*width)
	for y := 0; y < height; y++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrapf(err, "reading DEM row %d", y)
		}
		decodeFloat64s(buf, dem.data[y*width:(y+1)*width])
	}
	return dem, nil
}

func decodeFloat64s(src []byte, dst []float64) {
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[8*i:]))
	}
}

// FileDEM is a raw DEM read from disk on demand.
type FileDEM struct {
	f      *os.File
	width  int
	height int
	buf    []byte
}

// OpenRawDEM opens an uncompressed raw DEM for row streaming.
func OpenRawDEM(path string) (*FileDEM, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening DEM %q", path)
	}
	header := make([]byte, rawDEMHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		utils.UncheckedError(f.Close())
		return nil, errors.Wrapf(err, "reading DEM %q", path)
	}
	width, height, err := parseRawDEMHeader(header)
	if err != nil {
		utils.UncheckedError(f.Close())
		return nil, errors.Wrapf(err, "reading DEM %q", path)
	}
	info, err := f.Stat()
	if err != nil {
		utils.UncheckedError(f.Close())
		return nil, err
	}
	if want := int64(rawDEMHeaderSize + 8*width*height); info.Size() < want {
		utils.UncheckedError(f.Close())
		return nil, errors.Errorf("DEM %q is truncated: %d bytes, want %d", path, info.Size(), want)
	}
	return &FileDEM{f: f, width: width, height: height}, nil
}

// Width returns the number of columns.
func (dem *FileDEM) Width() int {
	return dem.width
}

// Height returns the number of rows.
func (dem *FileDEM) Height() int {
	return dem.height
}

// ReadRows reads rows [y0, y0+n) from disk.
func (dem *FileDEM) ReadRows(y0, n int, dst []float64) error {
	if err := checkRows(dem, y0, n, dst); err != nil {
		return err
	}
	size := 8 * n * dem.width
	if cap(dem.buf) < size {
		dem.buf = make([]byte, size)
	}
	buf := dem.buf[:size]
	if _, err := dem.f.ReadAt(buf, int64(rawDEMHeaderSize+8*y0*dem.width)); err != nil {
		return errors.Wrapf(err, "reading rows %d-%d of %q", y0, y0+n, dem.f.Name())
	}
	decodeFloat64s(buf, dst[:n*dem.width])
	return nil
}

// Close closes the underlying file.
func (dem *FileDEM) Close() error {
	return dem.f.Close()
}

// OpenDEM opens an elevation raster. Raw DEMs (".dem", ".dem.gz") hold elevations directly.
// PNG and TIFF DEMs hold 8 or 16 bit gray samples converted through the metadata's
// elevation scale and offset; samples equal to the declared no-data value become NaN.
func OpenDEM(path string, md *georef.Metadata) (ElevationRaster, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".dem"):
		dem, err := OpenRawDEM(path)
		if err != nil {
			return nil, err
		}
		return dem, nil
	case strings.HasSuffix(lower, ".dem.gz"):
		//nolint:gosec
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening DEM %q", path)
		}
		defer utils.UncheckedErrorFunc(f.Close)
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "opening DEM %q", path)
		}
		dem, err := ReadRawDEM(bufio.NewReader(gr))
		if err != nil {
			return nil, errors.Wrapf(err, "reading DEM %q", path)
		}
		return dem, nil
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"):
		//nolint:gosec
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening DEM %q", path)
		}
		var img image.Image
		if strings.HasSuffix(lower, ".png") {
			img, err = png.Decode(bytes.NewReader(data))
		} else {
			img, err = tiff.Decode(bytes.NewReader(data))
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decoding DEM %q", path)
		}
		dem, err := DEMFromImage(img, md)
		if err != nil {
			return nil, errors.Wrapf(err, "DEM %q", path)
		}
		return dem, nil
	default:
		return nil, errors.Errorf("do not know how to read DEM %q", path)
	}
}

// DEMFromImage converts a gray image into elevations.
func DEMFromImage(img image.Image, md *georef.Metadata) (*DEM, error) {
	scale, offset := 1.0, 0.0
	nodata := NoNoData()
	if md != nil {
		scale, offset = md.Scale(), md.ElevationOffset
		nodata = NoDataFromPointer(md.NoData)
	}
	bounds := img.Bounds()
	dem := NewDEM(bounds.Dx(), bounds.Dy())
	if dem.width == 0 || dem.height == 0 {
		return nil, errors.New("DEM image is empty")
	}

	var sample func(x, y int) float64
	switch gray := img.(type) {
	case *image.Gray16:
		sample = func(x, y int) float64 { return float64(gray.Gray16At(x, y).Y) }
	case *image.Gray:
		sample = func(x, y int) float64 { return float64(gray.GrayAt(x, y).Y) }
	default:
		return nil, errors.Errorf("DEM image must be single channel gray, got %T", img)
	}

	for y := 0; y < dem.height; y++ {
		for x := 0; x < dem.width; x++ {
			raw := sample(bounds.Min.X+x, bounds.Min.Y+y)
			if nodata.IsNoData(raw) {
				dem.Set(x, y, math.NaN())
				continue
			}
			dem.Set(x, y, raw*scale+offset)
		}
	}
	return dem, nil
}
