package pointcloud

import (
	"encoding/binary"
	"image"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// TIFF tags written by TiledWriter.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagSamplesPerPixel = 277
	tagPlanarConfig    = 284
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagExtraSamples    = 338
	tagSampleFormat    = 339
)

const (
	typeShort = 3
	typeLong  = 4

	photometricMinIsBlack = 1
	photometricRGB        = 2
	sampleFormatIEEEFloat = 3

	tiffHeaderSize = 8
	// DefaultTileSize is the side of a square output tile.
	DefaultTileSize = 256
)

var tiffMagic = []byte{'I', 'I', 42, 0}

// TiledWriter streams a tiled, uncompressed, little-endian TIFF. Tiles may be written in any
// order; the directory is appended and the header patched on Close.
type TiledWriter struct {
	w        io.WriteSeeker
	closer   io.Closer
	width    int
	height   int
	tileSize int
	format   PixelFormat

	offset  int64
	offsets []uint32
	written []bool
	count   int
	buf     []byte
	closed  bool
}

// NewTiledWriter writes a width×height raster of square tiles to w. The tile size must be a
// positive multiple of 16.
func NewTiledWriter(w io.WriteSeeker, width, height, tileSize int, format PixelFormat) (*TiledWriter, error) {
	if width < 1 || height < 1 {
		return nil, errors.Errorf("raster size must be positive, got %dx%d", width, height)
	}
	if tileSize < 16 || tileSize%16 != 0 {
		return nil, errors.Errorf("tile size must be a positive multiple of 16, got %d", tileSize)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	tw := &TiledWriter{
		w:        w,
		width:    width,
		height:   height,
		tileSize: tileSize,
		format:   format,
	}
	n := tw.TilesAcross() * tw.TilesDown()
	tw.offsets = make([]uint32, n)
	tw.written = make([]bool, n)
	tw.buf = make([]byte, tw.TileBytes())

	header := make([]byte, tiffHeaderSize)
	copy(header, tiffMagic)
	if _, err := w.Write(header); err != nil {
		return nil, errors.Wrap(err, "writing tiff header")
	}
	tw.offset = tiffHeaderSize
	return tw, nil
}

// Create makes a TiledWriter backed by a new file at path. Close closes the file.
func Create(path string, width, height, tileSize int, format PixelFormat) (*TiledWriter, error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %q", path)
	}
	tw, err := NewTiledWriter(f, width, height, tileSize, format)
	if err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	tw.closer = f
	return tw, nil
}

// Width of the raster.
func (tw *TiledWriter) Width() int { return tw.width }

// Height of the raster.
func (tw *TiledWriter) Height() int { return tw.height }

// TileSize is the side of a tile in pixels.
func (tw *TiledWriter) TileSize() int { return tw.tileSize }

// Format of the pixels.
func (tw *TiledWriter) Format() PixelFormat { return tw.format }

// TilesAcross is the number of tile columns.
func (tw *TiledWriter) TilesAcross() int { return (tw.width + tw.tileSize - 1) / tw.tileSize }

// TilesDown is the number of tile rows.
func (tw *TiledWriter) TilesDown() int { return (tw.height + tw.tileSize - 1) / tw.tileSize }

// TileLen is the number of samples in a full tile.
func (tw *TiledWriter) TileLen() int { return tw.tileSize * tw.tileSize * tw.format.Channels }

// TileBytes is the encoded size of one tile.
func (tw *TiledWriter) TileBytes() int { return tw.tileSize * tw.tileSize * tw.format.BytesPerPixel() }

// TileBounds returns the pixels of tile (tx, ty) that lie inside the raster.
func (tw *TiledWriter) TileBounds(tx, ty int) image.Rectangle {
	r := image.Rect(tx*tw.tileSize, ty*tw.tileSize, (tx+1)*tw.tileSize, (ty+1)*tw.tileSize)
	return r.Intersect(image.Rect(0, 0, tw.width, tw.height))
}

// WriteTile writes tile (tx, ty). data holds TileLen samples, row-major with channels
// interleaved; samples outside the raster should be zero.
func (tw *TiledWriter) WriteTile(tx, ty int, data []float64) error {
	if tw.closed {
		return errors.New("tiled writer is closed")
	}
	if tx < 0 || ty < 0 || tx >= tw.TilesAcross() || ty >= tw.TilesDown() {
		return errors.Errorf("tile (%d, %d) outside %dx%d tile grid", tx, ty, tw.TilesAcross(), tw.TilesDown())
	}
	if len(data) != tw.TileLen() {
		return errors.Errorf("tile needs %d samples, got %d", tw.TileLen(), len(data))
	}
	idx := ty*tw.TilesAcross() + tx
	if tw.written[idx] {
		return errors.Errorf("tile (%d, %d) already written", tx, ty)
	}
	if tw.offset+int64(len(tw.buf)) > math.MaxUint32 {
		return errors.New("point cloud raster exceeds the 4GiB classic tiff limit")
	}

	switch tw.format.Sample {
	case SampleFloat64:
		for i, v := range data {
			binary.LittleEndian.PutUint64(tw.buf[i*8:], math.Float64bits(v))
		}
	case SampleFloat32:
		for i, v := range data {
			binary.LittleEndian.PutUint32(tw.buf[i*4:], math.Float32bits(float32(v)))
		}
	}
	if _, err := tw.w.Write(tw.buf); err != nil {
		return errors.Wrapf(err, "writing tile (%d, %d)", tx, ty)
	}
	tw.offsets[idx] = uint32(tw.offset)
	tw.written[idx] = true
	tw.count++
	tw.offset += int64(len(tw.buf))
	return nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shorts(vals ...int) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func longs(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

func (tw *TiledWriter) entries() []ifdEntry {
	ch := tw.format.Channels
	bits := make([]int, ch)
	formats := make([]int, ch)
	for i := range bits {
		bits[i] = tw.format.Sample.Bits()
		formats[i] = sampleFormatIEEEFloat
	}
	counts := make([]uint32, len(tw.offsets))
	for i := range counts {
		counts[i] = uint32(tw.TileBytes())
	}
	photometric := photometricMinIsBlack
	extra := ch - 1
	if tw.format.Layout == LayoutRGB {
		photometric = photometricRGB
		extra = 0
	}

	out := []ifdEntry{
		{tagImageWidth, typeLong, 1, longs(uint32(tw.width))},
		{tagImageLength, typeLong, 1, longs(uint32(tw.height))},
		{tagBitsPerSample, typeShort, uint32(ch), shorts(bits...)},
		{tagCompression, typeShort, 1, shorts(1)},
		{tagPhotometric, typeShort, 1, shorts(photometric)},
		{tagSamplesPerPixel, typeShort, 1, shorts(ch)},
		{tagPlanarConfig, typeShort, 1, shorts(1)},
		{tagTileWidth, typeLong, 1, longs(uint32(tw.tileSize))},
		{tagTileLength, typeLong, 1, longs(uint32(tw.tileSize))},
		{tagTileOffsets, typeLong, uint32(len(tw.offsets)), longs(tw.offsets...)},
		{tagTileByteCounts, typeLong, uint32(len(counts)), longs(counts...)},
	}
	if extra > 0 {
		// unspecified extra samples
		out = append(out, ifdEntry{tagExtraSamples, typeShort, uint32(extra), shorts(make([]int, extra)...)})
	}
	out = append(out, ifdEntry{tagSampleFormat, typeShort, uint32(ch), shorts(formats...)})
	sort.Slice(out, func(i, j int) bool { return out[i].tag < out[j].tag })
	return out
}

// encodeIFD lays out the directory at offset followed by the values too large to sit inline.
func (tw *TiledWriter) encodeIFD(offset int64) ([]byte, error) {
	entries := tw.entries()
	ifdSize := 2 + 12*len(entries) + 4
	ifd := make([]byte, ifdSize)
	var extra []byte
	binary.LittleEndian.PutUint16(ifd, uint16(len(entries)))
	for i, e := range entries {
		b := ifd[2+12*i:]
		binary.LittleEndian.PutUint16(b, e.tag)
		binary.LittleEndian.PutUint16(b[2:], e.typ)
		binary.LittleEndian.PutUint32(b[4:], e.count)
		if len(e.data) <= 4 {
			copy(b[8:12], e.data)
			continue
		}
		at := offset + int64(ifdSize) + int64(len(extra))
		if at > math.MaxUint32 {
			return nil, errors.New("point cloud raster exceeds the 4GiB classic tiff limit")
		}
		binary.LittleEndian.PutUint32(b[8:], uint32(at))
		extra = append(extra, e.data...)
		if len(extra)%2 == 1 {
			extra = append(extra, 0)
		}
	}
	return append(ifd, extra...), nil
}

// Close writes the directory and patches the header. Every tile must have been written.
func (tw *TiledWriter) Close() (err error) {
	if tw.closed {
		return nil
	}
	tw.closed = true
	if tw.closer != nil {
		defer func() {
			err = multierr.Combine(err, tw.closer.Close())
		}()
	}
	if missing := len(tw.written) - tw.count; missing > 0 {
		return errors.Errorf("%d of %d tiles were never written", missing, len(tw.written))
	}

	offset := tw.offset
	if offset%2 == 1 {
		if _, err := tw.w.Write([]byte{0}); err != nil {
			return errors.Wrap(err, "padding tiff directory")
		}
		offset++
	}
	ifd, err := tw.encodeIFD(offset)
	if err != nil {
		return err
	}
	if _, err := tw.w.Write(ifd); err != nil {
		return errors.Wrap(err, "writing tiff directory")
	}
	if _, err := tw.w.Seek(4, io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking to tiff header")
	}
	if _, err := tw.w.Write(longs(uint32(offset))); err != nil {
		return errors.Wrap(err, "patching tiff header")
	}
	return nil
}
