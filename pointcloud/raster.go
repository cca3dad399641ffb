package pointcloud

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Raster is a fully decoded multi-channel float raster.
type Raster struct {
	Width  int
	Height int
	Format PixelFormat
	// Data is row-major with channels interleaved.
	Data []float64
}

// Pixel returns the channels of pixel (x, y).
func (r *Raster) Pixel(x, y int) []float64 {
	i := (y*r.Width + x) * r.Format.Channels
	return r.Data[i : i+r.Format.Channels]
}

// Vector returns pixel (x, y) of a 3-channel raster as a point.
func (r *Raster) Vector(x, y int) r3.Vector {
	p := r.Pixel(x, y)
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

// ReadRaster decodes a tiled float TIFF as written by TiledWriter.
func ReadRaster(path string) (*Raster, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	r, err := DecodeRaster(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return r, nil
}

type tiffField struct {
	typ    uint16
	values []uint32
}

func typeSize(typ uint16) int {
	switch typ {
	case typeShort:
		return 2
	case typeLong:
		return 4
	default:
		return 0
	}
}

func readFields(r io.ReaderAt) (map[uint16]tiffField, error) {
	header := make([]byte, tiffHeaderSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, errors.Wrap(err, "reading tiff header")
	}
	if !bytes.Equal(header[:4], tiffMagic) {
		return nil, errors.New("not a little-endian tiff")
	}
	ifdOffset := int64(binary.LittleEndian.Uint32(header[4:]))
	countBuf := make([]byte, 2)
	if _, err := r.ReadAt(countBuf, ifdOffset); err != nil {
		return nil, errors.Wrap(err, "reading tiff directory")
	}
	n := int(binary.LittleEndian.Uint16(countBuf))
	entries := make([]byte, 12*n)
	if _, err := r.ReadAt(entries, ifdOffset+2); err != nil {
		return nil, errors.Wrap(err, "reading tiff directory")
	}

	fields := map[uint16]tiffField{}
	for i := 0; i < n; i++ {
		e := entries[12*i:]
		tag := binary.LittleEndian.Uint16(e)
		typ := binary.LittleEndian.Uint16(e[2:])
		count := int(binary.LittleEndian.Uint32(e[4:]))
		size := typeSize(typ)
		if size == 0 {
			continue
		}
		raw := e[8:12]
		if size*count > 4 {
			raw = make([]byte, size*count)
			if _, err := r.ReadAt(raw, int64(binary.LittleEndian.Uint32(e[8:]))); err != nil {
				return nil, errors.Wrapf(err, "reading values of tag %d", tag)
			}
		}
		values := make([]uint32, count)
		for j := range values {
			if size == 2 {
				values[j] = uint32(binary.LittleEndian.Uint16(raw[2*j:]))
			} else {
				values[j] = binary.LittleEndian.Uint32(raw[4*j:])
			}
		}
		fields[tag] = tiffField{typ: typ, values: values}
	}
	return fields, nil
}

func single(fields map[uint16]tiffField, tag uint16) (int, error) {
	f, ok := fields[tag]
	if !ok || len(f.values) == 0 {
		return 0, errors.Errorf("missing tiff tag %d", tag)
	}
	return int(f.values[0]), nil
}

// DecodeRaster decodes a tiled float TIFF from r.
func DecodeRaster(r io.ReaderAt) (*Raster, error) {
	fields, err := readFields(r)
	if err != nil {
		return nil, err
	}
	var width, height, channels, tileW, tileH int
	for tag, dst := range map[uint16]*int{
		tagImageWidth:      &width,
		tagImageLength:     &height,
		tagSamplesPerPixel: &channels,
		tagTileWidth:       &tileW,
		tagTileLength:      &tileH,
	} {
		if *dst, err = single(fields, tag); err != nil {
			return nil, err
		}
	}
	if width < 1 || height < 1 || channels < 1 || tileW < 1 || tileH < 1 {
		return nil, errors.Errorf("invalid tiff geometry %dx%dx%d with %dx%d tiles", width, height, channels, tileW, tileH)
	}
	if c, err := single(fields, tagCompression); err == nil && c != 1 {
		return nil, errors.Errorf("unsupported tiff compression %d", c)
	}
	if p, err := single(fields, tagPlanarConfig); err == nil && p != 1 {
		return nil, errors.Errorf("unsupported tiff planar configuration %d", p)
	}
	if sf, err := single(fields, tagSampleFormat); err != nil || sf != sampleFormatIEEEFloat {
		return nil, errors.New("tiff samples are not IEEE floats")
	}
	bits, err := single(fields, tagBitsPerSample)
	if err != nil {
		return nil, err
	}
	format := PixelFormat{Channels: channels, Layout: LayoutGeneric}
	switch bits {
	case 64:
		format.Sample = SampleFloat64
	case 32:
		format.Sample = SampleFloat32
	default:
		return nil, errors.Errorf("unsupported float sample size %d", bits)
	}
	if p, err := single(fields, tagPhotometric); err == nil && p == photometricRGB {
		format.Layout = LayoutRGB
	}

	across := (width + tileW - 1) / tileW
	down := (height + tileH - 1) / tileH
	offsets := fields[tagTileOffsets].values
	if len(offsets) != across*down {
		return nil, errors.Errorf("expected %d tile offsets, got %d", across*down, len(offsets))
	}

	out := &Raster{Width: width, Height: height, Format: format, Data: make([]float64, width*height*channels)}
	sampleBytes := format.Sample.Bits() / 8
	tile := make([]byte, tileW*tileH*channels*sampleBytes)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			if _, err := r.ReadAt(tile, int64(offsets[ty*across+tx])); err != nil {
				return nil, errors.Wrapf(err, "reading tile (%d, %d)", tx, ty)
			}
			for y := 0; y < tileH && ty*tileH+y < height; y++ {
				for x := 0; x < tileW && tx*tileW+x < width; x++ {
					src := (y*tileW + x) * channels
					dst := ((ty*tileH+y)*width + tx*tileW + x) * channels
					for c := 0; c < channels; c++ {
						i := (src + c) * sampleBytes
						if sampleBytes == 8 {
							out.Data[dst+c] = math.Float64frombits(binary.LittleEndian.Uint64(tile[i:]))
						} else {
							out.Data[dst+c] = float64(math.Float32frombits(binary.LittleEndian.Uint32(tile[i:])))
						}
					}
				}
			}
		}
	}
	return out, nil
}
