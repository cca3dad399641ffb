package pointcloud

import (
	"fmt"

	"github.com/pkg/errors"
)

// SampleType is the numeric type of one channel of one pixel.
type SampleType int

const (
	// SampleFloat64 is an IEEE 754 double.
	SampleFloat64 SampleType = iota
	// SampleFloat32 is an IEEE 754 single.
	SampleFloat32
)

// Bits returns the size of one sample in bits.
func (s SampleType) Bits() int {
	switch s {
	case SampleFloat64:
		return 64
	case SampleFloat32:
		return 32
	default:
		return 0
	}
}

func (s SampleType) String() string {
	switch s {
	case SampleFloat64:
		return "float64"
	case SampleFloat32:
		return "float32"
	default:
		return fmt.Sprintf("SampleType(%d)", int(s))
	}
}

// ChannelLayout says how readers should interpret the channels of a pixel.
type ChannelLayout int

const (
	// LayoutGeneric channels carry no color meaning, such as the X, Y and Z of a point.
	LayoutGeneric ChannelLayout = iota
	// LayoutRGB channels are red, green and blue.
	LayoutRGB
)

// PixelFormat describes the pixels of a raster.
type PixelFormat struct {
	Channels int
	Sample   SampleType
	Layout   ChannelLayout
}

// Generic3Float64 is a 3-channel double raster, used for per-pixel Cartesian points.
var Generic3Float64 = PixelFormat{Channels: 3, Sample: SampleFloat64, Layout: LayoutGeneric}

// BytesPerPixel returns the size of one pixel.
func (f PixelFormat) BytesPerPixel() int {
	return f.Channels * f.Sample.Bits() / 8
}

// Validate ensures the format can be written.
func (f PixelFormat) Validate() error {
	if f.Channels < 1 {
		return errors.Errorf("pixel format needs at least one channel, got %d", f.Channels)
	}
	if f.Sample.Bits() == 0 {
		return errors.Errorf("unsupported sample type %v", f.Sample)
	}
	if f.Layout == LayoutRGB && f.Channels != 3 {
		return errors.Errorf("rgb layout needs 3 channels, got %d", f.Channels)
	}
	return nil
}

func (f PixelFormat) String() string {
	layout := "generic"
	if f.Layout == LayoutRGB {
		layout = "rgb"
	}
	return fmt.Sprintf("%dx%v %s", f.Channels, f.Sample, layout)
}
