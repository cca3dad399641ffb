package rimage

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"golang.org/x/image/bmp"
	"gonum.org/v1/gonum/mat"

	rutils "go.viam.com/demalign/utils"
)

// FloatImage is a single channel image with intensities in [0, 1].
type FloatImage struct {
	data *mat.Dense
}

// NewFloatImage returns a black width x height image.
func NewFloatImage(width, height int) *FloatImage {
	return &FloatImage{data: mat.NewDense(height, width, nil)}
}

// NewFloatImageFromDense wraps m, which is indexed (row, column).
func NewFloatImageFromDense(m *mat.Dense) *FloatImage {
	return &FloatImage{data: m}
}

// NewFloatImageFromImage converts any image to gray intensities.
func NewFloatImageFromImage(img image.Image) *FloatImage {
	var gray *image.Gray
	if g, ok := img.(*image.Gray); ok {
		gray = g
	} else {
		gray = imageToGray(imaging.Grayscale(img))
	}
	return NewFloatImageFromGray(gray)
}

func imageToGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)))
		}
	}
	return gray
}

// NewFloatImageFromGray scales 8 bit intensities into [0, 1].
func NewFloatImageFromGray(gray *image.Gray) *FloatImage {
	bounds := gray.Bounds()
	fi := NewFloatImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			fi.data.Set(y, x, float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)/255)
		}
	}
	return fi
}

// LoadGray reads an image file and converts it to gray. PPM/PGM and BMP files use their own
// decoders, everything else goes through imaging.
func LoadGray(path string) (*FloatImage, error) {
	var img image.Image
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ppm", ".pgm", ".pbm", ".pnm":
		img, err = decodeFile(path, func(f *os.File) (image.Image, error) { return ppm.Decode(f) })
	case ".bmp":
		img, err = decodeFile(path, func(f *os.File) (image.Image, error) { return bmp.Decode(f) })
	default:
		img, err = imaging.Open(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading image %q", path)
	}
	return NewFloatImageFromImage(img), nil
}

func decodeFile(path string, decode func(f *os.File) (image.Image, error)) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return decode(f)
}

// Width returns the number of columns.
func (fi *FloatImage) Width() int {
	_, c := fi.data.Dims()
	return c
}

// Height returns the number of rows.
func (fi *FloatImage) Height() int {
	r, _ := fi.data.Dims()
	return r
}

// Dense returns the backing matrix.
func (fi *FloatImage) Dense() *mat.Dense {
	return fi.data
}

// At returns the intensity at column x, row y.
func (fi *FloatImage) At(x, y int) float64 {
	return fi.data.At(y, x)
}

// AtClamped returns the intensity at the nearest pixel inside the image.
func (fi *FloatImage) AtClamped(x, y int) float64 {
	return fi.data.At(rutils.ClampInt(y, 0, fi.Height()-1), rutils.ClampInt(x, 0, fi.Width()-1))
}

// Set stores an intensity at column x, row y.
func (fi *FloatImage) Set(x, y int, v float64) {
	fi.data.Set(y, x, v)
}

// Bilinear interpolates at a fractional location, clamping at the borders.
func (fi *FloatImage) Bilinear(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)
	top := fi.AtClamped(x0, y0)*(1-fx) + fi.AtClamped(x0+1, y0)*fx
	bottom := fi.AtClamped(x0, y0+1)*(1-fx) + fi.AtClamped(x0+1, y0+1)*fx
	return top*(1-fy) + bottom*fy
}

// GaussianBlur returns a copy blurred with the given standard deviation in pixels.
func (fi *FloatImage) GaussianBlur(sigma float64) *FloatImage {
	return NewFloatImageFromDense(convolveSeparable(fi.data, GaussianKernel1D(sigma)))
}

// Gradients returns the horizontal and vertical Sobel responses.
func (fi *FloatImage) Gradients() (*FloatImage, *FloatImage, error) {
	sobelX, sobelY := GetSobelX(), GetSobelY()
	gx, err := ConvolveGrayFloat64(fi.data, &sobelX)
	if err != nil {
		return nil, nil, err
	}
	gy, err := ConvolveGrayFloat64(fi.data, &sobelY)
	if err != nil {
		return nil, nil, err
	}
	return NewFloatImageFromDense(gx), NewFloatImageFromDense(gy), nil
}

// Sub returns fi - other. Both images must have the same size.
func (fi *FloatImage) Sub(other *FloatImage) *FloatImage {
	var out mat.Dense
	out.Sub(fi.data, other.data)
	return NewFloatImageFromDense(&out)
}

// Downsample returns every second pixel in each direction.
func (fi *FloatImage) Downsample() *FloatImage {
	w, h := (fi.Width()+1)/2, (fi.Height()+1)/2
	out := NewFloatImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, fi.At(2*x, 2*y))
		}
	}
	return out
}

// ToGray converts back to 8 bit intensities, clamping to [0, 1].
func (fi *FloatImage) ToGray() *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, fi.Width(), fi.Height()))
	for y := 0; y < fi.Height(); y++ {
		for x := 0; x < fi.Width(); x++ {
			gray.SetGray(x, y, color.Gray{uint8(math.Round(rutils.ClampF64(fi.At(x, y), 0, 1) * 255))})
		}
	}
	return gray
}
