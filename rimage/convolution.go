package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/demalign/utils"
)

// Kernel is a convolution filter. Content is indexed [row][column].
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// Size returns the kernel extent as (width, height).
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel weight at column x, row y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// Validate ensures Content matches the declared size.
func (k *Kernel) Validate() error {
	if k.Width <= 0 || k.Height <= 0 || len(k.Content) != k.Height {
		return errors.Errorf("kernel of %dx%d has %d rows", k.Width, k.Height, len(k.Content))
	}
	for _, row := range k.Content {
		if len(row) != k.Width {
			return errors.Errorf("kernel row has %d columns, want %d", len(row), k.Width)
		}
	}
	return nil
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	},
		3,
		3,
	}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	},
		3,
		3,
	}
}

// GaussianKernel1D returns normalised Gaussian weights spanning three sigmas on each side.
func GaussianKernel1D(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(3 * sigma))
	weights := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range weights {
		d := float64(i - radius)
		weights[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// ConvolveGrayFloat64 convolves m with filter centered on each pixel. Pixels past the border
// repeat the nearest edge pixel.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	ax, ay := filter.Width/2, filter.Height/2
	utils.ForEachBand(h, func(from, to int) {
		for y := from; y < to; y++ {
			for x := 0; x < w; x++ {
				sum := 0.0
				for ky := 0; ky < filter.Height; ky++ {
					sy := utils.ClampInt(y+ky-ay, 0, h-1)
					for kx := 0; kx < filter.Width; kx++ {
						sx := utils.ClampInt(x+kx-ax, 0, w-1)
						sum += m.At(sy, sx) * filter.At(kx, ky)
					}
				}
				result.Set(y, x, sum)
			}
		}
	})
	return result, nil
}

// convolveSeparable applies the same 1D weights along rows and then along columns. Both passes
// split the image into bands of rows.
func convolveSeparable(m *mat.Dense, weights []float64) *mat.Dense {
	h, w := m.Dims()
	radius := len(weights) / 2
	rows := mat.NewDense(h, w, nil)
	utils.ForEachBand(h, func(from, to int) {
		for y := from; y < to; y++ {
			for x := 0; x < w; x++ {
				sum := 0.0
				for i, k := range weights {
					sum += k * m.At(y, utils.ClampInt(x+i-radius, 0, w-1))
				}
				rows.Set(y, x, sum)
			}
		}
	})
	result := mat.NewDense(h, w, nil)
	utils.ForEachBand(h, func(from, to int) {
		for y := from; y < to; y++ {
			for x := 0; x < w; x++ {
				sum := 0.0
				for i, k := range weights {
					sum += k * rows.At(utils.ClampInt(y+i-radius, 0, h-1), x)
				}
				result.Set(y, x, sum)
			}
		}
	})
	return result
}
