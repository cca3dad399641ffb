package rimage

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"go.viam.com/test"
)

func TestGaussianKernel(t *testing.T) {
	weights := GaussianKernel1D(1.5)
	test.That(t, len(weights), test.ShouldEqual, 11)
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	test.That(t, sum, test.ShouldAlmostEqual, 1.0)
	test.That(t, weights[5], test.ShouldBeGreaterThan, weights[4])
	test.That(t, weights[4], test.ShouldAlmostEqual, weights[6])
	test.That(t, GaussianKernel1D(0), test.ShouldResemble, []float64{1})
}

func TestGaussianBlur(t *testing.T) {
	flat := NewFloatImage(9, 7)
	for y := 0; y < 7; y++ {
		for x := 0; x < 9; x++ {
			flat.Set(x, y, 0.25)
		}
	}
	blurred := flat.GaussianBlur(2)
	for y := 0; y < 7; y++ {
		for x := 0; x < 9; x++ {
			test.That(t, blurred.At(x, y), test.ShouldAlmostEqual, 0.25)
		}
	}

	spot := NewFloatImage(21, 21)
	spot.Set(10, 10, 1)
	blurred = spot.GaussianBlur(1)
	test.That(t, blurred.At(10, 10), test.ShouldBeLessThan, 1.0)
	test.That(t, blurred.At(10, 10), test.ShouldBeGreaterThan, blurred.At(11, 10))
	test.That(t, blurred.At(11, 10), test.ShouldAlmostEqual, blurred.At(10, 9))
	test.That(t, blurred.At(0, 0), test.ShouldAlmostEqual, 0.0)
}

func TestGradients(t *testing.T) {
	ramp := NewFloatImage(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			ramp.Set(x, y, float64(x)*0.1)
		}
	}
	gx, gy, err := ramp.Gradients()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gx.At(2, 2), test.ShouldAlmostEqual, 0.8)
	test.That(t, gy.At(2, 2), test.ShouldAlmostEqual, 0.0)
	// clamped border sees half the slope
	test.That(t, gx.At(0, 2), test.ShouldAlmostEqual, 0.4)

	_, err = ConvolveGrayFloat64(ramp.Dense(), &Kernel{Content: [][]float64{{1}}, Width: 2, Height: 1})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFloatImageHelpers(t *testing.T) {
	fi := NewFloatImage(2, 2)
	fi.Set(0, 0, 0)
	fi.Set(1, 0, 1)
	fi.Set(0, 1, 0)
	fi.Set(1, 1, 1)
	test.That(t, fi.Bilinear(0.5, 0.5), test.ShouldAlmostEqual, 0.5)
	test.That(t, fi.Bilinear(5, -3), test.ShouldAlmostEqual, 1.0)
	test.That(t, fi.AtClamped(-1, 7), test.ShouldEqual, 0.0)

	diff := fi.Sub(fi)
	test.That(t, diff.At(1, 1), test.ShouldEqual, 0.0)

	big := NewFloatImage(5, 3)
	big.Set(4, 2, 0.5)
	small := big.Downsample()
	test.That(t, small.Width(), test.ShouldEqual, 3)
	test.That(t, small.Height(), test.ShouldEqual, 2)
	test.That(t, small.At(2, 1), test.ShouldEqual, 0.5)

	gray := big.ToGray()
	test.That(t, gray.GrayAt(4, 2).Y, test.ShouldEqual, uint8(128))
	test.That(t, gray.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))
}

func TestLoadGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	img.SetGray(1, 2, color.Gray{255})
	img.SetGray(3, 0, color.Gray{51})
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "ortho.png")
	test.That(t, imaging.Save(img, pngPath), test.ShouldBeNil)

	pgmPath := filepath.Join(dir, "ortho.pgm")
	f, err := os.Create(pgmPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ppm.Encode(f, img), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	for _, path := range []string{pngPath, pgmPath} {
		fi, err := LoadGray(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, fi.Width(), test.ShouldEqual, 4)
		test.That(t, fi.Height(), test.ShouldEqual, 3)
		test.That(t, fi.At(1, 2), test.ShouldAlmostEqual, 1.0)
		test.That(t, fi.At(3, 0), test.ShouldAlmostEqual, 0.2)
		test.That(t, fi.At(0, 0), test.ShouldAlmostEqual, 0.0)
	}

	_, err = LoadGray(filepath.Join(dir, "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}
