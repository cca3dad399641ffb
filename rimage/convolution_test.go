package rimage

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestConvolveGrayFloat64(t *testing.T) {
	// horizontal ramp, 2 per column
	m := mat.NewDense(5, 6, nil)
	for y := 0; y < 5; y++ {
		for x := 0; x < 6; x++ {
			m.Set(y, x, 2*float64(x))
		}
	}
	sobelX := GetSobelX()
	gx, err := ConvolveGrayFloat64(m, &sobelX)
	test.That(t, err, test.ShouldBeNil)
	r, c := gx.Dims()
	test.That(t, r, test.ShouldEqual, 5)
	test.That(t, c, test.ShouldEqual, 6)
	test.That(t, gx.At(2, 3), test.ShouldEqual, 16.0)
	test.That(t, gx.At(0, 2), test.ShouldEqual, 16.0)
	// the edge column is repeated
	test.That(t, gx.At(2, 0), test.ShouldEqual, 8.0)
	test.That(t, gx.At(4, 5), test.ShouldEqual, 8.0)

	sobelY := GetSobelY()
	gy, err := ConvolveGrayFloat64(m, &sobelY)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Norm(gy, 1), test.ShouldEqual, 0.0)

	box := Kernel{Content: [][]float64{{1, 1, 1}}, Width: 3, Height: 1}
	summed, err := ConvolveGrayFloat64(m, &box)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summed.At(1, 1), test.ShouldEqual, 6.0)
	test.That(t, box.Size().X, test.ShouldEqual, 3)
}

func TestKernelValidate(t *testing.T) {
	sobel := GetSobelX()
	test.That(t, sobel.Validate(), test.ShouldBeNil)
	test.That(t, sobel.At(2, 1), test.ShouldEqual, 2.0)

	ragged := Kernel{Content: [][]float64{{1, 2}, {3}}, Width: 2, Height: 2}
	test.That(t, ragged.Validate(), test.ShouldNotBeNil)
	_, err := ConvolveGrayFloat64(mat.NewDense(2, 2, nil), &ragged)
	test.That(t, err, test.ShouldNotBeNil)

	empty := Kernel{}
	test.That(t, empty.Validate(), test.ShouldNotBeNil)
}

func TestConvolveSeparable(t *testing.T) {
	m := mat.NewDense(4, 4, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	})
	same := convolveSeparable(m, []float64{1})
	test.That(t, mat.Equal(same, m), test.ShouldBeTrue)

	weights := GaussianKernel1D(1)
	test.That(t, len(weights), test.ShouldEqual, 7)
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	test.That(t, sum, test.ShouldAlmostEqual, 1.0)
	test.That(t, GaussianKernel1D(0), test.ShouldResemble, []float64{1})

	blurred := convolveSeparable(mat.NewDense(3, 3, []float64{5, 5, 5, 5, 5, 5, 5, 5, 5}), weights)
	test.That(t, blurred.At(1, 1), test.ShouldAlmostEqual, 5.0)
	test.That(t, blurred.At(0, 2), test.ShouldAlmostEqual, 5.0)
}
