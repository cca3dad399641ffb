// Package keypoints detects, describes and matches interest points in gray images.
package keypoints

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/demalign/rimage"
)

// InterestPoint is a located, oriented and described image feature. X and Y are in full
// resolution pixel coordinates.
type InterestPoint struct {
	X           float64
	Y           float64
	Scale       float64
	Orientation float64
	Interest    float64
	// Polarity is true for features darker than their surroundings.
	Polarity   bool
	Descriptor []float32
}

// Point returns the location of the interest point.
func (ip InterestPoint) Point() r2.Point {
	return r2.Point{X: ip.X, Y: ip.Y}
}

// Detector finds interest points in an image.
type Detector interface {
	Detect(img *rimage.FloatImage) ([]InterestPoint, error)
}

// DescriptorGenerator fills in the Descriptor of each interest point.
type DescriptorGenerator interface {
	Describe(img *rimage.FloatImage, ips []InterestPoint) error
}

// computeOrientation returns the angle of the intensity centroid in a disc around (cx, cy), like
// the orientation of ORB features. radius is in pixels of img.
func computeOrientation(img *rimage.FloatImage, cx, cy, radius float64) float64 {
	r := int(math.Ceil(radius))
	if r < 1 {
		r = 1
	}
	ix, iy := int(math.Round(cx)), int(math.Round(cy))
	mean := 0.0
	n := 0
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			mean += img.AtClamped(ix+dx, iy+dy)
			n++
		}
	}
	mean /= float64(n)

	m01, m10 := 0.0, 0.0
	for dy := -r; dy <= r; dy++ {
		m01Temp := 0.0
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			pixVal := img.AtClamped(ix+dx, iy+dy) - mean
			m10 += pixVal * float64(dx)
			m01Temp += pixVal
		}
		m01 += m01Temp * float64(dy)
	}
	return math.Atan2(m01, m10)
}

// PlotKeypoints draws interest points over img and saves the result as a PNG.
func PlotKeypoints(img *image.Gray, ips []InterestPoint, outName string) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	dc := gg.NewContext(w, h)
	dc.DrawImage(img, 0, 0)

	dc.SetRGBA(0, 0, 1, 0.5)
	for _, ip := range ips {
		dc.DrawCircle(ip.X, ip.Y, math.Max(ip.Scale, 1))
		dc.Stroke()
	}
	return dc.SavePNG(outName)
}

// PlotMatches draws imgA and imgB side by side with a line joining each matched pair, and saves
// the result as a PNG.
func PlotMatches(imgA, imgB *image.Gray, a, b []InterestPoint, outName string) error {
	if len(a) != len(b) {
		return errors.Errorf("cannot plot %d matches against %d", len(a), len(b))
	}
	wA, hA := imgA.Bounds().Dx(), imgA.Bounds().Dy()
	wB, hB := imgB.Bounds().Dx(), imgB.Bounds().Dy()
	h := hA
	if hB > h {
		h = hB
	}

	dc := gg.NewContext(wA+wB, h)
	dc.SetColor(color.Black)
	dc.Clear()
	dc.DrawImage(imgA, 0, 0)
	dc.DrawImage(imgB, wA, 0)

	dc.SetLineWidth(1)
	for i := range a {
		hue := float64(i) / math.Max(float64(len(a)), 1)
		dc.SetRGBA(1-hue, hue, 0.5, 0.8)
		dc.DrawLine(a[i].X, a[i].Y, b[i].X+float64(wA), b[i].Y)
		dc.Stroke()
		dc.DrawCircle(a[i].X, a[i].Y, 2)
		dc.DrawCircle(b[i].X+float64(wA), b[i].Y, 2)
		dc.Fill()
	}
	return dc.SavePNG(outName)
}
