package keypoints

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/demalign/rimage"
)

const (
	descriptorCells   = 4
	descriptorBins    = 8
	descriptorSamples = 16
	descriptorClamp   = 0.2

	// DescriptorLength is the number of floats in a GradientDescriptor.
	DescriptorLength = descriptorCells * descriptorCells * descriptorBins
)

// GradientDescriptor describes the patch around each interest point with histograms of gradient
// orientations over a 4x4 grid of cells, rotated to the point's orientation.
type GradientDescriptor struct{}

// Describe fills in the Descriptor of every interest point.
func (GradientDescriptor) Describe(img *rimage.FloatImage, ips []InterestPoint) error {
	if img == nil {
		return errors.New("cannot describe interest points without an image")
	}
	// blurred copies of img keyed by blur sigma in half pixels
	blurred := map[int]*rimage.FloatImage{}
	for i := range ips {
		step := math.Max(ips[i].Scale/2, 0.5)
		key := int(math.Round(step))
		src, ok := blurred[key]
		if !ok {
			src = img
			if key > 0 {
				src = img.GaussianBlur(float64(key) / 2)
			}
			blurred[key] = src
		}
		ips[i].Descriptor = describe(src, ips[i], step)
	}
	return nil
}

func describe(img *rimage.FloatImage, ip InterestPoint, step float64) []float32 {
	hist := make([]float64, DescriptorLength)
	cosT, sinT := math.Cos(ip.Orientation), math.Sin(ip.Orientation)
	half := float64(descriptorSamples-1) / 2
	sigmaW := float64(descriptorSamples) / 2

	for j := 0; j < descriptorSamples; j++ {
		for i := 0; i < descriptorSamples; i++ {
			u := (float64(i) - half) * step
			v := (float64(j) - half) * step
			px := ip.X + u*cosT - v*sinT
			py := ip.Y + u*sinT + v*cosT

			gu := img.Bilinear(px+step*cosT, py+step*sinT) - img.Bilinear(px-step*cosT, py-step*sinT)
			gv := img.Bilinear(px-step*sinT, py+step*cosT) - img.Bilinear(px+step*sinT, py-step*cosT)
			mag := math.Hypot(gu, gv)
			if mag == 0 {
				continue
			}
			angle := math.Atan2(gv, gu)
			if angle < 0 {
				angle += 2 * math.Pi
			}
			bin := int(angle/(2*math.Pi)*descriptorBins) % descriptorBins

			du, dv := float64(i)-half, float64(j)-half
			weight := math.Exp(-(du*du + dv*dv) / (2 * sigmaW * sigmaW))
			cell := (j/(descriptorSamples/descriptorCells))*descriptorCells + i/(descriptorSamples/descriptorCells)
			hist[cell*descriptorBins+bin] += weight * mag
		}
	}

	normalize(hist)
	for i, h := range hist {
		hist[i] = math.Min(h, descriptorClamp)
	}
	normalize(hist)

	desc := make([]float32, DescriptorLength)
	for i, h := range hist {
		desc[i] = float32(h)
	}
	return desc
}

func normalize(v []float64) {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}
