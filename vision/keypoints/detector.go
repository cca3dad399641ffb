package keypoints

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/demalign/rimage"
)

const (
	// DefaultThreshold is the minimum absolute difference-of-Gaussian response of a feature.
	DefaultThreshold = 0.03
	// DefaultMaxPoints caps how many features are kept per image.
	DefaultMaxPoints = 200
)

// DetectorConfig holds the parameters of a LoGDetector.
type DetectorConfig struct {
	Threshold       float64 `json:"threshold"`
	MaxPoints       int     `json:"max_points"`
	Octaves         int     `json:"octaves"`
	ScalesPerOctave int     `json:"scales_per_octave"`
	Sigma           float64 `json:"sigma"`
	// EdgeRatio rejects features whose principal curvatures differ by more than this factor.
	EdgeRatio float64 `json:"edge_ratio"`
}

// DefaultDetectorConfig returns the configuration used for orthoimage matching.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Threshold:       DefaultThreshold,
		MaxPoints:       DefaultMaxPoints,
		Octaves:         4,
		ScalesPerOctave: 3,
		Sigma:           1.6,
		EdgeRatio:       10,
	}
}

// LoadDetectorConfiguration loads a DetectorConfig from a json file. Unset fields keep their
// defaults.
func LoadDetectorConfiguration(file string) (*DetectorConfig, error) {
	config := DefaultDetectorConfig()
	filePath := filepath.Clean(file)
	//nolint:gosec
	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err := json.NewDecoder(configFile).Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "decoding %q", file)
	}
	if err := config.Validate(file); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate ensures all parts of the DetectorConfig are valid.
func (config *DetectorConfig) Validate(path string) error {
	if config.Threshold <= 0 {
		return utils.NewConfigValidationError(path, errors.New("threshold should be > 0"))
	}
	if config.MaxPoints < 1 {
		return utils.NewConfigValidationError(path, errors.New("max_points should be >= 1"))
	}
	if config.Octaves < 1 {
		return utils.NewConfigValidationError(path, errors.New("octaves should be >= 1"))
	}
	if config.ScalesPerOctave < 1 {
		return utils.NewConfigValidationError(path, errors.New("scales_per_octave should be >= 1"))
	}
	if config.Sigma <= 0 {
		return utils.NewConfigValidationError(path, errors.New("sigma should be > 0"))
	}
	if config.EdgeRatio <= 1 {
		return utils.NewConfigValidationError(path, errors.New("edge_ratio should be > 1"))
	}
	return nil
}

// minOctaveSide stops the pyramid once an octave gets smaller than this.
const minOctaveSide = 16

// LoGDetector finds blob-like features as extrema of a difference-of-Gaussian scale space, an
// approximation of the scale normalised Laplacian of Gaussian.
type LoGDetector struct {
	Config DetectorConfig
}

// NewLoGDetector returns a detector with the given configuration.
func NewLoGDetector(config DetectorConfig) *LoGDetector {
	return &LoGDetector{Config: config}
}

type octave struct {
	factor    float64
	gaussians []*rimage.FloatImage
	dogs      []*rimage.FloatImage
	sigmas    []float64
}

func (d *LoGDetector) buildOctaves(img *rimage.FloatImage) []octave {
	cfg := d.Config
	k := math.Pow(2, 1/float64(cfg.ScalesPerOctave))
	// the input is assumed to carry a blur of half a pixel
	base := img.GaussianBlur(math.Sqrt(math.Max(cfg.Sigma*cfg.Sigma-0.25, 0.01)))

	octaves := make([]octave, 0, cfg.Octaves)
	factor := 1.0
	for o := 0; o < cfg.Octaves; o++ {
		if base.Width() < minOctaveSide || base.Height() < minOctaveSide {
			break
		}
		oct := octave{factor: factor}
		oct.gaussians = append(oct.gaussians, base)
		oct.sigmas = append(oct.sigmas, cfg.Sigma)
		for i := 1; i < cfg.ScalesPerOctave+3; i++ {
			prev := cfg.Sigma * math.Pow(k, float64(i-1))
			next := prev * k
			blurred := oct.gaussians[i-1].GaussianBlur(math.Sqrt(next*next - prev*prev))
			oct.gaussians = append(oct.gaussians, blurred)
			oct.sigmas = append(oct.sigmas, next)
		}
		for i := 0; i+1 < len(oct.gaussians); i++ {
			oct.dogs = append(oct.dogs, oct.gaussians[i+1].Sub(oct.gaussians[i]))
		}
		octaves = append(octaves, oct)

		// the gaussian with twice the base sigma seeds the next octave
		base = oct.gaussians[cfg.ScalesPerOctave].Downsample()
		factor *= 2
	}
	return octaves
}

// Detect returns at most MaxPoints features sorted by decreasing interest.
func (d *LoGDetector) Detect(img *rimage.FloatImage) ([]InterestPoint, error) {
	if err := d.Config.Validate("detector"); err != nil {
		return nil, err
	}
	var ips []InterestPoint
	for _, oct := range d.buildOctaves(img) {
		for s := 1; s+1 < len(oct.dogs); s++ {
			ips = append(ips, d.extrema(oct, s)...)
		}
	}
	sort.SliceStable(ips, func(i, j int) bool {
		return ips[i].Interest > ips[j].Interest
	})
	if len(ips) > d.Config.MaxPoints {
		ips = ips[:d.Config.MaxPoints]
	}
	return ips, nil
}

func (d *LoGDetector) extrema(oct octave, s int) []InterestPoint {
	below, layer, above := oct.dogs[s-1], oct.dogs[s], oct.dogs[s+1]
	w, h := layer.Width(), layer.Height()
	edge := (d.Config.EdgeRatio + 1) * (d.Config.EdgeRatio + 1) / d.Config.EdgeRatio

	var ips []InterestPoint
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := layer.At(x, y)
			if math.Abs(v) <= d.Config.Threshold {
				continue
			}
			if !isExtremum(v, x, y, below, layer, above) {
				continue
			}

			dxx := layer.At(x+1, y) + layer.At(x-1, y) - 2*v
			dyy := layer.At(x, y+1) + layer.At(x, y-1) - 2*v
			dxy := (layer.At(x+1, y+1) - layer.At(x+1, y-1) - layer.At(x-1, y+1) + layer.At(x-1, y-1)) / 4
			trace := dxx + dyy
			det := dxx*dyy - dxy*dxy
			if det <= 0 || trace*trace/det >= edge {
				continue
			}

			ox := parabolicOffset(layer.At(x-1, y), v, layer.At(x+1, y))
			oy := parabolicOffset(layer.At(x, y-1), v, layer.At(x, y+1))
			sigma := oct.sigmas[s]
			ips = append(ips, InterestPoint{
				X:           (float64(x) + ox) * oct.factor,
				Y:           (float64(y) + oy) * oct.factor,
				Scale:       sigma * oct.factor,
				Orientation: computeOrientation(oct.gaussians[s], float64(x)+ox, float64(y)+oy, 3*sigma),
				Interest:    math.Abs(v),
				Polarity:    v > 0,
			})
		}
	}
	return ips
}

func isExtremum(v float64, x, y int, below, layer, above *rimage.FloatImage) bool {
	isMax, isMin := true, true
	for _, img := range []*rimage.FloatImage{below, layer, above} {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if img == layer && dx == 0 && dy == 0 {
					continue
				}
				n := img.At(x+dx, y+dy)
				if n >= v {
					isMax = false
				}
				if n <= v {
					isMin = false
				}
			}
		}
		if !isMax && !isMin {
			return false
		}
	}
	return isMax || isMin
}

// parabolicOffset returns where the parabola through three equally spaced samples peaks,
// relative to the middle one, limited to half a sample.
func parabolicOffset(left, center, right float64) float64 {
	denom := left - 2*center + right
	if denom == 0 {
		return 0
	}
	offset := 0.5 * (left - right) / denom
	return math.Max(-0.5, math.Min(0.5, offset))
}
