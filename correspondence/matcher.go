package correspondence

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/demalign/logging"
	"go.viam.com/demalign/rimage"
	"go.viam.com/demalign/utils"
	"go.viam.com/demalign/vision/keypoints"
)

// Matcher finds corresponding interest points between two images, reading and writing its
// intermediate results through a Store.
type Matcher struct {
	Store      Store
	Detector   keypoints.Detector
	Params     DetectorParams
	Describer  keypoints.DescriptorGenerator
	MatchRatio float64
	// LoadImage reads an image from disk. It defaults to rimage.LoadGray.
	LoadImage func(path string) (*rimage.FloatImage, error)
	Progress  utils.ProgressReporter

	logger logging.Logger
}

// NewMatcher returns a Matcher using the blob detector and gradient descriptor with their default
// parameters.
func NewMatcher(store Store, logger logging.Logger) *Matcher {
	cfg := keypoints.DefaultDetectorConfig()
	return &Matcher{
		Store:    store,
		Detector: keypoints.NewLoGDetector(cfg),
		Params: DetectorParams{
			Detector:  "LoG",
			Threshold: cfg.Threshold,
			MaxPoints: cfg.MaxPoints,
		},
		Describer:  keypoints.GradientDescriptor{},
		MatchRatio: keypoints.DefaultMatchRatio,
		LoadImage:  rimage.LoadGray,
		Progress:   utils.NoopProgress{},
		logger:     logger,
	}
}

// Match returns parallel slices of interest points in imageA and imageB that correspond, at most
// maxPoints of them. Finding no interest points is not an error and yields no matches.
//
// A cached match file is returned as is. Otherwise cached interest points of both images are
// matched again, and when either is missing both images go through detection and description
// first. Every computed artifact is written back to the Store.
func (m *Matcher) Match(ctx context.Context, imageA, imageB string, maxPoints int) ([]keypoints.InterestPoint, []keypoints.InterestPoint, error) {
	matchKey := MatchKey(imageA, imageB)
	cached, err := m.Store.Exists(matchKey)
	if err != nil {
		return nil, nil, err
	}
	if cached {
		data, err := m.Store.Get(matchKey)
		if err != nil {
			return nil, nil, err
		}
		a, b, err := DecodeMatches(data)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "match file %q", matchKey)
		}
		m.logger.Infow("using cached match file", "path", matchKey, "matches", len(a))
		return a, b, nil
	}

	ipsA, ipsB, err := m.interestPoints(ctx, imageA, imageB)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var a, b []keypoints.InterestPoint
	if len(ipsA) == 0 || len(ipsB) == 0 {
		m.logger.Warnw("no interest points to match", "image_a", imageA, "count_a", len(ipsA), "image_b", imageB, "count_b", len(ipsB))
	} else {
		m.logger.Info("matching interest points")
		matches, err := keypoints.MatchRatio(ipsA, ipsB, m.MatchRatio, utils.NewSubProgress(m.progress(), 0.5, 1))
		if err != nil {
			return nil, nil, err
		}
		a, b, err = keypoints.GetMatchingInterestPoints(matches, ipsA, ipsB)
		if err != nil {
			return nil, nil, err
		}
		m.logger.Infof("found %d putative matches", len(a))

		putative := len(a)
		a, b = keypoints.RemoveDuplicates(a, b)
		if removed := putative - len(a); removed > 0 {
			m.logger.Infof("removed %d duplicate matches", removed)
		}
		a, b = keypoints.Equalize(a, b, maxPoints)
		m.logger.Infof("kept %d matches", len(a))
	}
	m.progress().Done()

	data, err := EncodeMatches(a, b)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Store.Put(matchKey, data); err != nil {
		return nil, nil, err
	}
	m.logger.Debugw("wrote match file", "path", matchKey)
	return a, b, nil
}

func (m *Matcher) progress() utils.ProgressReporter {
	if m.Progress == nil {
		return utils.NoopProgress{}
	}
	return m.Progress
}

// interestPoints returns cached interest points of both images when both are cached, and
// computes and caches them for both images otherwise.
func (m *Matcher) interestPoints(ctx context.Context, imageA, imageB string) ([]keypoints.InterestPoint, []keypoints.InterestPoint, error) {
	keyA, keyB := InterestPointKey(imageA), InterestPointKey(imageB)
	haveA, err := m.Store.Exists(keyA)
	if err != nil {
		return nil, nil, err
	}
	haveB, err := m.Store.Exists(keyB)
	if err != nil {
		return nil, nil, err
	}
	if haveA && haveB {
		ipsA, err := m.loadInterestPoints(keyA)
		if err != nil {
			return nil, nil, err
		}
		ipsB, err := m.loadInterestPoints(keyB)
		if err != nil {
			return nil, nil, err
		}
		return ipsA, ipsB, nil
	}

	var ipsA, ipsB []keypoints.InterestPoint
	detect := func(path string, dst *[]keypoints.InterestPoint) utils.Stage {
		return func(ctx context.Context) error {
			ips, err := m.detect(ctx, path)
			if err != nil {
				return err
			}
			*dst = ips
			return nil
		}
	}
	if err := utils.RunStages(ctx, detect(imageA, &ipsA), detect(imageB, &ipsB)); err != nil {
		return nil, nil, err
	}
	m.progress().Report(0.5)

	for _, entry := range []struct {
		key string
		ips []keypoints.InterestPoint
	}{{keyA, ipsA}, {keyB, ipsB}} {
		if err := m.Store.Put(entry.key, EncodeInterestPoints(m.Params, entry.ips)); err != nil {
			return nil, nil, err
		}
		m.logger.Debugw("wrote interest point file", "path", entry.key, "count", len(entry.ips))
	}
	return ipsA, ipsB, nil
}

func (m *Matcher) loadInterestPoints(key string) ([]keypoints.InterestPoint, error) {
	data, err := m.Store.Get(key)
	if err != nil {
		return nil, err
	}
	params, ips, err := DecodeInterestPoints(data)
	if err != nil {
		return nil, errors.Wrapf(err, "interest point file %q", key)
	}
	if params != m.Params {
		m.logger.Warnw("cached interest points were made with different detector parameters",
			"path", key, "cached", params, "current", m.Params)
	}
	m.logger.Infow("using cached interest point file", "path", key, "count", len(ips))
	return ips, nil
}

func (m *Matcher) detect(ctx context.Context, path string) ([]keypoints.InterestPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	load := m.LoadImage
	if load == nil {
		load = rimage.LoadGray
	}
	img, err := load(path)
	if err != nil {
		return nil, err
	}
	ips, err := m.Detector.Detect(img)
	if err != nil {
		return nil, errors.Wrapf(err, "detecting interest points in %q", path)
	}
	m.logger.Infof("located %d interest points in %s", len(ips), path)
	if err := m.Describer.Describe(img, ips); err != nil {
		return nil, errors.Wrapf(err, "describing interest points in %q", path)
	}
	return ips, nil
}
