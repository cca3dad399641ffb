package keypoints

import (
	"math"
	"path/filepath"
	"sort"
	"testing"

	"go.viam.com/test"

	"go.viam.com/demalign/rimage"
	"go.viam.com/demalign/testutils"
)

var testBlobs = []testutils.Blob{
	{X: 76.18, Y: 69.60, Sigma: 2.92, Amplitude: 0.60},
	{X: 50.86, Y: 42.77, Sigma: 3.28, Amplitude: 0.62},
	{X: 33.42, Y: 69.44, Sigma: 3.12, Amplitude: 0.60},
	{X: 81.14, Y: 86.69, Sigma: 3.31, Amplitude: 0.86},
	{X: 47.88, Y: 19.65, Sigma: 2.93, Amplitude: 0.74},
	{X: 12.09, Y: 49.51, Sigma: 3.37, Amplitude: 0.60},
	{X: 58.57, Y: 61.91, Sigma: 2.98, Amplitude: 0.54},
	{X: 65.60, Y: 32.95, Sigma: 3.31, Amplitude: 0.84},
	{X: 20.90, Y: 28.76, Sigma: 3.29, Amplitude: 0.63},
	{X: 81.80, Y: 24.88, Sigma: 3.17, Amplitude: 0.89},
	{X: 66.52, Y: 12.18, Sigma: 3.32, Amplitude: 0.71},
	{X: 16.85, Y: 77.63, Sigma: 3.20, Amplitude: 0.86},
}

func blobImage() *rimage.FloatImage {
	return testutils.BlobImage(100, 100, 0.05, testBlobs)
}

func nearest(ips []InterestPoint, x, y float64) (InterestPoint, float64) {
	best, dist := InterestPoint{}, math.Inf(1)
	for _, ip := range ips {
		if d := math.Hypot(ip.X-x, ip.Y-y); d < dist {
			best, dist = ip, d
		}
	}
	return best, dist
}

func TestLoGDetectorFindsBlobs(t *testing.T) {
	detector := NewLoGDetector(DefaultDetectorConfig())
	ips, err := detector.Detect(blobImage())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(ips), test.ShouldBeGreaterThanOrEqualTo, len(testBlobs))
	test.That(t, len(ips), test.ShouldBeLessThanOrEqualTo, DefaultMaxPoints)

	for _, b := range testBlobs {
		ip, dist := nearest(ips, b.X, b.Y)
		test.That(t, dist, test.ShouldBeLessThan, 0.75)
		test.That(t, ip.Polarity, test.ShouldBeFalse)
		test.That(t, ip.Interest, test.ShouldBeGreaterThan, DefaultThreshold)
		test.That(t, ip.Scale, test.ShouldBeBetween, 2.0, 4.5)
	}
	test.That(t, sort.SliceIsSorted(ips, func(i, j int) bool { return ips[i].Interest > ips[j].Interest }), test.ShouldBeTrue)

	cfg := DefaultDetectorConfig()
	cfg.MaxPoints = 3
	ips, err = NewLoGDetector(cfg).Detect(blobImage())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(ips), test.ShouldEqual, 3)

	flat := rimage.NewFloatImage(60, 60)
	ips, err = detector.Detect(flat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ips, test.ShouldBeEmpty)

	cfg = DefaultDetectorConfig()
	cfg.Threshold = 0
	_, err = NewLoGDetector(cfg).Detect(flat)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDetectorConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detector.json")
	test.That(t, writeFile(path, `{"threshold": 0.05, "max_points": 20}`), test.ShouldBeNil)
	cfg, err := LoadDetectorConfiguration(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Threshold, test.ShouldEqual, 0.05)
	test.That(t, cfg.MaxPoints, test.ShouldEqual, 20)
	test.That(t, cfg.ScalesPerOctave, test.ShouldEqual, 3)

	test.That(t, writeFile(path, `{"edge_ratio": 1}`), test.ShouldBeNil)
	_, err = LoadDetectorConfiguration(path)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = LoadDetectorConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGradientDescriptor(t *testing.T) {
	img := blobImage()
	ips, err := NewLoGDetector(DefaultDetectorConfig()).Detect(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, GradientDescriptor{}.Describe(img, ips), test.ShouldBeNil)
	for _, ip := range ips {
		test.That(t, len(ip.Descriptor), test.ShouldEqual, DescriptorLength)
		norm := 0.0
		for _, v := range ip.Descriptor {
			test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, float32(0))
			norm += float64(v) * float64(v)
		}
		test.That(t, norm, test.ShouldAlmostEqual, 1.0, 1e-4)
	}

	blank := []InterestPoint{{X: 10, Y: 10, Scale: 2}}
	test.That(t, GradientDescriptor{}.Describe(rimage.NewFloatImage(20, 20), blank), test.ShouldBeNil)
	for _, v := range blank[0].Descriptor {
		test.That(t, v, test.ShouldEqual, float32(0))
	}

	test.That(t, GradientDescriptor{}.Describe(nil, blank), test.ShouldNotBeNil)
}

func TestMatchIdenticalImages(t *testing.T) {
	img := blobImage()
	ips, err := NewLoGDetector(DefaultDetectorConfig()).Detect(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, GradientDescriptor{}.Describe(img, ips), test.ShouldBeNil)

	matches, err := MatchRatio(ips, ips, DefaultMatchRatio, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(matches), test.ShouldEqual, len(ips))
	for _, m := range matches {
		test.That(t, m.Idx1, test.ShouldEqual, m.Idx2)
	}

	a, b, err := GetMatchingInterestPoints(matches, ips, ips)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldResemble, b)

	_, _, err = GetMatchingInterestPoints([]DescriptorMatch{{0, len(ips)}}, ips, ips)
	test.That(t, err, test.ShouldNotBeNil)
}

func withDescriptor(x, y float64, desc ...float32) InterestPoint {
	return InterestPoint{X: x, Y: y, Descriptor: desc}
}

type recordingProgress struct {
	reports []float64
	done    bool
}

func (rp *recordingProgress) Report(f float64) { rp.reports = append(rp.reports, f) }
func (rp *recordingProgress) Done()            { rp.done = true }

func TestMatchRatio(t *testing.T) {
	a := []InterestPoint{
		withDescriptor(0, 0, 1, 0, 0),
		withDescriptor(1, 0, 0, 1, 0),
		withDescriptor(2, 0, 0, 0, 1),
		withDescriptor(3, 0, 1, 1, 1),
	}
	b := []InterestPoint{
		withDescriptor(0, 1, 0.02, 0.98, 0),
		withDescriptor(1, 1, 0.99, 0.01, 0),
		// two near copies make the third descriptor ambiguous
		withDescriptor(2, 1, 0, 0.01, 1),
		withDescriptor(3, 1, 0.01, 0, 1),
	}
	progress := &recordingProgress{}
	matches, err := MatchRatio(a, b, DefaultMatchRatio, progress)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, matches, test.ShouldResemble, []DescriptorMatch{{Idx1: 0, Idx2: 1}, {Idx1: 1, Idx2: 0}})
	test.That(t, progress.done, test.ShouldBeTrue)
	test.That(t, len(progress.reports), test.ShouldEqual, len(a)+len(b))
	test.That(t, sort.Float64sAreSorted(progress.reports), test.ShouldBeTrue)
	test.That(t, progress.reports[len(progress.reports)-1], test.ShouldEqual, 1.0)

	matches, err = MatchRatio(a, b[:1], DefaultMatchRatio, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, matches, test.ShouldBeEmpty)

	matches, err = MatchRatio(nil, b, DefaultMatchRatio, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, matches, test.ShouldBeEmpty)

	_, err = MatchRatio(a, []InterestPoint{withDescriptor(0, 0, 1, 2)}, DefaultMatchRatio, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = MatchRatio(a, b, 1.5, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRemoveDuplicates(t *testing.T) {
	a := []InterestPoint{{X: 1, Y: 1}, {X: 1.0000001, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}, {X: 4, Y: 4}}
	b := []InterestPoint{{X: 10, Y: 10}, {X: 11, Y: 11}, {X: 12, Y: 12}, {X: 10, Y: 10}, {X: 14, Y: 14}}
	outA, outB := RemoveDuplicates(a, b)
	test.That(t, outA, test.ShouldResemble, []InterestPoint{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 4, Y: 4}})
	test.That(t, outB, test.ShouldResemble, []InterestPoint{{X: 10, Y: 10}, {X: 12, Y: 12}, {X: 14, Y: 14}})

	outA, outB = RemoveDuplicates(nil, nil)
	test.That(t, outA, test.ShouldBeEmpty)
	test.That(t, outB, test.ShouldBeEmpty)
}

func TestEqualize(t *testing.T) {
	var a, b []InterestPoint
	// a dense cluster of strong points in one corner
	for i := 0; i < 40; i++ {
		a = append(a, InterestPoint{X: float64(i % 5), Y: float64(i / 5), Interest: 1})
		b = append(b, InterestPoint{X: float64(i % 5), Y: float64(i/5) + 100, Interest: 1})
	}
	// and weak points spread over the rest of the image
	for _, c := range [][2]float64{{90, 0}, {0, 90}, {90, 90}, {45, 45}} {
		a = append(a, InterestPoint{X: c[0], Y: c[1], Interest: 0.1})
		b = append(b, InterestPoint{X: c[0], Y: c[1] + 100, Interest: 0.1})
	}

	outA, outB := Equalize(a, b, 9)
	test.That(t, len(outA), test.ShouldEqual, 9)
	test.That(t, len(outB), test.ShouldEqual, 9)
	for i := range outA {
		test.That(t, outB[i].X, test.ShouldEqual, outA[i].X)
		test.That(t, outB[i].Y, test.ShouldEqual, outA[i].Y+100)
	}
	for _, c := range [][2]float64{{90, 0}, {0, 90}, {90, 90}, {45, 45}} {
		_, dist := nearest(outA, c[0], c[1])
		test.That(t, dist, test.ShouldEqual, 0.0)
	}

	sameA, sameB := Equalize(a[:5], b[:5], 9)
	test.That(t, sameA, test.ShouldResemble, a[:5])
	test.That(t, sameB, test.ShouldResemble, b[:5])
}

func TestPlotMatches(t *testing.T) {
	gray := blobImage().ToGray()
	a := []InterestPoint{{X: 10, Y: 10}, {X: 50, Y: 20}}
	b := []InterestPoint{{X: 12, Y: 9}, {X: 52, Y: 19}}
	dir := t.TempDir()
	test.That(t, PlotMatches(gray, gray, a, b, filepath.Join(dir, "matches.png")), test.ShouldBeNil)
	_, err := rimage.LoadGray(filepath.Join(dir, "matches.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, PlotMatches(gray, gray, a, b[:1], filepath.Join(dir, "bad.png")), test.ShouldNotBeNil)
	test.That(t, PlotKeypoints(gray, a, filepath.Join(dir, "keypoints.png")), test.ShouldBeNil)
}
