package aligndem

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/demalign/spatialmath"
)

func TestReportPaths(t *testing.T) {
	test.That(t, ReportPath("/data/a/dem1.tif", "/x/dem2.dem"), test.ShouldEqual, "/data/a/dem1__dem2-Matrix.txt")
	test.That(t, PointCloudPath("/data/a/dem1"), test.ShouldEqual, "/data/a/dem1-PC.tif")
	test.That(t, InliersPath("run"), test.ShouldEqual, "run-inliers.pcd")
	test.That(t, MatchPlotPath("run"), test.ShouldEqual, "run-matches.png")
	test.That(t, ResidualPlotPath("run"), test.ShouldEqual, "run-residuals.png")
}

func TestReportRoundTrip(t *testing.T) {
	tf, err := spatialmath.NewAffineTransformFromRows([][]float64{
		{1.0 / 3, 0, 0, 12.5},
		{0, 1, 0, -4123456.789012344},
		{0, 0, 1, 3},
		{0, 0, 0, 1},
	})
	test.That(t, err, test.ShouldBeNil)
	r := &Report{Inliers: 7, Pairs: 9, Transform: tf, MeanResidual: 0.25, MedianResidual: 0.125, MaxResidual: 2}

	path := filepath.Join(t.TempDir(), "a__b-Matrix.txt")
	test.That(t, WriteReport(path, r), test.ShouldBeNil)
	raw, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(string(raw), "\n")
	test.That(t, lines[0], test.ShouldEqual, "# inliers: 7")
	test.That(t, lines[1], test.ShouldEqual, "0.333333333333333 0 0 12.5")
	test.That(t, lines[2], test.ShouldEqual, "0 1 0 -4123456.78901234")
	test.That(t, lines[4], test.ShouldEqual, "0 0 0 1")

	back, err := ReadReport(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Inliers, test.ShouldEqual, 7)
	test.That(t, back.Pairs, test.ShouldEqual, 9)
	test.That(t, back.MeanResidual, test.ShouldEqual, 0.25)
	test.That(t, back.MedianResidual, test.ShouldEqual, 0.125)
	test.That(t, back.MaxResidual, test.ShouldEqual, 2.0)
	test.That(t, back.Transform.AlmostEqual(tf, 1e-8), test.ShouldBeTrue)
}

func TestReadReportErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadReport(filepath.Join(dir, "missing.txt"))
	test.That(t, err, test.ShouldNotBeNil)

	for name, content := range map[string]string{
		"bad-count.txt": "# inliers: many\n1 0\n0 1\n",
		"bad-entry.txt": "# inliers: 3\n1 x\n0 1\n",
		"ragged.txt":    "# inliers: 3\n1 0 0\n0 1\n",
		"empty.txt":     "# inliers: 3\n",
	} {
		path := filepath.Join(dir, name)
		test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
		_, err := ReadReport(path)
		test.That(t, err, test.ShouldNotBeNil)
	}
}
