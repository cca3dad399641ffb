package utils

import (
	"testing"

	"go.viam.com/test"
)

type recordingProgress struct {
	reports []float64
	done    int
}

func (rp *recordingProgress) Report(fraction float64) {
	rp.reports = append(rp.reports, fraction)
}

func (rp *recordingProgress) Done() {
	rp.done++
}

func TestSubProgress(t *testing.T) {
	parent := &recordingProgress{}
	sub := NewSubProgress(parent, 0.5, 1)

	sub.Report(0)
	sub.Report(0.5)
	sub.Report(2)
	sub.Done()

	test.That(t, parent.reports, test.ShouldResemble, []float64{0.5, 0.75, 1, 1})
	test.That(t, parent.done, test.ShouldEqual, 0)
}

func TestNoopProgress(t *testing.T) {
	var p ProgressReporter = NoopProgress{}
	p.Report(0.3)
	p.Done()
}

func TestPathHelpers(t *testing.T) {
	test.That(t, ChangeExtension("/data/left.tif", ".vwip"), test.ShouldEqual, "/data/left.vwip")
	test.That(t, ChangeExtension("/data/left", ".vwip"), test.ShouldEqual, "/data/left.vwip")
	test.That(t, ChangeExtension("/data/dem.v2.tif", ""), test.ShouldEqual, "/data/dem.v2")
	test.That(t, BaseName("/data/dem.v2.tif"), test.ShouldEqual, "dem.v2")
	test.That(t, BaseName("ortho"), test.ShouldEqual, "ortho")
}

func TestClamp(t *testing.T) {
	test.That(t, ClampInt(-3, 0, 10), test.ShouldEqual, 0)
	test.That(t, ClampInt(12, 0, 10), test.ShouldEqual, 10)
	test.That(t, ClampF64(0.25, 0, 1), test.ShouldEqual, 0.25)
	test.That(t, ClampF64(1.5, 0, 1), test.ShouldEqual, 1.0)
}
