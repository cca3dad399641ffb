package rimage

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestNoData(t *testing.T) {
	none := NoNoData()
	test.That(t, none.IsNoData(math.NaN()), test.ShouldBeTrue)
	test.That(t, none.IsNoData(-32768), test.ShouldBeFalse)
	test.That(t, none.IsNoData(0), test.ShouldBeFalse)
	test.That(t, none.String(), test.ShouldEqual, "none")

	nd := NoDataFromValue(-32768)
	test.That(t, nd.IsNoData(-32768), test.ShouldBeTrue)
	test.That(t, nd.IsNoData(-32767), test.ShouldBeFalse)
	test.That(t, nd.IsNoData(math.NaN()), test.ShouldBeTrue)
	test.That(t, nd.String(), test.ShouldEqual, "-32768")

	nan := NoDataFromValue(math.NaN())
	test.That(t, nan.IsNoData(math.NaN()), test.ShouldBeTrue)
	test.That(t, nan.IsNoData(1), test.ShouldBeFalse)

	v := 5.0
	test.That(t, NoDataFromPointer(&v), test.ShouldResemble, NoDataFromValue(5))
	test.That(t, NoDataFromPointer(nil), test.ShouldResemble, NoNoData())

	test.That(t, none.Or(nd), test.ShouldResemble, nd)
	test.That(t, NoDataFromValue(1).Or(nd), test.ShouldResemble, NoDataFromValue(1))
}
