package aligndem

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"go.viam.com/demalign/georef"
	"go.viam.com/demalign/logging"
	"go.viam.com/demalign/rimage"
	"go.viam.com/demalign/testutils"
	"go.viam.com/demalign/vision/keypoints"
)

func sceneTerrains(t *testing.T, scene *testutils.Scene) (Terrain, Terrain) {
	t.Helper()
	geo1, err := georef.NewGeoReference(scene.Transform1(), scene.Datum)
	test.That(t, err, test.ShouldBeNil)
	geo2, err := georef.NewGeoReference(scene.Transform2(), scene.Datum)
	test.That(t, err, test.ShouldBeNil)
	nodata := rimage.NoDataFromValue(scene.NoDataValue)
	return Terrain{Ortho: geo1, DEM: geo1, Elevation: rimage.NewSampler(scene.DEM1(), nodata)},
		Terrain{Ortho: geo2, DEM: geo2, Elevation: rimage.NewSampler(scene.DEM2(), nodata)}
}

func pixelPoints(pts ...r2.Point) []keypoints.InterestPoint {
	out := make([]keypoints.InterestPoint, len(pts))
	for i, p := range pts {
		out[i] = keypoints.InterestPoint{X: p.X, Y: p.Y}
	}
	return out
}

func TestLift(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	scene := testutils.NewScene()
	terrain1, terrain2 := sceneTerrains(t, scene)
	lifter := NewLifter(terrain1, terrain2, logger)

	pts := pixelPoints(
		r2.Point{X: 50, Y: 50},
		r2.Point{X: 10, Y: 2},   // no-data row of the first DEM
		r2.Point{X: 150, Y: 20}, // outside both DEMs
		r2.Point{X: 20.5, Y: 70.25},
	)
	res, err := lifter.Lift(pts, pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Dropped, test.ShouldEqual, 2)
	test.That(t, res.Indices, test.ShouldResemble, []int{0, 3})
	test.That(t, len(res.P1), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("dropped 2 of 4 correspondences that fell on DEM no-data").Len(), test.ShouldEqual, 1)

	ll := terrain1.Ortho.PixelToLonLat(r2.Point{X: 50, Y: 50})
	want := scene.Datum.TerrainPoint(ll.X, ll.Y, scene.Elevation(50, 50))
	test.That(t, res.P1[0].Sub(want).Norm(), test.ShouldBeLessThan, 1e-6)
	for i := range res.P1 {
		test.That(t, res.P2[i].Sub(scene.Displace(res.P1[i])).Norm(), test.ShouldBeLessThan, 0.01)
	}
	// a 2.5e-4 by 1.5e-4 degree shift at 20.5N is about 31 meters
	test.That(t, res.MedianHorizontalOffset, test.ShouldBeBetween, 29.0, 33.0)

	p1, p2 := res.Subset([]int{1})
	test.That(t, p1, test.ShouldResemble, res.P1[1:])
	test.That(t, p2, test.ShouldResemble, res.P2[1:])

	_, err = lifter.Lift(pts, pts[:1])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLiftDifferentGrids(t *testing.T) {
	logger := logging.NewTestLogger(t)
	scene := testutils.NewScene()
	terrain1, terrain2 := sceneTerrains(t, scene)

	// an orthoimage at twice the DEM's resolution
	tf := scene.Transform1()
	tf[1] /= 2
	tf[5] /= 2
	fine, err := georef.NewGeoReference(tf, scene.Datum)
	test.That(t, err, test.ShouldBeNil)
	terrain1.Ortho = fine

	lifter := NewLifter(terrain1, terrain2, logger)
	res, err := lifter.Lift(
		pixelPoints(r2.Point{X: 100, Y: 100}),
		pixelPoints(r2.Point{X: 50, Y: 50}),
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Dropped, test.ShouldEqual, 0)
	test.That(t, res.P2[0].Sub(scene.Displace(res.P1[0])).Norm(), test.ShouldBeLessThan, 0.01)
}
