package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MinAffineFitPoints is the number of point pairs that determine a 3D affine transform.
const MinAffineFitPoints = 4

// ErrDegenerateFit is returned when the points do not determine a unique transform, for
// example when they are coplanar.
var ErrDegenerateFit = errors.New("points do not determine an affine transform")

// normalization returns the similarity that moves the centroid of points to the origin and
// scales their mean distance from it to sqrt(3), and its inverse.
func normalization(points []r3.Vector) (*mat.Dense, *mat.Dense) {
	var centroid r3.Vector
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(points)))
	mean := 0.0
	for _, p := range points {
		mean += p.Sub(centroid).Norm()
	}
	mean /= float64(len(points))
	s := 1.0
	if mean > 0 {
		s = math.Sqrt(3) / mean
	}
	forward := mat.NewDense(4, 4, []float64{
		s, 0, 0, -s * centroid.X,
		0, s, 0, -s * centroid.Y,
		0, 0, s, -s * centroid.Z,
		0, 0, 0, 1,
	})
	inverse := mat.NewDense(4, 4, []float64{
		1 / s, 0, 0, centroid.X,
		0, 1 / s, 0, centroid.Y,
		0, 0, 1 / s, centroid.Z,
		0, 0, 0, 1,
	})
	return forward, inverse
}

func applyDense(m *mat.Dense, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

// FitAffine returns the 3D affine transform T minimizing the squared distances |T*src[i] - dst[i]|.
// It needs at least MinAffineFitPoints pairs that are not coplanar.
func FitAffine(src, dst []r3.Vector) (*AffineTransform, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("cannot fit %d points to %d", len(src), len(dst))
	}
	n := len(src)
	if n < MinAffineFitPoints {
		return nil, errors.Errorf("fitting an affine transform needs %d points, got %d", MinAffineFitPoints, n)
	}

	normSrc, _ := normalization(src)
	normDst, denormDst := normalization(dst)

	a := mat.NewDense(n, 4, nil)
	b := mat.NewDense(n, 3, nil)
	for i := range src {
		s := applyDense(normSrc, src[i])
		d := applyDense(normDst, dst[i])
		a.SetRow(i, []float64{s.X, s.Y, s.Z, 1})
		b.SetRow(i, []float64{d.X, d.Y, d.Z})
	}

	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		return nil, errors.Wrap(ErrDegenerateFit, err.Error())
	}
	for _, v := range x.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrDegenerateFit
		}
	}

	// x maps normalized source rows to normalized destination rows, so its transpose is the
	// top of the normalized homogeneous matrix
	normalized := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			normalized.Set(i, j, x.At(j, i))
		}
	}
	normalized.Set(3, 3, 1)

	var m mat.Dense
	m.Product(denormDst, normalized, normSrc)
	return &AffineTransform{m: &m}, nil
}
