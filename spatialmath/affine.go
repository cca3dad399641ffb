// Package spatialmath holds the homogeneous affine transforms that map terrain points of one
// DEM onto another.
package spatialmath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// AffineTransform is a (d+1)x(d+1) homogeneous matrix acting on d dimensional points.
type AffineTransform struct {
	m *mat.Dense
}

// NewAffineTransform wraps a copy of m, which must be square and at least 2x2.
func NewAffineTransform(m mat.Matrix) (*AffineTransform, error) {
	r, c := m.Dims()
	if r != c || r < 2 {
		return nil, errors.Errorf("affine transform must be square and at least 2x2, got %dx%d", r, c)
	}
	return &AffineTransform{m: mat.DenseCopyOf(m)}, nil
}

// NewAffineTransformFromRows builds a transform from row-major values.
func NewAffineTransformFromRows(rows [][]float64) (*AffineTransform, error) {
	n := len(rows)
	data := make([]float64, 0, n*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, errors.Errorf("row %d has %d values, want %d", i, len(row), n)
		}
		data = append(data, row...)
	}
	if n < 2 {
		return nil, errors.Errorf("affine transform needs at least 2 rows, got %d", n)
	}
	return &AffineTransform{m: mat.NewDense(n, n, data)}, nil
}

// Identity returns the identity transform of d dimensional points.
func Identity(d int) *AffineTransform {
	m := mat.NewDense(d+1, d+1, nil)
	for i := 0; i <= d; i++ {
		m.Set(i, i, 1)
	}
	return &AffineTransform{m: m}
}

// Dim returns d, the dimension of the points the transform acts on.
func (t *AffineTransform) Dim() int {
	r, _ := t.m.Dims()
	return r - 1
}

// At returns the matrix entry at row i, column j.
func (t *AffineTransform) At(i, j int) float64 {
	return t.m.At(i, j)
}

// Matrix returns a copy of the homogeneous matrix.
func (t *AffineTransform) Matrix() *mat.Dense {
	return mat.DenseCopyOf(t.m)
}

// Rows returns the matrix as row-major slices.
func (t *AffineTransform) Rows() [][]float64 {
	n := t.Dim() + 1
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, t.m)
	}
	return rows
}

// ApplyHomogeneous multiplies the matrix with a homogeneous vector of length d+1.
func (t *AffineTransform) ApplyHomogeneous(p []float64) ([]float64, error) {
	n := t.Dim() + 1
	if len(p) != n {
		return nil, errors.Errorf("homogeneous vector has length %d, transform needs %d", len(p), n)
	}
	out := mat.NewVecDense(n, nil)
	out.MulVec(t.m, mat.NewVecDense(n, append([]float64(nil), p...)))
	return out.RawVector().Data, nil
}

// Apply transforms a 3D point. The zero vector marks missing data and is returned unchanged.
// The result is divided by its homogeneous coordinate unless that coordinate is exactly 1.
// Apply panics if the transform does not act on 3D points.
func (t *AffineTransform) Apply(v r3.Vector) r3.Vector {
	if t.Dim() != 3 {
		panic(fmt.Sprintf("cannot apply a %dD transform to a 3D point", t.Dim()))
	}
	if v == (r3.Vector{}) {
		return v
	}
	return NewHomogeneousPoint(v).Transform(t).Vector()
}

// Translation returns the translation part of a 3D transform.
func (t *AffineTransform) Translation() r3.Vector {
	d := t.Dim()
	return r3.Vector{X: t.m.At(0, d), Y: t.m.At(1, d), Z: t.m.At(2, d)}
}

// Compose returns the transform applying other first and then t.
func (t *AffineTransform) Compose(other *AffineTransform) (*AffineTransform, error) {
	if t.Dim() != other.Dim() {
		return nil, errors.Errorf("cannot compose %dD and %dD transforms", t.Dim(), other.Dim())
	}
	var m mat.Dense
	m.Mul(t.m, other.m)
	return &AffineTransform{m: &m}, nil
}

// Inverse returns the inverse transform.
func (t *AffineTransform) Inverse() (*AffineTransform, error) {
	var m mat.Dense
	if err := m.Inverse(t.m); err != nil {
		return nil, errors.Wrap(err, "transform is not invertible")
	}
	return &AffineTransform{m: &m}, nil
}

// FormatRows writes one line per matrix row, entries separated by spaces, with the given number
// of significant digits.
func (t *AffineTransform) FormatRows(digits int) []string {
	rows := t.Rows()
	lines := make([]string, len(rows))
	for i, row := range rows {
		fields := make([]string, len(row))
		for j, v := range row {
			fields[j] = strconv.FormatFloat(v, 'g', digits, 64)
		}
		lines[i] = strings.Join(fields, " ")
	}
	return lines
}

func (t *AffineTransform) String() string {
	return strings.Join(t.FormatRows(15), "\n")
}

// AlmostEqual reports whether every entry differs by at most epsilon.
func (t *AffineTransform) AlmostEqual(other *AffineTransform, epsilon float64) bool {
	if t.Dim() != other.Dim() {
		return false
	}
	return mat.EqualApprox(t.m, other.m, epsilon)
}

// HomogeneousPoint is a 3D point with a homogeneous coordinate.
type HomogeneousPoint [4]float64

// NewHomogeneousPoint returns v with a homogeneous coordinate of 1.
func NewHomogeneousPoint(v r3.Vector) HomogeneousPoint {
	return HomogeneousPoint{v.X, v.Y, v.Z, 1}
}

// Transform multiplies t with the point. t must act on 3D points.
func (p HomogeneousPoint) Transform(t *AffineTransform) HomogeneousPoint {
	var out HomogeneousPoint
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i] += t.m.At(i, j) * p[j]
		}
	}
	return out
}

// Vector returns the Cartesian point, dividing by the homogeneous coordinate unless it is exactly
// 1. A zero coordinate yields infinite or NaN components.
func (p HomogeneousPoint) Vector() r3.Vector {
	w := p[3]
	if w == 1 {
		return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
	}
	return r3.Vector{X: p[0] / w, Y: p[1] / w, Z: p[2] / w}
}
