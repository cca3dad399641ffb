package keypoints

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"

	"go.viam.com/demalign/utils"
)

// DefaultMatchRatio is the largest accepted ratio between the nearest and second nearest
// descriptor distances.
const DefaultMatchRatio = 0.6

// DescriptorMatch contains the index of a match in the first and second set of interest points.
type DescriptorMatch struct {
	Idx1 int
	Idx2 int
}

// descriptorPoint is a descriptor that remembers which interest point it came from.
type descriptorPoint struct {
	idx int
	vec []float64
}

func (p descriptorPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.vec[d] - c.(descriptorPoint).vec[d]
}

func (p descriptorPoint) Dims() int { return len(p.vec) }

// Distance returns the squared Euclidean distance.
func (p descriptorPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(descriptorPoint)
	sum := 0.0
	for i, v := range p.vec {
		d := v - q.vec[i]
		sum += d * d
	}
	return sum
}

type descriptorPoints []descriptorPoint

func (p descriptorPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p descriptorPoints) Len() int                              { return len(p) }
func (p descriptorPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p descriptorPoints) Pivot(d kdtree.Dim) int {
	plane := descriptorPlane{descriptorPoints: p, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfMedians(plane))
}

type descriptorPlane struct {
	descriptorPoints
	kdtree.Dim
}

func (p descriptorPlane) Less(i, j int) bool {
	return p.descriptorPoints[i].vec[p.Dim] < p.descriptorPoints[j].vec[p.Dim]
}

func (p descriptorPlane) Slice(start, end int) kdtree.SortSlicer {
	return descriptorPlane{descriptorPoints: p.descriptorPoints[start:end], Dim: p.Dim}
}

func (p descriptorPlane) Swap(i, j int) {
	p.descriptorPoints[i], p.descriptorPoints[j] = p.descriptorPoints[j], p.descriptorPoints[i]
}

func toDescriptorPoints(ips []InterestPoint, length int) (descriptorPoints, error) {
	points := make(descriptorPoints, len(ips))
	for i, ip := range ips {
		if len(ip.Descriptor) != length {
			return nil, errors.Errorf("interest point %d has a descriptor of length %d, want %d", i, len(ip.Descriptor), length)
		}
		vec := make([]float64, length)
		for j, v := range ip.Descriptor {
			vec[j] = float64(v)
		}
		points[i] = descriptorPoint{idx: i, vec: vec}
	}
	return points, nil
}

// ratioMatcher finds, for each query, the single target that passes the ratio test.
type ratioMatcher struct {
	tree  *kdtree.Tree
	ratio float64
	n     int
}

func newRatioMatcher(targets descriptorPoints, ratio float64) *ratioMatcher {
	rm := &ratioMatcher{ratio: ratio, n: len(targets)}
	if len(targets) > 0 {
		// kdtree.New reorders its input
		rm.tree = kdtree.New(append(descriptorPoints(nil), targets...), false)
	}
	return rm
}

// best returns the index of the target matching q, or -1.
func (rm *ratioMatcher) best(q descriptorPoint) int {
	if rm.n < 2 {
		return -1
	}
	keeper := kdtree.NewNKeeper(2)
	rm.tree.NearestSet(keeper, q)

	found := make([]kdtree.ComparableDist, 0, 2)
	for _, cd := range keeper.Heap {
		if cd.Comparable != nil {
			found = append(found, cd)
		}
	}
	if len(found) < 2 {
		return -1
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Dist < found[j].Dist })
	d1, d2 := math.Sqrt(found[0].Dist), math.Sqrt(found[1].Dist)
	if d2 == 0 || d1 >= rm.ratio*d2 {
		return -1
	}
	return found[0].Comparable.(descriptorPoint).idx
}

// MatchRatio matches interest points by descriptor. A pair (i, j) is kept when b[j] is a's
// clearly nearest neighbour under the ratio test and a[i] is b[j]'s in return. Results are in
// increasing order of Idx1.
func MatchRatio(a, b []InterestPoint, ratio float64, progress utils.ProgressReporter) ([]DescriptorMatch, error) {
	if progress == nil {
		progress = utils.NoopProgress{}
	}
	defer progress.Done()
	if ratio <= 0 || ratio > 1 {
		return nil, errors.Errorf("match ratio must be in (0, 1], got %v", ratio)
	}
	if len(a) == 0 || len(b) == 0 {
		return nil, nil
	}
	pointsA, err := toDescriptorPoints(a, len(a[0].Descriptor))
	if err != nil {
		return nil, errors.Wrap(err, "first set")
	}
	pointsB, err := toDescriptorPoints(b, len(a[0].Descriptor))
	if err != nil {
		return nil, errors.Wrap(err, "second set")
	}

	total := float64(len(a) + len(b))
	forward := make([]int, len(a))
	toB := newRatioMatcher(pointsB, ratio)
	for i, p := range pointsA {
		forward[i] = toB.best(p)
		progress.Report(float64(i+1) / total)
	}
	backward := make([]int, len(b))
	toA := newRatioMatcher(pointsA, ratio)
	for j, p := range pointsB {
		backward[j] = toA.best(p)
		progress.Report(float64(len(a)+j+1) / total)
	}

	var matches []DescriptorMatch
	for i, j := range forward {
		if j >= 0 && backward[j] == i {
			matches = append(matches, DescriptorMatch{Idx1: i, Idx2: j})
		}
	}
	return matches, nil
}

// GetMatchingInterestPoints returns the interest points referenced by matches as two parallel
// slices.
func GetMatchingInterestPoints(matches []DescriptorMatch, a, b []InterestPoint) ([]InterestPoint, []InterestPoint, error) {
	matchedA := make([]InterestPoint, len(matches))
	matchedB := make([]InterestPoint, len(matches))
	for i, m := range matches {
		if m.Idx1 < 0 || m.Idx1 >= len(a) || m.Idx2 < 0 || m.Idx2 >= len(b) {
			return nil, nil, errors.Errorf("match %d (%d, %d) is out of range", i, m.Idx1, m.Idx2)
		}
		matchedA[i] = a[m.Idx1]
		matchedB[i] = b[m.Idx2]
	}
	return matchedA, matchedB, nil
}

// locationTolerance is how close, in pixels, two interest points must be to count as the same.
const locationTolerance = 1e-3

type locationKey struct {
	x, y int64
}

func keyOf(ip InterestPoint) locationKey {
	return locationKey{int64(math.Round(ip.X / locationTolerance)), int64(math.Round(ip.Y / locationTolerance))}
}

// RemoveDuplicates drops every pair whose first or second point sits where an earlier kept
// pair's point already does. The first pair seen wins.
func RemoveDuplicates(a, b []InterestPoint) ([]InterestPoint, []InterestPoint) {
	seenA := map[locationKey]struct{}{}
	seenB := map[locationKey]struct{}{}
	outA := make([]InterestPoint, 0, len(a))
	outB := make([]InterestPoint, 0, len(b))
	for i := range a {
		ka, kb := keyOf(a[i]), keyOf(b[i])
		if _, ok := seenA[ka]; ok {
			continue
		}
		if _, ok := seenB[kb]; ok {
			continue
		}
		seenA[ka] = struct{}{}
		seenB[kb] = struct{}{}
		outA = append(outA, a[i])
		outB = append(outB, b[i])
	}
	return outA, outB
}

// Equalize thins matched pairs to at most maxPoints, spreading them over the first image. The
// bounding box of a is split into a grid and pairs are taken round robin across cells, strongest
// first within each cell. The order of the result does not follow the input.
func Equalize(a, b []InterestPoint, maxPoints int) ([]InterestPoint, []InterestPoint) {
	if maxPoints <= 0 || len(a) <= maxPoints {
		return a, b
	}
	side := int(math.Ceil(math.Sqrt(float64(maxPoints))))
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, ip := range a {
		minX, maxX = math.Min(minX, ip.X), math.Max(maxX, ip.X)
		minY, maxY = math.Min(minY, ip.Y), math.Max(maxY, ip.Y)
	}
	cellW := math.Max((maxX-minX)/float64(side), 1e-9)
	cellH := math.Max((maxY-minY)/float64(side), 1e-9)

	cells := make([][]int, side*side)
	for i, ip := range a {
		cx := utils.ClampInt(int((ip.X-minX)/cellW), 0, side-1)
		cy := utils.ClampInt(int((ip.Y-minY)/cellH), 0, side-1)
		cells[cy*side+cx] = append(cells[cy*side+cx], i)
	}
	for _, cell := range cells {
		sort.SliceStable(cell, func(i, j int) bool {
			return a[cell[i]].Interest+b[cell[i]].Interest > a[cell[j]].Interest+b[cell[j]].Interest
		})
	}

	outA := make([]InterestPoint, 0, maxPoints)
	outB := make([]InterestPoint, 0, maxPoints)
	for round := 0; len(outA) < maxPoints; round++ {
		took := false
		for _, cell := range cells {
			if round >= len(cell) || len(outA) == maxPoints {
				continue
			}
			outA = append(outA, a[cell[round]])
			outB = append(outB, b[cell[round]])
			took = true
		}
		if !took {
			break
		}
	}
	return outA, outB
}
