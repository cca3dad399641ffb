// Package pointcloud holds point clouds derived from elevation rasters: a sparse point list with
// PCD export and a streaming writer for dense per-pixel point rasters.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns meta data for an empty cloud.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the bounds with p.
func (meta *MetaData) Merge(p r3.Vector, hasValue bool) {
	if hasValue {
		meta.HasValue = true
	}
	meta.MinX = math.Min(meta.MinX, p.X)
	meta.MinY = math.Min(meta.MinY, p.Y)
	meta.MinZ = math.Min(meta.MinZ, p.Z)
	meta.MaxX = math.Max(meta.MaxX, p.X)
	meta.MaxY = math.Max(meta.MaxY, p.Y)
	meta.MaxZ = math.Max(meta.MaxZ, p.Z)
}

// Center returns the middle of the bounding box.
func (meta MetaData) Center() r3.Vector {
	return r3.Vector{X: (meta.MinX + meta.MaxX) / 2, Y: (meta.MinY + meta.MaxY) / 2, Z: (meta.MinZ + meta.MaxZ) / 2}
}

// Cloud is an ordered list of points, each optionally carrying an integer value such as the
// index of the correspondence it came from.
type Cloud struct {
	points []r3.Vector
	values []int
	has    []bool
	meta   MetaData
}

// New returns an empty Cloud.
func New() *Cloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty Cloud with room for size points.
func NewWithPrealloc(size int) *Cloud {
	return &Cloud{
		points: make([]r3.Vector, 0, size),
		values: make([]int, 0, size),
		has:    make([]bool, 0, size),
		meta:   NewMetaData(),
	}
}

// Size returns the number of points in the cloud.
func (cloud *Cloud) Size() int {
	return len(cloud.points)
}

// MetaData returns meta data.
func (cloud *Cloud) MetaData() MetaData {
	return cloud.meta
}

// Add appends a point without a value.
func (cloud *Cloud) Add(p r3.Vector) {
	cloud.add(p, 0, false)
}

// AddWithValue appends a point carrying v.
func (cloud *Cloud) AddWithValue(p r3.Vector, v int) {
	cloud.add(p, v, true)
}

func (cloud *Cloud) add(p r3.Vector, v int, has bool) {
	cloud.points = append(cloud.points, p)
	cloud.values = append(cloud.values, v)
	cloud.has = append(cloud.has, has)
	cloud.meta.Merge(p, has)
}

// At returns the i-th point, its value and whether it has one.
func (cloud *Cloud) At(i int) (r3.Vector, int, bool) {
	return cloud.points[i], cloud.values[i], cloud.has[i]
}

// Iterate calls fn for each point in insertion order until fn returns false.
func (cloud *Cloud) Iterate(fn func(p r3.Vector, value int, hasValue bool) bool) {
	for i, p := range cloud.points {
		if !fn(p, cloud.values[i], cloud.has[i]) {
			return
		}
	}
}
