package rimage

import (
	"fmt"
	"math"
)

// NoData describes which elevation samples carry no measurement.
type NoData struct {
	Value float64
	Set   bool
}

// NoNoData returns a NoData that only treats NaN as missing.
func NoNoData() NoData {
	return NoData{}
}

// NoDataFromValue returns a NoData with v as its sentinel.
func NoDataFromValue(v float64) NoData {
	return NoData{Value: v, Set: true}
}

// NoDataFromPointer returns NoNoData when v is nil.
func NoDataFromPointer(v *float64) NoData {
	if v == nil {
		return NoNoData()
	}
	return NoDataFromValue(*v)
}

// IsNoData reports whether v is missing. NaN is always missing, whatever the sentinel.
func (nd NoData) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return nd.Set && v == nd.Value
}

// Or returns nd if it has a sentinel and fallback otherwise.
func (nd NoData) Or(fallback NoData) NoData {
	if nd.Set {
		return nd
	}
	return fallback
}

func (nd NoData) String() string {
	if !nd.Set {
		return "none"
	}
	return fmt.Sprintf("%v", nd.Value)
}
