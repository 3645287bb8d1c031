package media

import (
	"math"
	"strconv"
)

// NoReturn is the minimum reported when a frame has no non-zero depth
// sample. It is the largest finite float16, which no real return reaches.
const NoReturn float32 = 65504

// DistanceRange is the min/max depth of the most recently processed frame.
// Min ignores zero samples ("no return"); Max considers every sample.
type DistanceRange struct {
	Min   float32 `json:"min"`
	Max   float32 `json:"max"`
	Valid bool    `json:"valid"`
}

// Sentinel reports whether the range came from a frame with no returns.
func (r DistanceRange) Sentinel() bool {
	return !r.Valid
}

// String renders the range in millimeters for display. A frame without
// returns renders its minimum as "no return" rather than a number.
func (r DistanceRange) String() string {
	minText := "no return"
	if r.Valid {
		minText = formatMillimeters(r.Min) + " mm"
	}
	return "Range: " + minText + " to " + formatMillimeters(r.Max) + " mm"
}

func formatMillimeters(meters float32) string {
	if math.IsNaN(float64(meters)) {
		return "NaN"
	}
	return strconv.FormatFloat(float64(meters)*1000, 'f', 1, 32)
}
