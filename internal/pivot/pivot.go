// Package pivot finds swing highs and lows in a numeric series.
//
// A point is a swing high iff it is the strict maximum of its
// [i-left, i+right] window (swing low: strict minimum). Equal-extremum
// ties are rejected rather than guessed, so flat stretches produce no
// false pivots. A pivot needs right bars after it before it exists at
// all — detection lags real time by right bars, and the forming bar can
// never be a pivot.
package pivot

import "math"

// Kind labels a pivot as a swing high or swing low.
type Kind int

const (
	High Kind = iota
	Low
)

// Point is a detected swing extremum at a series index.
type Point struct {
	Index int
	Value float64
	Kind  Kind
}

// Find returns all confirmed swing highs and lows in values, in index
// order. NaN values (indicator warm-up gaps) never form pivots and break
// any window that contains them. Returns nil when the series is shorter
// than left+right+1.
func Find(values []float64, left, right int) []Point {
	n := len(values)
	if left < 1 || right < 1 || n < left+right+1 {
		return nil
	}

	var out []Point
	for i := left; i < n-right; i++ {
		v := values[i]
		if math.IsNaN(v) {
			continue
		}
		if isExtremum(values, i, left, right, false) {
			out = append(out, Point{Index: i, Value: v, Kind: High})
		} else if isExtremum(values, i, left, right, true) {
			out = append(out, Point{Index: i, Value: v, Kind: Low})
		}
	}
	return out
}

// Highs filters Find output to swing highs.
func Highs(values []float64, left, right int) []Point {
	return filter(Find(values, left, right), High)
}

// Lows filters Find output to swing lows.
func Lows(values []float64, left, right int) []Point {
	return filter(Find(values, left, right), Low)
}

// LastTwo returns the last two points of kind k, oldest first, and whether
// two exist.
func LastTwo(points []Point, k Kind) (l, r Point, ok bool) {
	var found []Point
	for i := len(points) - 1; i >= 0 && len(found) < 2; i-- {
		if points[i].Kind == k {
			found = append(found, points[i])
		}
	}
	if len(found) < 2 {
		return Point{}, Point{}, false
	}
	return found[1], found[0], true
}

// Nearest returns the point of kind k closest in index to idx, within
// maxDist, and whether one exists.
func Nearest(points []Point, k Kind, idx, maxDist int) (Point, bool) {
	best := Point{}
	bestDist := maxDist + 1
	for _, p := range points {
		if p.Kind != k {
			continue
		}
		d := p.Index - idx
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, bestDist <= maxDist
}

func isExtremum(values []float64, i, left, right int, low bool) bool {
	v := values[i]
	for j := i - left; j <= i+right; j++ {
		if j == i {
			continue
		}
		o := values[j]
		if math.IsNaN(o) {
			return false
		}
		// Strict comparison: equal neighbors disqualify the point.
		if low {
			if o <= v {
				return false
			}
		} else {
			if o >= v {
				return false
			}
		}
	}
	return true
}

func filter(points []Point, k Kind) []Point {
	var out []Point
	for _, p := range points {
		if p.Kind == k {
			out = append(out, p)
		}
	}
	return out
}
