package gallery

import (
	"github.com/chewxy/math32"
)

// Norm returns the Euclidean length of v.
func Norm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return math32.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero or non-finite vector yields nil.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 || math32.IsInf(n, 0) || math32.IsNaN(n) {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}
