package index

// Dot returns the dot product of two equal-length vectors. For unit vectors this is
// the cosine similarity.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
