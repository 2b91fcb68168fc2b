package memory

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Metric is a similarity function. Larger scores mean closer vectors.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricDotProduct Metric = "dotproduct"
	MetricEuclidean  Metric = "euclidean"
)

// ParseMetric validates a metric name; empty selects cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricDotProduct, MetricEuclidean:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

// Score computes the similarity of a and b under m. Euclidean distance d is
// reported as 1/(1+d) so that every metric orders larger-is-closer.
func (m Metric) Score(a, b []float32) float64 {
	switch m {
	case MetricDotProduct:
		return dot(a, b)
	case MetricEuclidean:
		return 1 / (1 + euclidean(a, b))
	default:
		return cosineSimilarity(a, b)
	}
}

// cosineSimilarity computes cosine similarity between two vectors.
// Returns 0 if either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var d, normA, normB float64
	for i := 0; i < n; i++ {
		ai, bi := float64(a[i]), float64(b[i])
		d += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return d / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var d float64
	for i := 0; i < n; i++ {
		d += float64(a[i]) * float64(b[i])
	}
	return d
}

func euclidean(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// topK sorts matches by descending score, ties broken by id so results are
// stable across calls, and keeps the first k.
func topK(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// float32SliceToBytes converts a []float32 to a little-endian byte slice.
func float32SliceToBytes(f []float32) []byte {
	b := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// bytesToFloat32Slice converts a little-endian byte slice back to []float32.
func bytesToFloat32Slice(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return f
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
