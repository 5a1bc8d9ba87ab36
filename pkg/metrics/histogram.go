package metrics

import (
	"math"
	"slices"
	"sync"
)

// DefaultQuantiles are the quantiles reported in a HistogramSummary.
var DefaultQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Histogram tracks the distribution of values across predefined buckets.
// Safe for concurrent use.
type Histogram struct {
	mu     sync.RWMutex
	bounds []float64 // ascending upper bounds
	counts []uint64  // per bucket, last is +Inf
	sum    float64
	count  uint64
	min    float64
	max    float64
}

// NewHistogram creates a histogram with the given bucket upper bounds.
func NewHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	b = slices.Compact(b)

	return &Histogram{
		bounds: b,
		counts: make([]uint64, len(b)+1),
		min:    math.MaxFloat64,
		max:    -math.MaxFloat64,
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	idx, _ := slices.BinarySearch(h.bounds, v)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.counts[idx]++
	h.sum += v
	h.count++
	h.min = min(h.min, v)
	h.max = max(h.max, v)
}

// HistogramSummary contains summarized histogram data.
type HistogramSummary struct {
	Count     uint64              `json:"count"`
	Sum       float64             `json:"sum"`
	Min       float64             `json:"min"`
	Max       float64             `json:"max"`
	Mean      float64             `json:"mean"`
	Buckets   []BucketCount       `json:"buckets"`
	Quantiles map[float64]float64 `json:"quantiles,omitempty"`
}

// BucketCount is a cumulative bucket count.
type BucketCount struct {
	UpperBound float64 `json:"le"`
	Count      uint64  `json:"count"`
}

// Summary returns a summary of the histogram.
func (h *Histogram) Summary() HistogramSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return HistogramSummary{
			Buckets:   []BucketCount{},
			Quantiles: map[float64]float64{},
		}
	}

	buckets := make([]BucketCount, 0, len(h.counts))
	var cumulative uint64
	for i, c := range h.counts {
		cumulative += c
		bound := math.Inf(1)
		if i < len(h.bounds) {
			bound = h.bounds[i]
		}
		buckets = append(buckets, BucketCount{UpperBound: bound, Count: cumulative})
	}

	quantiles := make(map[float64]float64, len(DefaultQuantiles))
	for _, q := range DefaultQuantiles {
		quantiles[q] = h.quantile(q)
	}

	return HistogramSummary{
		Count:     h.count,
		Sum:       h.sum,
		Min:       h.min,
		Max:       h.max,
		Mean:      h.sum / float64(h.count),
		Buckets:   buckets,
		Quantiles: quantiles,
	}
}

// quantile estimates the q-quantile (0 <= q <= 1) by linear interpolation
// within the bucket that contains it. Callers hold h.mu.
func (h *Histogram) quantile(q float64) float64 {
	if h.count == 0 {
		return 0
	}

	rank := q * float64(h.count)
	var cumulative uint64
	for i, c := range h.counts {
		prev := cumulative
		cumulative += c
		if float64(cumulative) < rank || c == 0 {
			continue
		}
		switch {
		case i == len(h.bounds):
			return h.max
		case i == 0:
			return h.bounds[0] / 2
		default:
			lower, upper := h.bounds[i-1], h.bounds[i]
			return lower + (rank-float64(prev))/float64(c)*(upper-lower)
		}
	}
	return h.max
}

// Reset clears all histogram data.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.counts)
	h.sum = 0
	h.count = 0
	h.min = math.MaxFloat64
	h.max = -math.MaxFloat64
}
