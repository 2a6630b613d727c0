package rollup

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// sample is one weighted observation. Raw records have weight 1 and lo == hi == value;
// child summaries carry their average as value and their own extremes as lo/hi.
type sample struct {
	value  float64
	weight int
	lo, hi float64
}

func rawSample(v float64) sample {
	return sample{value: v, weight: 1, lo: v, hi: v}
}

// describe computes the statistics block. Samples are sorted first so the result does
// not depend on input order.
func describe(samples []sample) MetricStats {
	if len(samples) == 0 {
		return MetricStats{}
	}

	sorted := make([]sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.value != b.value {
			return a.value < b.value
		}
		if a.weight != b.weight {
			return a.weight < b.weight
		}
		if a.lo != b.lo {
			return a.lo < b.lo
		}
		return a.hi < b.hi
	})

	total := 0
	sum := 0.0
	lo, hi := sorted[0].lo, sorted[0].hi
	for _, s := range sorted {
		total += s.weight
		sum += s.value * float64(s.weight)
		lo = math.Min(lo, s.lo)
		hi = math.Max(hi, s.hi)
	}

	return MetricStats{
		Avg:    round2(sum / float64(total)),
		Median: round2(weightedMedian(sorted, total)),
		Min:    round2(lo),
		Max:    round2(hi),
		P50:    round2(nearestRank(sorted, total, 50)),
		P90:    round2(nearestRank(sorted, total, 90)),
		P95:    round2(nearestRank(sorted, total, 95)),
		P99:    round2(nearestRank(sorted, total, 99)),
	}
}

// nearestRank returns the value at rank ceil(p/100*total), clamped to [1, total].
// Integer arithmetic keeps the rank exact.
func nearestRank(sorted []sample, total, p int) float64 {
	rank := (p*total + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > total {
		rank = total
	}

	cum := 0
	for _, s := range sorted {
		cum += s.weight
		if cum >= rank {
			return s.value
		}
	}
	return sorted[len(sorted)-1].value
}

// weightedMedian is the middle value, or the mean of the two middle values when the
// total weight is even and splits exactly between two samples.
func weightedMedian(sorted []sample, total int) float64 {
	cum := 0
	for i, s := range sorted {
		cum += s.weight
		if total%2 == 0 && cum*2 == total && i+1 < len(sorted) {
			return (s.value + sorted[i+1].value) / 2
		}
		if cum*2 > total {
			return s.value
		}
	}
	return sorted[len(sorted)-1].value
}

// meanStdDev returns the mean and population standard deviation of values.
func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	sq := 0.0
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
