package features

import "math"

// GroupBy partitions rows by key, preserving input order inside each group.
func GroupBy[T any, K comparable](rows []T, key func(T) K) map[K][]T {
	groups := make(map[K][]T)
	for _, r := range rows {
		k := key(r)
		groups[k] = append(groups[k], r)
	}
	return groups
}

// CountBy counts rows per categorical value.
func CountBy[T any, K comparable](rows []T, value func(T) K) map[K]int {
	counts := make(map[K]int)
	for _, r := range rows {
		counts[value(r)]++
	}
	return counts
}

// Ratio is the share of rows matching pred, 0 for no rows.
func Ratio[T any](rows []T, pred func(T) bool) float64 {
	if len(rows) == 0 {
		return 0
	}
	n := 0
	for _, r := range rows {
		if pred(r) {
			n++
		}
	}
	return float64(n) / float64(len(rows))
}

// Mean averages value over rows, 0 for no rows.
func Mean[T any](rows []T, value func(T) float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += value(r)
	}
	return sum / float64(len(rows))
}

// MaxCount is the largest bucket in counts.
func MaxCount[K comparable](counts map[K]int) int {
	m := 0
	for _, c := range counts {
		m = max(m, c)
	}
	return m
}

// Entropy is the Shannon entropy in bits of the distribution given by counts.
// The result lies in [0, log2(len(counts))]; a single category yields 0.
func Entropy[K comparable](counts map[K]int) float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		if c > 0 {
			p := float64(c) / float64(total)
			h -= p * math.Log2(p)
		}
	}
	// Guard against -0 and rounding just above the bound.
	return math.Min(math.Max(h, 0), math.Log2(float64(len(counts))))
}
