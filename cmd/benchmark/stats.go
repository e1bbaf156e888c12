package main

import (
	"math"
	"slices"
	"time"
)

type queryReport struct {
	Count    int
	Failures int
	Hits     int64
	Elapsed  time.Duration
	Rate     float64
	P50      time.Duration
	P90      time.Duration
	P99      time.Duration
	Max      time.Duration
}

func summarize(latencies []time.Duration, failures int, hits int64, elapsed time.Duration) queryReport {
	r := queryReport{Count: len(latencies), Failures: failures, Hits: hits, Elapsed: elapsed}
	if elapsed > 0 {
		r.Rate = float64(len(latencies)) / elapsed.Seconds()
	}
	if len(latencies) == 0 {
		return r
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	r.P50 = percentile(sorted, 50)
	r.P90 = percentile(sorted, 90)
	r.P99 = percentile(sorted, 99)
	r.Max = sorted[len(sorted)-1]
	return r
}

// percentile uses the nearest-rank method on sorted latencies.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
