package domain

import (
	"sort"
)

// Distribution assigns every gremlin id to exactly one of the returned
// buckets. Buckets are ordered; concatenating them yields a permutation
// of the input with no duplicates.
type Distribution interface {
	Distribute(ids []string, workers int) [][]string
}

type roundRobin struct{}

// NewRoundRobin distributes gremlin i to bucket i mod workers. Cost is
// ignored; bucket sizes differ by at most one.
func NewRoundRobin() Distribution {
	return roundRobin{}
}

func (roundRobin) Distribute(ids []string, workers int) [][]string {
	if workers < 1 {
		workers = 1
	}
	buckets := make([][]string, workers)
	for i, id := range ids {
		w := i % workers
		buckets[w] = append(buckets[w], id)
	}
	return buckets
}

type weighted struct {
	costs map[string]float64
}

// NewWeighted balances buckets by expected cost: gremlins are taken in
// descending cost order and each goes to the currently lightest bucket.
// A gremlin absent from the cost map counts as cost 1. Without a cost
// map the strategy degenerates to round-robin.
func NewWeighted(costs map[string]float64) Distribution {
	if len(costs) == 0 {
		return roundRobin{}
	}
	return weighted{costs: costs}
}

func (d weighted) Distribute(ids []string, workers int) [][]string {
	if workers < 1 {
		workers = 1
	}

	// Deterministic for a fixed cost map: equal costs order by id.
	sorted := append([]string(nil), ids...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := d.cost(sorted[i]), d.cost(sorted[j])
		if ci != cj {
			return ci > cj
		}
		return sorted[i] < sorted[j]
	})

	buckets := make([][]string, workers)
	load := make([]float64, workers)
	for _, id := range sorted {
		w := lightest(load)
		buckets[w] = append(buckets[w], id)
		load[w] += d.cost(id)
	}
	return buckets
}

func (d weighted) cost(id string) float64 {
	if c, ok := d.costs[id]; ok {
		return c
	}
	return 1
}

// lightest picks the lowest-loaded bucket, lowest index on ties.
func lightest(load []float64) int {
	w := 0
	for i, l := range load {
		if l < load[w] {
			w = i
		}
	}
	return w
}

// Partition splits ids into batches of at most size, preserving order.
// The last batch may be shorter.
func Partition(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end:end])
	}
	return out
}
