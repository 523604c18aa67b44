package orchestrator

import (
	"container/heap"

	"github.com/inference-sim/usagesim/sim"
)

// cursor is the head of one scenario's sorted batch.
type cursor struct {
	scenario int
	seq      int // position in the batch: emission order
	batch    []sim.Event
}

func (c *cursor) head() sim.Event { return c.batch[c.seq] }

// mergeHeap orders batch heads deterministically:
// timestamp → scenario index → emission sequence.
type mergeHeap []*cursor

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	ti, tj := h[i].head().Timestamp, h[j].head().Timestamp
	if !ti.Equal(tj) {
		return ti.Before(tj)
	}
	if h[i].scenario != h[j].scenario {
		return h[i].scenario < h[j].scenario
	}
	return h[i].seq < h[j].seq
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*cursor)) }

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge k-way merges per-scenario batches, each already sorted by
// timestamp, into one canonical stream. batches[i] belongs to scenario i.
func Merge(batches [][]sim.Event) []sim.Event {
	total := 0
	h := make(mergeHeap, 0, len(batches))
	for i, b := range batches {
		total += len(b)
		if len(b) > 0 {
			h = append(h, &cursor{scenario: i, batch: b})
		}
	}
	heap.Init(&h)

	out := make([]sim.Event, 0, total)
	for h.Len() > 0 {
		c := h[0]
		out = append(out, c.head())
		c.seq++
		if c.seq < len(c.batch) {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	return out
}
