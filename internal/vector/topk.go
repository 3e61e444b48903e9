package vector

import (
	"cmp"
	"container/heap"
	"slices"

	"github.com/hyperjump/ruiji/internal/models"
)

// compareResults orders a before b when a ranks higher: greater similarity, then smaller id.
func compareResults(a, b *models.SearchResult) int {
	if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// topK keeps the k best results seen so far. The heap root is the worst kept result.
type topK struct {
	k     int
	items []*models.SearchResult
}

// initialTopKCap bounds the up-front allocation; larger k grows with the results actually kept.
const initialTopKCap = 64

func newTopK(k int) *topK {
	return &topK{k: k, items: make([]*models.SearchResult, 0, min(k, initialTopKCap))}
}

func (t *topK) Len() int           { return len(t.items) }
func (t *topK) Less(i, j int) bool { return compareResults(t.items[i], t.items[j]) > 0 }
func (t *topK) Swap(i, j int)      { t.items[i], t.items[j] = t.items[j], t.items[i] }
func (t *topK) Push(x any)         { t.items = append(t.items, x.(*models.SearchResult)) }
func (t *topK) Pop() any {
	old := t.items
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	t.items = old[:n-1]
	return x
}

// offer adds r if it ranks above the current worst, evicting the worst when full.
func (t *topK) offer(r *models.SearchResult) {
	if len(t.items) < t.k {
		heap.Push(t, r)
		return
	}
	if compareResults(r, t.items[0]) < 0 {
		t.items[0] = r
		heap.Fix(t, 0)
	}
}

// sorted returns the kept results best first.
func (t *topK) sorted() []*models.SearchResult {
	out := slices.Clone(t.items)
	slices.SortFunc(out, compareResults)
	return out
}
