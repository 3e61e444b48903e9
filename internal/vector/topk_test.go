package vector

import (
	"testing"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestTopK_KeepsBest(t *testing.T) {
	tk := newTopK(3)
	for _, r := range []*models.SearchResult{
		{ID: "e", Similarity: 0.1},
		{ID: "a", Similarity: 0.9},
		{ID: "d", Similarity: 0.5},
		{ID: "b", Similarity: 0.5},
		{ID: "c", Similarity: -0.2},
		{ID: "f", Similarity: 0.7},
	} {
		tk.offer(r)
	}

	got := tk.sorted()
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "f", "b"}, ids)
}

func TestCompareResults(t *testing.T) {
	hi := &models.SearchResult{ID: "z", Similarity: 0.8}
	lo := &models.SearchResult{ID: "a", Similarity: 0.2}
	tieA := &models.SearchResult{ID: "a", Similarity: 0.5}
	tieB := &models.SearchResult{ID: "b", Similarity: 0.5}

	assert.Negative(t, compareResults(hi, lo))
	assert.Positive(t, compareResults(lo, hi))
	assert.Negative(t, compareResults(tieA, tieB))
	assert.Zero(t, compareResults(tieA, tieA))
}
