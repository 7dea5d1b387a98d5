package index

import (
	"context"

	"github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
)

// Search exposes a corpus through the common searcher contract.
type Search struct {
	Corpus *Corpus
}

func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	return s.Corpus.Search(ctx, q, k)
}
