package index

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/depthcharge/tools/embedding"
	"github.com/mohammad-safakhou/depthcharge/tools/web_search/models"
)

// Document is a unit of ingested content.
type Document struct {
	DocID       string    `json:"doc_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	PublishedAt string    `json:"published_at,omitempty"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// DocInput is the ingest request shape.
type DocInput struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	PublishedAt string `json:"published_at,omitempty"`
}

const rrfK = 60 // reciprocal-rank-fusion constant

// Corpus is an in-memory searchable document collection. BM25 comes from a
// mem-only bleve index, vector ranking from brute-force cosine over stored
// embeddings, and the two lists are fused with reciprocal rank fusion.
type Corpus struct {
	bleve    bleve.Index
	meta     map[string]Document
	vectors  []embedding.EmbedVec
	embedder *embedding.Embedding
	mu       sync.RWMutex
}

// NewCorpus creates an empty corpus. embedder may be nil, in which case
// searches fall back to BM25 only.
func NewCorpus(embedder *embedding.Embedding) (*Corpus, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Corpus{
		bleve:    idx,
		meta:     make(map[string]Document),
		embedder: embedder,
	}, nil
}

// Add ingests a document, indexing it for BM25 and embedding its text when an
// embedder is available. The doc id is derived from the URL so re-ingesting
// the same page overwrites rather than duplicates.
func (c *Corpus) Add(ctx context.Context, in DocInput) (Document, error) {
	sum := sha1.Sum([]byte(in.URL))
	doc := Document{
		DocID:       hex.EncodeToString(sum[:]),
		URL:         in.URL,
		Title:       in.Title,
		Text:        in.Text,
		PublishedAt: in.PublishedAt,
		IngestedAt:  time.Now(),
	}

	var vec []float32
	if c.embedder != nil {
		vecs, err := c.embedder.EmbedMany(ctx, []string{embedText(doc)})
		if err != nil {
			return Document{}, err
		}
		if len(vecs) == 1 {
			vec = vecs[0]
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.bleve.Index(doc.DocID, doc); err != nil {
		return Document{}, err
	}
	c.meta[doc.DocID] = doc
	if vec != nil {
		replaced := false
		for i := range c.vectors {
			if c.vectors[i].DocID == doc.DocID {
				c.vectors[i].Vec = vec
				replaced = true
				break
			}
		}
		if !replaced {
			c.vectors = append(c.vectors, embedding.EmbedVec{DocID: doc.DocID, Vec: vec})
		}
	}
	return doc, nil
}

// Len reports the number of ingested documents.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.meta)
}

// Documents returns all ingested documents.
func (c *Corpus) Documents() []Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Document, 0, len(c.meta))
	for _, d := range c.meta {
		out = append(out, d)
	}
	return out
}

// Search runs BM25 and vector ranking and fuses the two result lists.
func (c *Corpus) Search(ctx context.Context, q string, k int) ([]models.Result, error) {
	if k <= 0 || k > 50 {
		k = 10
	}

	bmHits, err := c.bm25Search(q, k)
	if err != nil {
		return nil, err
	}

	var vecHits []models.Result
	if c.embedder != nil {
		qvecs, err := c.embedder.EmbedMany(ctx, []string{q})
		if err == nil && len(qvecs) == 1 {
			vecHits = c.vectorSearch(qvecs[0], k)
		}
	}

	return c.fuseRRF(bmHits, vecHits, k), nil
}

func (c *Corpus) bm25Search(q string, k int) ([]models.Result, error) {
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := c.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.Result
	for _, hit := range res.Hits {
		doc := c.meta[hit.ID]
		out = append(out, models.Result{
			Title: doc.Title, URL: doc.URL, Snippet: snippet(doc.Text),
			Score: hit.Score, Source: "index",
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (c *Corpus) vectorSearch(q []float32, k int) []models.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	var scoreds []scored
	for _, v := range c.vectors {
		scoreds = append(scoreds, scored{id: v.DocID, score: cosine(q, v.Vec)})
	}
	sort.Slice(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	var out []models.Result
	for _, sc := range scoreds {
		doc := c.meta[sc.id]
		out = append(out, models.Result{
			Title: doc.Title, URL: doc.URL, Snippet: snippet(doc.Text),
			Score: sc.score, Source: "index",
		})
		if len(out) >= k {
			break
		}
	}
	return out
}

func (c *Corpus) fuseRRF(a, b []models.Result, k int) []models.Result {
	type agg struct {
		item  models.Result
		score float64
	}
	m := map[string]*agg{}
	add := func(list []models.Result) {
		for rank, h := range list {
			x, ok := m[h.URL]
			if !ok {
				x = &agg{item: h}
				m[h.URL] = x
			}
			x.score += 1.0 / float64(rrfK+rank+1)
		}
	}
	add(a)
	add(b)

	items := make([]*agg, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].item.URL < items[j].item.URL
	})

	if k > len(items) {
		k = len(items)
	}
	out := make([]models.Result, 0, k)
	for i := 0; i < k; i++ {
		r := items[i].item
		r.Score = items[i].score
		out = append(out, r)
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func embedText(d Document) string {
	return strings.TrimSpace(d.Title + "\n" + d.Text)
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "…"
}
