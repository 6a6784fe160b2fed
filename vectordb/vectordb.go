package vectordb

import (
	"errors"
	"math"
	"sort"
	"sync"
)

var (
	ErrEmptyCatalog      = errors.New("catalog has no drugs")
	ErrInvalidCatalog    = errors.New("invalid catalog")
	ErrUnsupportedFormat = errors.New("unsupported catalog format")
)

// Source identifies where the active catalog came from.
type Source string

const (
	SourceMock   Source = "mock"
	SourceCustom Source = "custom"
)

// Drug is a reference package with its embedding.
type Drug struct {
	ID        int       `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Variant   string    `json:"variant" yaml:"variant"`
	Embedding []float64 `json:"embedding" yaml:"embedding"`
}

// Catalog is the set of reference drugs an Index searches.
type Catalog struct {
	Drugs []Drug `json:"drugs" yaml:"drugs"`
}

// Match is a single query hit.
type Match struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Variant    string  `json:"variant"`
	Similarity float64 `json:"similarity"`
}

// Stats describes the active catalog.
type Stats struct {
	Status     string `json:"status"`
	DrugsCount int    `json:"drugs_count"`
	Source     string `json:"source"`
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length or with zero norm have similarity 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Index is an in-memory brute-force vector index safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	catalog Catalog
	source  Source
}

// NewIndex creates an index over the given catalog.
func NewIndex(c Catalog, source Source) *Index {
	return &Index{catalog: cloneCatalog(c), source: source}
}

// NewMockIndex creates an index over the built-in reference catalog.
func NewMockIndex() *Index {
	return NewIndex(DefaultCatalog(), SourceMock)
}

// Query returns the topK drugs most similar to embedding, best first.
// Ties keep catalog order.
func (i *Index) Query(embedding []float64, topK int) []Match {
	i.mu.RLock()
	defer i.mu.RUnlock()

	matches := make([]Match, 0, len(i.catalog.Drugs))
	for _, d := range i.catalog.Drugs {
		matches = append(matches, Match{
			ID:         d.ID,
			Name:       d.Name,
			Variant:    d.Variant,
			Similarity: CosineSimilarity(embedding, d.Embedding),
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Similarity > matches[b].Similarity
	})

	if topK > 0 && topK < len(matches) {
		matches = matches[:topK]
	}
	return matches
}

// Replace swaps the active catalog.
func (i *Index) Replace(c Catalog, source Source) error {
	if len(c.Drugs) == 0 {
		return ErrEmptyCatalog
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.catalog = cloneCatalog(c)
	i.source = source
	return nil
}

// Stats reports the size and origin of the active catalog.
func (i *Index) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.source == SourceCustom {
		return Stats{Status: "custom_embeddings", DrugsCount: len(i.catalog.Drugs), Source: "uploaded"}
	}
	return Stats{Status: "mock_embeddings", DrugsCount: len(i.catalog.Drugs), Source: "hardcoded_mock"}
}

// Dimension returns the embedding length of the first catalog entry.
func (i *Index) Dimension() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.catalog.Drugs) == 0 {
		return 0
	}
	return len(i.catalog.Drugs[0].Embedding)
}

func cloneCatalog(c Catalog) Catalog {
	out := Catalog{Drugs: make([]Drug, len(c.Drugs))}
	for idx, d := range c.Drugs {
		d.Embedding = append([]float64(nil), d.Embedding...)
		out.Drugs[idx] = d
	}
	return out
}
