package scorer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/medguard-ai/medguard/testutil"
	"github.com/medguard-ai/medguard/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedEmbedder []float64

func (f fixedEmbedder) Embed(ctx context.Context, imageRef string) ([]float64, error) {
	return f, nil
}

func TestSimilarityScorer(t *testing.T) {
	index := vectordb.NewMockIndex()

	t.Run("exact reference match is real", func(t *testing.T) {
		s := NewSimilarityScorer(fixedEmbedder(vectordb.DefaultCatalog().Drugs[0].Embedding), index, 3, DefaultBoundary)
		out, err := s.Score(context.Background(), "front.jpg")
		require.NoError(t, err)
		assert.Equal(t, LabelReal, out.Label)
		assert.InDelta(t, 1-DefaultBoundary, out.RawScore, 1e-9)
		require.Len(t, out.Matches, 3)
		assert.Equal(t, 1, out.Matches[0].ID)
	})

	t.Run("dissimilar embedding is fake", func(t *testing.T) {
		s := NewSimilarityScorer(fixedEmbedder{1, 2}, index, 0, DefaultBoundary)
		out, err := s.Score(context.Background(), "front.jpg")
		require.NoError(t, err)
		assert.Equal(t, LabelFake, out.Label)
		assert.InDelta(t, -DefaultBoundary, out.RawScore, 1e-9)
		assert.Len(t, out.Matches, DefaultTopK)
	})

	t.Run("empty index", func(t *testing.T) {
		s := NewSimilarityScorer(fixedEmbedder{1}, vectordb.NewIndex(vectordb.Catalog{}, vectordb.SourceCustom), 3, DefaultBoundary)
		_, err := s.Score(context.Background(), "front.jpg")
		assert.ErrorIs(t, err, ErrScorerFailure)
	})
}

func TestHashEmbedder(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteImage(t, dir, "front.png")

	e := HashEmbedder{Dim: 32}
	a, err := e.Embed(context.Background(), path)
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), path)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	for _, v := range a {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	_, err = e.Embed(context.Background(), filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseEmbedding(t *testing.T) {
	v, err := ParseEmbedding("a", []byte(`[0.1, 0.2]`))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, v)

	v, err = ParseEmbedding("a", []byte(`{"status":"success","embedding":[0.3]}`))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3}, v)

	_, err = ParseEmbedding("a", []byte(`{"embedding":[]}`))
	assert.ErrorIs(t, err, ErrParse)

	_, err = ParseEmbedding("a", []byte(`not json`))
	assert.ErrorIs(t, err, ErrParse)
}

func TestProcessEmbedder(t *testing.T) {
	runner := &stubRunner{stdout: `[1, 0, 0]`}
	e := NewProcessEmbedder(runner, ProcessConfig{Command: "embed", Args: []string{"--image", ImagePlaceholder}})

	v, err := e.Embed(context.Background(), "x.png")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, v)
	assert.Equal(t, []string{"--image", "x.png"}, runner.args)
}
