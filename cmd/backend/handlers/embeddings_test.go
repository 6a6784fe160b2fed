package handlers

import (
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/medguard-ai/medguard/testutil"
	"github.com/medguard-ai/medguard/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingHandler_Current(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/embeddings/current", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats vectordb.Stats
	decode(t, rec, &stats)
	assert.Equal(t, "mock_embeddings", stats.Status)
	assert.Equal(t, 8, stats.DrugsCount)
	assert.Equal(t, "hardcoded_mock", stats.Source)
}

func TestEmbeddingHandler_Upload(t *testing.T) {
	catalog := vectordb.Catalog{Drugs: []vectordb.Drug{
		{ID: 10, Name: "Sanmol", Variant: "Forte", Embedding: []float64{1, 0, 0}},
		{ID: 11, Name: "Sanmol", Variant: "Sirup", Embedding: []float64{0, 1, 0}},
	}}

	t.Run("json body", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})

		rec := env.postJSON(t, "/api/embeddings/upload", catalog)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp CatalogUploadResponse
		decode(t, rec, &resp)
		assert.Equal(t, 2, resp.DrugsCount)
		assert.Equal(t, env.catalogPath, resp.EmbeddingsFile)

		stats := env.index.Stats()
		assert.Equal(t, "custom_embeddings", stats.Status)
		assert.Equal(t, 2, stats.DrugsCount)

		saved, err := vectordb.LoadCatalog(env.catalogPath)
		require.NoError(t, err)
		assert.Equal(t, catalog, saved)
	})

	t.Run("yaml file in multipart form", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})

		yamlDoc := "drugs:\n  - id: 3\n    name: Paracetamol\n    variant: Generik\n    embedding: [0.5, 0.5]\n"
		body, ct := testutil.MultipartBody(t, nil, testutil.FilePart{
			Field: "embeddings", Filename: "catalog.yaml", Data: []byte(yamlDoc),
		})
		rec := env.do(t, http.MethodPost, "/api/embeddings/upload", body, ct)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 1, env.index.Stats().DrugsCount)
	})

	t.Run("invalid catalog keeps the current one", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})

		rec := env.do(t, http.MethodPost, "/api/embeddings/upload",
			strings.NewReader(`{"drugs": [{"id": "x", "name": "bad"}]}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidFormat, errorCode(t, rec))
		assert.Equal(t, "mock_embeddings", env.index.Stats().Status)

		_, err := os.Stat(env.catalogPath)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing file", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})

		body, ct := testutil.MultipartBody(t, map[string]string{"note": "x"})
		rec := env.do(t, http.MethodPost, "/api/embeddings/upload", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeMissingFile, errorCode(t, rec))
	})
}

func TestEmbeddingHandler_Compare(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	panadol := vectordb.DefaultCatalog().Drugs[0]

	t.Run("exact match", func(t *testing.T) {
		rec := env.postJSON(t, "/api/embedding/compare", CompareRequest{
			Embeddings: map[string][]float64{
				"front": panadol.Embedding,
				"back":  panadol.Embedding,
			},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp CompareResponse
		decode(t, rec, &resp)
		assert.Equal(t, "success", resp.Status)
		require.NotNil(t, resp.BestMatch)
		assert.Equal(t, panadol.ID, resp.BestMatch.ID)
		assert.InDelta(t, 1.0, resp.Similarities["front"], 1e-9)
		assert.InDelta(t, 1.0, resp.AverageSimilarity, 1e-9)
		assert.Equal(t, "asli", resp.Authenticity)
		assert.Equal(t, 100, resp.Probability)
		assert.Len(t, resp.SideMatches["back"], 5)
	})

	t.Run("no sides", func(t *testing.T) {
		rec := env.postJSON(t, "/api/embedding/compare", CompareRequest{Embeddings: map[string][]float64{}})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CompareResponse
		decode(t, rec, &resp)
		assert.Nil(t, resp.BestMatch)
		assert.Equal(t, "unknown", resp.Authenticity)
		assert.Equal(t, 0, resp.Probability)
	})

	t.Run("bad body", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/embedding/compare", strings.NewReader(`{"vectors": 1}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidFormat, errorCode(t, rec))
	})
}

func TestEmbeddingHandler_Generate(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	body, ct := testutil.MultipartBody(t, nil, pngPart(t, "file"))
	rec := env.do(t, http.MethodPost, "/api/embedding/generate", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp GenerateResponse
	decode(t, rec, &resp)
	assert.Equal(t, "file.png", resp.File)
	assert.Equal(t, 32, resp.VectorSize)
	assert.Len(t, resp.Embedding, 32)

	body, ct = testutil.MultipartBody(t, map[string]string{"x": "y"})
	rec = env.do(t, http.MethodPost, "/api/embedding/generate", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeMissingFile, errorCode(t, rec))
}
