package handlers

import (
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/logger"
	"github.com/medguard-ai/medguard/metrics"
	"github.com/medguard-ai/medguard/scorer"
	"github.com/medguard-ai/medguard/vectordb"
)

// maxCatalogSize bounds an uploaded reference catalog.
const maxCatalogSize = 10 * 1024 * 1024

// EmbeddingHandler serves the reference catalog and embedding comparison.
type EmbeddingHandler struct {
	index       *vectordb.Index
	embedder    scorer.Embedder
	catalogPath string
	topK        int
	metrics     *metrics.Collector
	logger      logger.Logger
}

// NewEmbeddingHandler creates a new embedding handler. Uploaded catalogs are
// persisted to catalogPath when it is set.
func NewEmbeddingHandler(index *vectordb.Index, embedder scorer.Embedder, catalogPath string, topK int, m *metrics.Collector, log logger.Logger) *EmbeddingHandler {
	if topK <= 0 {
		topK = scorer.DefaultTopK
	}
	return &EmbeddingHandler{
		index:       index,
		embedder:    embedder,
		catalogPath: catalogPath,
		topK:        topK,
		metrics:     m,
		logger:      log,
	}
}

// Current handles describing the active catalog.
func (h *EmbeddingHandler) Current(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.index.Stats())
}

// CatalogUploadResponse is returned after a catalog replacement.
type CatalogUploadResponse struct {
	Message        string `json:"message"`
	DrugsCount     int    `json:"drugs_count"`
	EmbeddingsFile string `json:"embeddings_file,omitempty"`
}

// Upload handles replacing the catalog. The body is either a multipart form
// with an "embeddings" file or a raw JSON or YAML document.
func (h *EmbeddingHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCatalogSize+multipartOverhead)

	var (
		data   []byte
		format = vectordb.FormatJSON
		err    error
	)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, ferr := r.FormFile("embeddings")
		if ferr != nil {
			respondError(w, http.StatusBadRequest, CodeMissingFile, "File embeddings.json harus diupload")
			return
		}
		defer file.Close()
		format = vectordb.FormatFromPath(header.Filename)
		data, err = io.ReadAll(file)
	} else {
		if strings.Contains(contentType, "yaml") {
			format = vectordb.FormatYAML
		}
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeFileTooLarge, "failed to read catalog")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, CodeMissingFile, "File embeddings.json harus diupload")
		return
	}

	catalog, err := vectordb.ParseCatalog(data, format)
	if err != nil {
		mapError(w, r, h.logger, err)
		return
	}
	if err := h.index.Replace(catalog, vectordb.SourceCustom); err != nil {
		mapError(w, r, h.logger, err)
		return
	}
	h.metrics.SetCatalogSize(len(catalog.Drugs))

	if h.catalogPath != "" {
		if err := vectordb.SaveCatalog(h.catalogPath, catalog); err != nil {
			h.logger.Error(r.Context(), "failed to persist catalog", map[string]interface{}{
				"error": err.Error(),
				"path":  h.catalogPath,
			})
			respondError(w, http.StatusInternalServerError, CodeServerError, "catalog applied but could not be saved")
			return
		}
	}

	h.logger.Info(r.Context(), "reference catalog replaced", map[string]interface{}{
		"drugs_count": len(catalog.Drugs),
	})
	respondJSON(w, http.StatusOK, CatalogUploadResponse{
		Message:        "Embeddings updated successfully",
		DrugsCount:     len(catalog.Drugs),
		EmbeddingsFile: h.catalogPath,
	})
}

// CompareRequest carries one embedding per package side.
type CompareRequest struct {
	Embeddings map[string][]float64 `json:"embeddings"`
}

// CompareResponse is the vote over all sides.
type CompareResponse struct {
	Status            string                      `json:"status"`
	BestMatch         *vectordb.Match             `json:"best_match"`
	Similarities      map[string]float64          `json:"similarities"`
	AverageSimilarity float64                     `json:"average_similarity"`
	Authenticity      string                      `json:"authenticity"`
	Probability       int                         `json:"probability"`
	SideMatches       map[string][]vectordb.Match `json:"side_matches"`
}

// Compare handles matching per-side embeddings against the catalog.
func (h *EmbeddingHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := parseJSON(r, &req, h.logger); err != nil || req.Embeddings == nil {
		respondError(w, http.StatusBadRequest, CodeInvalidFormat,
			"Expected { embeddings: { side: [...vector...], ... } }")
		return
	}

	sides := make([]string, 0, len(req.Embeddings))
	for side := range req.Embeddings {
		sides = append(sides, side)
	}
	sort.Strings(sides)

	resp := CompareResponse{
		Status:       "success",
		Similarities: make(map[string]float64, len(sides)),
		SideMatches:  make(map[string][]vectordb.Match, len(sides)),
		Authenticity: "unknown",
	}

	votes := make([][]vectordb.Match, 0, len(sides))
	var sum float64
	for _, side := range sides {
		matches := h.index.Query(req.Embeddings[side], h.topK)
		resp.SideMatches[side] = matches
		top := 0.0
		if len(matches) > 0 {
			top = matches[0].Similarity
		}
		resp.Similarities[side] = top
		sum += top
		votes = append(votes, matches)
	}

	if best, ok := vectordb.BestMatch(votes, vectordb.VotesPerSide); ok {
		resp.BestMatch = &best
	}
	if len(sides) > 0 {
		resp.AverageSimilarity = sum / float64(len(sides))
		resp.Authenticity = string(aggregate.SimilarityBand(resp.AverageSimilarity))
		resp.Probability = int(math.Round(resp.AverageSimilarity * 100))
	}

	respondJSON(w, http.StatusOK, resp)
}

// GenerateResponse carries the embedding of an uploaded image.
type GenerateResponse struct {
	Status     string    `json:"status"`
	File       string    `json:"file"`
	VectorSize int       `json:"vector_size"`
	Embedding  []float64 `json:"embedding"`
}

// Generate handles embedding a single uploaded image.
func (h *EmbeddingHandler) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, DefaultMaxPhotoSize+multipartOverhead)
	if err := r.ParseMultipartForm(DefaultMaxPhotoSize); err != nil {
		respondError(w, http.StatusBadRequest, CodeMissingFile, "File not provided")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, CodeMissingFile, "File not provided")
		return
	}
	photo, err := readPhoto(files[0], "", DefaultMaxPhotoSize)
	if err != nil {
		respondUploadError(w, err)
		return
	}

	tmp, err := os.CreateTemp("", "medguard-embed-*."+photo.Ext)
	if err != nil {
		mapError(w, r, h.logger, err)
		return
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, photo.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		mapError(w, r, h.logger, err)
		return
	}

	embedding, err := h.embedder.Embed(r.Context(), tmp.Name())
	if err != nil {
		mapError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, GenerateResponse{
		Status:     "success",
		File:       files[0].Filename,
		VectorSize: len(embedding),
		Embedding:  embedding,
	})
}
