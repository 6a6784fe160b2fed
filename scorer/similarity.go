package scorer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/medguard-ai/medguard/vectordb"
	"golang.org/x/crypto/blake2b"
)

const (
	DefaultTopK     = 5
	DefaultBoundary = 0.85
)

// Embedder turns an image into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, imageRef string) ([]float64, error)
}

// SimilarityScorer scores an image by its best cosine similarity against the
// reference index. RawScore is the top similarity minus Boundary, so scores
// above zero read as authentic.
type SimilarityScorer struct {
	embedder Embedder
	index    *vectordb.Index
	topK     int
	boundary float64
}

func NewSimilarityScorer(embedder Embedder, index *vectordb.Index, topK int, boundary float64) *SimilarityScorer {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &SimilarityScorer{
		embedder: embedder,
		index:    index,
		topK:     topK,
		boundary: boundary,
	}
}

func (s *SimilarityScorer) Score(ctx context.Context, imageRef string) (Outcome, error) {
	embedding, err := s.embedder.Embed(ctx, imageRef)
	if err != nil {
		return Outcome{}, err
	}

	matches := s.index.Query(embedding, s.topK)
	if len(matches) == 0 {
		return Outcome{}, newError(ErrScorerFailure, imageRef, "reference index is empty", nil)
	}

	raw := matches[0].Similarity - s.boundary
	label := LabelFake
	if raw >= 0 {
		label = LabelReal
	}
	return Outcome{Label: label, RawScore: raw, Matches: matches}, nil
}

// HashEmbedder derives a deterministic pseudo-embedding from the image bytes.
// Values are in [0, 1].
type HashEmbedder struct {
	Dim int
}

func (h HashEmbedder) Embed(ctx context.Context, imageRef string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(imageRef)
	if err != nil {
		return nil, newError(ErrUnavailable, imageRef, "read image", err)
	}

	dim := h.Dim
	if dim <= 0 {
		dim = 32
	}

	xof, err := blake2b.NewXOF(uint32(dim*4), nil)
	if err != nil {
		return nil, newError(ErrScorerFailure, imageRef, "init hash", err)
	}
	if _, err := xof.Write(data); err != nil {
		return nil, newError(ErrScorerFailure, imageRef, "hash image", err)
	}

	buf := make([]byte, dim*4)
	if _, err := xof.Read(buf); err != nil {
		return nil, newError(ErrScorerFailure, imageRef, "read hash", err)
	}

	out := make([]float64, dim)
	for i := range out {
		out[i] = float64(binary.BigEndian.Uint32(buf[i*4:])) / math.MaxUint32
	}
	return out, nil
}

// ProcessEmbedder runs an external command that prints either a JSON array
// or an object with an "embedding" array.
type ProcessEmbedder struct {
	runner  Runner
	command string
	args    []string
	timeout time.Duration
}

func NewProcessEmbedder(runner Runner, cfg ProcessConfig) *ProcessEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &ProcessEmbedder{
		runner:  runner,
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		timeout: cfg.Timeout,
	}
}

func (e *ProcessEmbedder) Embed(ctx context.Context, imageRef string) ([]float64, error) {
	stdout, err := runProcess(ctx, e.runner, e.command, expandArgs(e.args, imageRef), e.timeout, imageRef)
	if err != nil {
		return nil, err
	}
	return ParseEmbedding(imageRef, stdout)
}

// ParseEmbedding decodes embedder output.
func ParseEmbedding(imageRef string, stdout []byte) ([]float64, error) {
	var vec []float64
	if err := json.Unmarshal(stdout, &vec); err == nil && len(vec) > 0 {
		return vec, nil
	}

	var wrapped struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(stdout, &wrapped); err != nil {
		return nil, newError(ErrParse, imageRef, "embedding is not JSON", err)
	}
	if len(wrapped.Embedding) == 0 {
		return nil, newError(ErrParse, imageRef, fmt.Sprintf("empty embedding in %d bytes of output", len(stdout)), nil)
	}
	return wrapped.Embedding, nil
}
