package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/analysis"
	"github.com/medguard-ai/medguard/logger"
	"github.com/medguard-ai/medguard/metrics"
	"github.com/medguard-ai/medguard/scan"
	"github.com/medguard-ai/medguard/scorer"
	"github.com/medguard-ai/medguard/storage"
	"github.com/medguard-ai/medguard/vectordb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router      *mux.Router
	service     *analysis.Service
	store       *scan.MemoryStore
	index       *vectordb.Index
	metrics     *metrics.Collector
	log         *logger.TestLogger
	catalogPath string
}

type envOptions struct {
	scorer       scorer.Scorer
	maxPhotoSize int64
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	log := logger.NewTestLogger()
	store := scan.NewMemoryStore(log)
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	collector := metrics.NewCollector(prometheus.NewRegistry())

	cfg := analysis.DefaultConfig()
	cfg.MinDelay = 0
	cfg.MaxDelay = 0
	cfg.Workers = 2

	sc := opts.scorer
	if sc == nil {
		sc = roleScorer(nil, nil)
	}

	svc, err := analysis.NewService(cfg, store, blobs, sc, aggregate.NewEngine(aggregate.NewRand(7)), collector, log)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	svc.StartWorkers(ctx)
	t.Cleanup(func() {
		svc.Shutdown()
		cancel()
	})

	index := vectordb.NewMockIndex()
	catalogPath := filepath.Join(t.TempDir(), "catalog", "embeddings.json")

	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	router.Use(NewAccessLog(collector, log).Handler)
	RegisterRoutes(router,
		NewScanHandler(svc, opts.maxPhotoSize, log),
		NewEmbeddingHandler(index, scorer.HashEmbedder{Dim: 32}, catalogPath, 0, collector, log),
	)
	router.Handle("/metrics", collector.Handler())

	return &testEnv{
		router:      router,
		service:     svc,
		store:       store,
		index:       index,
		metrics:     collector,
		log:         log,
		catalogPath: catalogPath,
	}
}

// roleScorer scores a stored photo by the role prefix of its file name.
func roleScorer(scores map[scan.Role]float64, failures map[scan.Role]error) scorer.Scorer {
	return scorer.Func(func(ctx context.Context, imageRef string) (scorer.Outcome, error) {
		base := filepath.Base(imageRef)
		for role, err := range failures {
			if strings.HasPrefix(base, string(role)+"-") {
				return scorer.Outcome{}, err
			}
		}
		for role, score := range scores {
			if strings.HasPrefix(base, string(role)+"-") {
				return scorer.Outcome{Label: scorer.LabelReal, RawScore: score}, nil
			}
		}
		return scorer.Outcome{Label: scorer.LabelFake, RawScore: 1}, nil
	})
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(t *testing.T, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decode(t, rec, &resp)
	return resp.Error
}
