// Package analysis runs scan jobs through scoring and aggregation for both
// the batch and the sequential flow.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/logger"
	"github.com/medguard-ai/medguard/metrics"
	"github.com/medguard-ai/medguard/scan"
	"github.com/medguard-ai/medguard/scorer"
	"github.com/medguard-ai/medguard/storage"
	"github.com/medguard-ai/medguard/vectordb"
)

var (
	ErrNoPhotos     = errors.New("at least one photo is required")
	ErrShuttingDown = errors.New("scan service is shutting down")
	ErrBatchScan    = errors.New("batch scans are scored and finalized automatically")
)

// Photo is an uploaded image for one role.
type Photo struct {
	Role scan.Role
	Ext  string
	Body io.Reader
}

// PhotoScore is the scorer verdict for a single sequential upload.
type PhotoScore struct {
	Role       scan.Role
	Prediction scorer.Label
	Score      float64
	Matches    []vectordb.Match
}

// Service is the entry point for scan operations.
type Service struct {
	store    scan.Store
	blobs    storage.BlobStorage
	pipeline *Pipeline
	pool     *WorkerPool
	config   Config
	metrics  *metrics.Collector
	logger   logger.Logger
}

// NewService validates cfg and wires the pipeline and worker pool.
func NewService(
	cfg Config,
	store scan.Store,
	blobs storage.BlobStorage,
	sc scorer.Scorer,
	engine *aggregate.Engine,
	m *metrics.Collector,
	log logger.Logger,
) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pipeline := NewPipeline(cfg, store, blobs, sc, engine, m, log)
	return &Service{
		store:    store,
		blobs:    blobs,
		pipeline: pipeline,
		pool:     NewWorkerPool(cfg.Workers, cfg.QueueSize, pipeline, m, log),
		config:   cfg,
		metrics:  m,
		logger:   log,
	}, nil
}

// StartWorkers starts the batch worker pool.
func (s *Service) StartWorkers(ctx context.Context) {
	s.pool.Start(ctx)
}

// Shutdown stops scheduling batch jobs and waits for running ones.
func (s *Service) Shutdown() {
	s.pool.Stop()
}

// SubmitBatch stores photos on a new batch job and schedules it for
// processing. It returns the job snapshot and the scheduled delay.
func (s *Service) SubmitBatch(ctx context.Context, photos []Photo) (*scan.Job, time.Duration, error) {
	if len(photos) == 0 {
		return nil, 0, ErrNoPhotos
	}

	j, err := s.store.Create(ctx, scan.FlowBatch)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create scan job: %w", err)
	}
	s.metrics.RecordCreated(string(scan.FlowBatch))

	for _, photo := range photos {
		ref := storage.PhotoPath(j.ID.String(), string(photo.Role), photo.Ext)
		if err := s.blobs.Upload(ctx, ref, photo.Body); err != nil {
			s.pipeline.failJob(ctx, j, fmt.Sprintf("failed to store %s photo", photo.Role))
			return nil, 0, fmt.Errorf("failed to store %s photo: %w", photo.Role, err)
		}
		if j, err = s.store.Mutate(ctx, j.ID, scan.AttachPhoto(photo.Role, ref)); err != nil {
			return nil, 0, fmt.Errorf("failed to attach %s photo: %w", photo.Role, err)
		}
	}

	delay := s.config.delay()
	if !s.pool.Schedule(ctx, j.ID, delay) {
		s.pipeline.failJob(ctx, j, ErrShuttingDown.Error())
		return nil, 0, ErrShuttingDown
	}

	s.logger.Info(ctx, "batch scan submitted", map[string]interface{}{
		"scan_id": j.ID.String(),
		"photos":  len(photos),
		"delay":   delay.String(),
	})
	return j, delay, nil
}

// Start creates an empty sequential scan job.
func (s *Service) Start(ctx context.Context) (*scan.Job, error) {
	j, err := s.store.Create(ctx, scan.FlowSequential)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan job: %w", err)
	}
	s.metrics.RecordCreated(string(scan.FlowSequential))

	s.logger.Info(ctx, "sequential scan started", map[string]interface{}{
		"scan_id": j.ID.String(),
	})
	return j, nil
}

// AcceptPhoto stores and attaches one photo, then scores it outside the job's
// critical section. A scorer error is returned as is and leaves the photo
// attached but unscored. A photo replaced by a later upload for the same role
// is deleted. Batch jobs take no further photos.
func (s *Service) AcceptPhoto(ctx context.Context, id uuid.UUID, photo Photo) (*PhotoScore, error) {
	j, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Flow == scan.FlowBatch {
		return nil, ErrBatchScan
	}
	if j.Status.IsTerminal() {
		return nil, scan.ErrJobTerminal
	}

	ref := storage.PhotoPath(id.String(), string(photo.Role), photo.Ext)
	if err := s.blobs.Upload(ctx, ref, photo.Body); err != nil {
		return nil, fmt.Errorf("failed to store %s photo: %w", photo.Role, err)
	}

	var replaced string
	if _, err := s.store.Mutate(ctx, id, func(j *scan.Job) error {
		replaced = j.Photos[photo.Role]
		return j.AttachPhoto(photo.Role, ref)
	}); err != nil {
		s.deletePhoto(ctx, ref)
		return nil, err
	}
	if replaced != "" && replaced != ref {
		s.deletePhoto(ctx, replaced)
	}

	out, err := s.pipeline.scorePhoto(ctx, ref)
	if err != nil {
		s.logger.Warn(ctx, "photo scoring failed", map[string]interface{}{
			"scan_id": id.String(),
			"role":    string(photo.Role),
			"error":   err.Error(),
		})
		return nil, err
	}

	if _, err := s.store.Mutate(ctx, id, scan.RecordScore(photo.Role, out.RawScore, out.Matches)); err != nil {
		return nil, err
	}

	return &PhotoScore{
		Role:       photo.Role,
		Prediction: out.Label,
		Score:      out.RawScore,
		Matches:    out.Matches,
	}, nil
}

// Finalize aggregates the scores stored so far. Calling it again on a
// completed job recomputes the result. Batch jobs are finalized by their
// worker and are rejected with ErrBatchScan.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*scan.Job, error) {
	j, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Flow == scan.FlowBatch {
		return nil, ErrBatchScan
	}

	j, err = s.pipeline.Finalize(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "scan finalized", map[string]interface{}{
		"scan_id":      id.String(),
		"authenticity": string(j.Result.Authenticity),
		"probability":  j.Result.Probability,
	})
	return j, nil
}

// Get returns a snapshot of the job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*scan.Job, error) {
	return s.store.GetByID(ctx, id)
}

// deletePhoto removes a blob that no job references any more.
func (s *Service) deletePhoto(ctx context.Context, ref string) {
	if err := s.blobs.Delete(ctx, ref); err != nil && !errors.Is(err, storage.ErrFileNotFound) {
		s.logger.Warn(ctx, "failed to delete orphaned photo", map[string]interface{}{
			"path":  ref,
			"error": err.Error(),
		})
	}
}
