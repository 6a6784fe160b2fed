package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/logger"
	"github.com/medguard-ai/medguard/metrics"
	"github.com/medguard-ai/medguard/scan"
	"github.com/medguard-ai/medguard/scorer"
	"github.com/medguard-ai/medguard/storage"
)

// Pipeline scores the photos of a scan job and aggregates the result.
type Pipeline struct {
	store   scan.Store
	blobs   storage.BlobStorage
	scorer  scorer.Scorer
	engine  *aggregate.Engine
	config  Config
	metrics *metrics.Collector
	logger  logger.Logger
}

// NewPipeline creates a new scan pipeline.
func NewPipeline(
	config Config,
	store scan.Store,
	blobs storage.BlobStorage,
	sc scorer.Scorer,
	engine *aggregate.Engine,
	m *metrics.Collector,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		store:   store,
		blobs:   blobs,
		scorer:  sc,
		engine:  engine,
		config:  config,
		metrics: m,
		logger:  log,
	}
}

// PolicyFor returns the aggregation policy used to finalize a job of flow.
func (p *Pipeline) PolicyFor(flow scan.Flow) aggregate.Policy {
	if flow == scan.FlowSequential {
		return p.config.SequentialPolicy
	}
	return p.config.BatchPolicy
}

// Run scores every attached photo of a batch job, then finalizes it. The job
// fails only when no photo could be scored.
func (p *Pipeline) Run(ctx context.Context, jobID uuid.UUID) {
	j, err := p.store.GetByID(ctx, jobID)
	if err != nil {
		p.logger.Error(ctx, "failed to fetch scan job", map[string]interface{}{
			"scan_id": jobID.String(),
			"error":   err.Error(),
		})
		return
	}
	if j.Status.IsTerminal() {
		return
	}

	var failures []string
	scored := 0
	for _, role := range j.UploadOrder {
		ref := j.Photos[role]
		out, err := p.scorePhoto(ctx, ref)
		if err != nil {
			p.logger.Warn(ctx, "photo scoring failed", map[string]interface{}{
				"scan_id": jobID.String(),
				"role":    string(role),
				"error":   err.Error(),
			})
			failures = append(failures, fmt.Sprintf("%s: %v", role, err))
			continue
		}
		if _, err := p.store.Mutate(ctx, jobID, scan.RecordScore(role, out.RawScore, out.Matches)); err != nil {
			p.failJob(ctx, j, fmt.Sprintf("failed to record score: %v", err))
			return
		}
		scored++
	}

	if scored == 0 {
		reason := "no photo could be scored"
		if len(failures) > 0 {
			reason += ": " + strings.Join(failures, "; ")
		}
		p.failJob(ctx, j, reason)
		return
	}

	done, err := p.Finalize(ctx, jobID)
	if err != nil {
		p.logger.Error(ctx, "failed to finalize scan job", map[string]interface{}{
			"scan_id": jobID.String(),
			"error":   err.Error(),
		})
		return
	}

	p.logger.Info(ctx, "scan job completed", map[string]interface{}{
		"scan_id":      jobID.String(),
		"authenticity": string(done.Result.Authenticity),
		"probability":  done.Result.Probability,
		"avg_score":    done.Result.AvgScore,
		"scored":       scored,
	})
}

// Finalize aggregates the stored scores with the policy for the job's flow.
func (p *Pipeline) Finalize(ctx context.Context, jobID uuid.UUID) (*scan.Job, error) {
	j, err := p.store.Mutate(ctx, jobID, func(j *scan.Job) error {
		return scan.FinalizeWith(p.engine, p.PolicyFor(j.Flow))(j)
	})
	if err != nil {
		return nil, err
	}
	p.metrics.RecordCompleted(string(j.Flow), string(j.Result.Authenticity))
	return j, nil
}

// scorePhoto runs the scorer on a stored photo.
func (p *Pipeline) scorePhoto(ctx context.Context, ref string) (scorer.Outcome, error) {
	local, cleanup, err := storage.Materialize(ctx, p.blobs, ref)
	if err != nil {
		return scorer.Outcome{}, fmt.Errorf("failed to load photo: %w", err)
	}
	defer cleanup()

	start := time.Now()
	out, err := p.scorer.Score(ctx, local)
	p.metrics.RecordScore(time.Since(start), err)
	return out, err
}

// Abort fails a job that will not be run. Jobs that already reached a
// terminal state are left alone.
func (p *Pipeline) Abort(ctx context.Context, jobID uuid.UUID, reason string) {
	j, err := p.store.GetByID(ctx, jobID)
	if err != nil {
		p.logger.Error(ctx, "failed to fetch scan job", map[string]interface{}{
			"scan_id": jobID.String(),
			"error":   err.Error(),
		})
		return
	}
	if j.Status.IsTerminal() {
		return
	}
	p.failJob(ctx, j, reason)
}

// failJob marks a job as failed with the given reason.
func (p *Pipeline) failJob(ctx context.Context, j *scan.Job, reason string) {
	p.logger.Error(ctx, "scan job failed", map[string]interface{}{
		"scan_id": j.ID.String(),
		"reason":  reason,
	})

	if _, err := p.store.Mutate(ctx, j.ID, scan.Fail(reason)); err != nil {
		p.logger.Error(ctx, "failed to mark scan job as failed", map[string]interface{}{
			"scan_id": j.ID.String(),
			"error":   err.Error(),
		})
		return
	}
	p.metrics.RecordFailed(string(j.Flow))
}
