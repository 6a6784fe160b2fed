package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/medguard-ai/medguard/logger"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule is the cron spec used when none is configured.
const DefaultSweepSchedule = "@every 5m"

// BlobDeleter removes stored photos.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Sweeper periodically evicts jobs that have not been updated within ttl and
// deletes their photos.
type Sweeper struct {
	cron    *cron.Cron
	store   Store
	blobs   BlobDeleter
	ttl     time.Duration
	spec    string
	onEvict func(int)
	logger  logger.Logger
}

// NewSweeper creates a sweeper for store. blobs may be nil when photos are
// not kept. onEvict, if set, receives the number of jobs removed by each run.
func NewSweeper(store Store, blobs BlobDeleter, ttl time.Duration, spec string, onEvict func(int), log logger.Logger) *Sweeper {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	return &Sweeper{
		cron:    cron.New(cron.WithLogger(cron.DefaultLogger)),
		store:   store,
		blobs:   blobs,
		ttl:     ttl,
		spec:    spec,
		onEvict: onEvict,
		logger:  log,
	}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.ttl <= 0 {
		return fmt.Errorf("sweeper ttl must be positive, got %s", s.ttl)
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info(ctx, "scan job sweeper started", map[string]interface{}{
		"schedule": s.spec,
		"ttl":      s.ttl.String(),
	})
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep evicts stale jobs once and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	evicted, err := s.store.Evict(ctx, time.Now().UTC().Add(-s.ttl))
	if err != nil {
		s.logger.Error(ctx, "failed to evict stale scan jobs", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if len(evicted) == 0 {
		return 0
	}

	if s.blobs != nil {
		for _, j := range evicted {
			s.deletePhotos(ctx, j)
		}
	}
	if s.onEvict != nil {
		s.onEvict(len(evicted))
	}
	return len(evicted)
}

func (s *Sweeper) deletePhotos(ctx context.Context, j *Job) {
	for role, ref := range j.Photos {
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.logger.Warn(ctx, "failed to delete evicted photo", map[string]interface{}{
				"scan_id": j.ID.String(),
				"role":    string(role),
				"path":    ref,
				"error":   err.Error(),
			})
		}
	}
}
