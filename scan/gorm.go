package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medguard-ai/medguard/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRecord is the scan_jobs row. The full job lives in Document; the
// scalar columns exist for indexing and eviction.
type jobRecord struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Status    string    `gorm:"type:varchar(20);not null;index:idx_scan_jobs_status"`
	Flow      string    `gorm:"type:varchar(20);not null"`
	Document  string    `gorm:"type:longtext;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false;index:idx_scan_jobs_updated_at"`
}

func (jobRecord) TableName() string {
	return "scan_jobs"
}

func toRecord(j *Job) (*jobRecord, error) {
	doc, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode scan job: %w", err)
	}
	return &jobRecord{
		ID:        j.ID.String(),
		Status:    string(j.Status),
		Flow:      string(j.Flow),
		Document:  string(doc),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}, nil
}

func (r *jobRecord) toJob() (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(r.Document), &j); err != nil {
		return nil, fmt.Errorf("decode scan job %s: %w", r.ID, err)
	}
	return &j, nil
}

// GormStore implements Store on top of GORM (MySQL or SQLite).
type GormStore struct {
	db     *gorm.DB
	locks  *keyLocks
	logger logger.Logger
}

// NewGormStore creates a new GORM-backed scan job store.
func NewGormStore(db *gorm.DB, log logger.Logger) *GormStore {
	return &GormStore{
		db:     db,
		locks:  newKeyLocks(),
		logger: log,
	}
}

// AutoMigrate creates the scan_jobs table. Used for SQLite and tests; MySQL
// deployments run the versioned migrations instead.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&jobRecord{})
}

// Create creates a pending job for flow.
func (s *GormStore) Create(ctx context.Context, flow Flow) (*Job, error) {
	j, err := NewJob(flow)
	if err != nil {
		return nil, err
	}

	rec, err := toRecord(j)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		s.logger.Error(ctx, "failed to create scan job", map[string]interface{}{
			"error": err.Error(),
			"flow":  string(flow),
		})
		return nil, err
	}

	s.logger.Info(ctx, "scan job created", map[string]interface{}{
		"scan_id": j.ID.String(),
		"flow":    string(flow),
	})

	return j, nil
}

// GetByID retrieves a job by its ID.
func (s *GormStore) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).
		Where("id = ?", id.String()).
		First(&rec).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		s.logger.Error(ctx, "failed to get scan job by ID", map[string]interface{}{
			"error":   err.Error(),
			"scan_id": id.String(),
		})
		return nil, err
	}

	return rec.toJob()
}

// Mutate loads, changes and saves the job inside a transaction while holding
// the in-process lock for id. On MySQL the row is also locked FOR UPDATE.
func (s *GormStore) Mutate(ctx context.Context, id uuid.UUID, fn UpdateSetter) (*Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var updated *Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("id = ?", id.String())
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var rec jobRecord
		if err := q.First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		j, err := rec.toJob()
		if err != nil {
			return err
		}
		if err := fn(j); err != nil {
			return err
		}

		next, err := toRecord(j)
		if err != nil {
			return err
		}
		if err := tx.Save(next).Error; err != nil {
			return err
		}

		updated = j
		return nil
	})

	if err != nil {
		if !errors.Is(err, ErrJobNotFound) && !errors.Is(err, ErrJobTerminal) {
			s.logger.Error(ctx, "failed to update scan job", map[string]interface{}{
				"error":   err.Error(),
				"scan_id": id.String(),
			})
		}
		return nil, err
	}

	return updated, nil
}

// Evict deletes jobs last updated before olderThan. On MySQL the stale rows
// are locked FOR UPDATE until they are deleted.
func (s *GormStore) Evict(ctx context.Context, olderThan time.Time) ([]*Job, error) {
	var records []jobRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("updated_at < ?", olderThan.UTC())
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.Find(&records).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.ID)
		}
		return tx.Where("id IN ?", ids).Delete(&jobRecord{}).Error
	})
	if err != nil {
		s.logger.Error(ctx, "failed to evict scan jobs", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	evicted := make([]*Job, 0, len(records))
	for i := range records {
		j, err := records[i].toJob()
		if err != nil {
			s.logger.Warn(ctx, "skipping undecodable scan job", map[string]interface{}{
				"scan_id": records[i].ID,
				"error":   err.Error(),
			})
			continue
		}
		evicted = append(evicted, j)
	}

	if len(records) > 0 {
		s.logger.Info(ctx, "evicted stale scan jobs", map[string]interface{}{
			"removed_count": len(records),
		})
	}

	return evicted, nil
}
