package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medguard-ai/medguard/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store backend must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("create returns pending job with unique id", func(t *testing.T) {
		a, err := store.Create(ctx, FlowSequential)
		require.NoError(t, err)
		b, err := store.Create(ctx, FlowBatch)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, a.ID)
		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, StatusPending, a.Status)
		assert.Equal(t, FlowBatch, b.Flow)
	})

	t.Run("create rejects invalid flow", func(t *testing.T) {
		_, err := store.Create(ctx, Flow("bogus"))
		assert.ErrorIs(t, err, ErrInvalidFlow)
	})

	t.Run("get unknown id", func(t *testing.T) {
		_, err := store.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("mutate unknown id", func(t *testing.T) {
		_, err := store.Mutate(ctx, uuid.New(), Fail("x"))
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("mutate persists changes", func(t *testing.T) {
		j, err := store.Create(ctx, FlowSequential)
		require.NoError(t, err)

		updated, err := store.Mutate(ctx, j.ID, Chain(AttachPhoto(RoleFront, "f.jpg"), RecordScore(RoleFront, 0.2, nil)))
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, updated.Status)

		got, err := store.GetByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, "f.jpg", got.Photos[RoleFront])
		assert.Equal(t, 0.2, got.Scores[RoleFront])
		assert.Equal(t, []Role{RoleFront}, got.UploadOrder)
	})

	t.Run("failed mutation leaves job unchanged", func(t *testing.T) {
		j, err := store.Create(ctx, FlowSequential)
		require.NoError(t, err)

		sentinel := errors.New("stop")
		_, err = store.Mutate(ctx, j.ID, func(job *Job) error {
			job.Photos[RoleBack] = "b.jpg"
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		got, err := store.GetByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Photos)
		assert.Equal(t, StatusPending, got.Status)
	})

	t.Run("returned jobs are snapshots", func(t *testing.T) {
		j, err := store.Create(ctx, FlowSequential)
		require.NoError(t, err)

		snap, err := store.GetByID(ctx, j.ID)
		require.NoError(t, err)
		snap.Photos[RoleLeft] = "l.jpg"

		got, err := store.GetByID(ctx, j.ID)
		require.NoError(t, err)
		assert.NotContains(t, got.Photos, RoleLeft)
	})

	t.Run("finalize round trips result", func(t *testing.T) {
		j, err := store.Create(ctx, FlowBatch)
		require.NoError(t, err)
		_, err = store.Mutate(ctx, j.ID, Chain(AttachPhoto(RoleFront, "f"), RecordScore(RoleFront, 0.2, nil), RecordScore(RoleFront, 0.3, nil)))
		require.NoError(t, err)

		engine := aggregate.NewEngine(aggregate.NewRand(1))
		done, err := store.Mutate(ctx, j.ID, FinalizeWith(engine, aggregate.DefaultPolicy(aggregate.PolicyAnomaly)))
		require.NoError(t, err)
		require.NotNil(t, done.Result)

		got, err := store.GetByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, done.Result.Probability, got.Result.Probability)
		assert.Equal(t, done.Result.Authenticity, got.Result.Authenticity)
		assert.NotNil(t, got.CompletedAt)

		_, err = store.Mutate(ctx, j.ID, AttachPhoto(RoleBack, "b"))
		assert.ErrorIs(t, err, ErrJobTerminal)
	})

	t.Run("concurrent mutations on one job are serialized", func(t *testing.T) {
		j, err := store.Create(ctx, FlowSequential)
		require.NoError(t, err)
		_, err = store.Mutate(ctx, j.ID, AttachPhoto(RoleFront, "f"))
		require.NoError(t, err)

		const writers = 20
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Mutate(ctx, j.ID, func(job *Job) error {
					return job.RecordScore(RoleFront, job.Scores[RoleFront]+1, nil)
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := store.GetByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, float64(writers), got.Scores[RoleFront])
	})

	t.Run("different roles accumulate under concurrency", func(t *testing.T) {
		j, err := store.Create(ctx, FlowSequential)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i, role := range Roles {
			wg.Add(1)
			go func(i int, role Role) {
				defer wg.Done()
				_, err := store.Mutate(ctx, j.ID, Chain(AttachPhoto(role, fmt.Sprintf("%s.jpg", role)), RecordScore(role, float64(i), nil)))
				assert.NoError(t, err)
			}(i, role)
		}
		wg.Wait()

		got, err := store.GetByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Len(t, got.Scores, len(Roles))
		assert.Len(t, got.UploadOrder, len(Roles))
	})

	t.Run("evict removes stale jobs only", func(t *testing.T) {
		j, err := store.Create(ctx, FlowSequential)
		require.NoError(t, err)

		_, err = store.Evict(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		_, err = store.GetByID(ctx, j.ID)
		require.NoError(t, err)

		removed, err := store.Evict(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NotEmpty(t, removed)
		ids := make([]uuid.UUID, 0, len(removed))
		for _, r := range removed {
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, j.ID)
		_, err = store.GetByID(ctx, j.ID)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}
