package refreshtokens

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/common"
	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, r *MemoryRepository, id, userID string, created, expires time.Time) {
	t.Helper()
	require.NoError(t, r.Create(context.Background(), &models.RefreshToken{
		ID: id, UserID: userID, TokenHash: "h-" + id, CreatedAt: created, ExpiresAt: expires,
	}))
}

func TestMemoryRepository_ListActiveFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	r := NewMemoryRepository()

	seed(t, r, "old", "u1", now.Add(-2*time.Hour), now.Add(time.Hour))
	seed(t, r, "new", "u1", now.Add(-time.Hour), now.Add(time.Hour))
	seed(t, r, "expired", "u1", now.Add(-3*time.Hour), now.Add(-time.Second))
	seed(t, r, "revoked", "u1", now.Add(-time.Hour), now.Add(time.Hour))
	seed(t, r, "other", "u2", now, now.Add(time.Hour))
	_, err := r.RevokeByID(ctx, "revoked")
	require.NoError(t, err)

	got, err := r.ListActive(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "old", got[1].ID)

	all, err := r.ListActive(ctx, "", now)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryRepository_CreateDuplicate(t *testing.T) {
	r := NewMemoryRepository()
	now := time.Now()
	seed(t, r, "r1", "u1", now, now.Add(time.Hour))

	err := r.Create(context.Background(), &models.RefreshToken{ID: "r1"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestMemoryRepository_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now()
	seed(t, r, "r1", "u1", now, now.Add(time.Hour))

	got, err := r.Get(ctx, "r1")
	require.NoError(t, err)
	got.TokenHash = "mutated"

	again, err := r.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "h-r1", again.TokenHash)

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemoryRepository_RevokeActiveIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now()
	seed(t, r, "r1", "u1", now, now.Add(time.Hour))
	seed(t, r, "gone", "u1", now.Add(-time.Hour), now.Add(-time.Minute))

	ok, err := r.RevokeActive(ctx, "r1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.RevokeActive(ctx, "r1", now)
	require.NoError(t, err)
	assert.False(t, ok, "second revoke must not succeed")

	ok, err = r.RevokeActive(ctx, "gone", now)
	require.NoError(t, err)
	assert.False(t, ok, "expired record must not be revocable through rotation")

	ok, err = r.RevokeActive(ctx, "missing", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRepository_RevokeActiveSingleWinner(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now()
	seed(t, r, "r1", "u1", now, now.Add(time.Hour))

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := r.RevokeActive(ctx, "r1", now)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}

func TestMemoryRepository_RevokeIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now()
	for i := 0; i < 3; i++ {
		seed(t, r, fmt.Sprintf("r%d", i), "u1", now, now.Add(time.Hour))
	}
	seed(t, r, "x", "u2", now, now.Add(time.Hour))

	n, err := r.RevokeByUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = r.RevokeByUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	n, err = r.RevokeByID(ctx, "r0")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	n, err = r.RevokeByID(ctx, "missing")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	left, err := r.ListActive(ctx, "", now)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "x", left[0].ID)
}

func TestMemoryRepository_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	r := NewMemoryRepository()
	seed(t, r, "old", "u1", now.Add(-time.Minute), now.Add(time.Hour))
	seed(t, r, "taken", "u2", now.Add(-time.Minute), now.Add(time.Hour))
	seed(t, r, "other", "u3", now.Add(-time.Minute), now.Add(time.Hour))

	err := dbx.NewMemoryTransactor().WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.InTx(tx.(*dbx.MemoryTx))
		ok, err := repo.RevokeActive(ctx, "old", now)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = repo.RevokeByUser(ctx, "u3")
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, &models.RefreshToken{ID: "fresh", UserID: "u1", ExpiresAt: now.Add(time.Hour)}))
		// id collision fails the unit of work
		return repo.Create(ctx, &models.RefreshToken{ID: "taken", UserID: "u1", ExpiresAt: now.Add(time.Hour)})
	})
	require.ErrorIs(t, err, common.ErrorAlreadyExists)

	old, err := r.Get(ctx, "old")
	require.NoError(t, err)
	assert.True(t, old.Active(now))
	other, err := r.Get(ctx, "other")
	require.NoError(t, err)
	assert.True(t, other.Active(now))
	_, err = r.Get(ctx, "fresh")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemoryRepository_InTxCommits(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	r := NewMemoryRepository()
	seed(t, r, "old", "u1", now.Add(-time.Minute), now.Add(time.Hour))

	err := dbx.NewMemoryTransactor().WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.InTx(tx.(*dbx.MemoryTx))
		if _, err := repo.RevokeActive(ctx, "old", now); err != nil {
			return err
		}
		return repo.Create(ctx, &models.RefreshToken{ID: "fresh", UserID: "u1", ExpiresAt: now.Add(time.Hour)})
	})
	require.NoError(t, err)

	old, err := r.Get(ctx, "old")
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	fresh, err := r.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, fresh.Active(now))
}
