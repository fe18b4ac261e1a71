package refreshtokens

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/common"
	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
)

// MemoryRepository keeps records in process memory. It is used when the
// server runs without a database and in service tests. All methods are
// serialized by one mutex, which makes RevokeActive a compare-and-set.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]models.RefreshToken
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]models.RefreshToken)}
}

func (r *MemoryRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token.ID]; ok {
		return common.ErrorAlreadyExists
	}
	t := *token
	t.Revoked = false
	r.tokens[t.ID] = t
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.RefreshToken
	for _, t := range r.tokens {
		if userID != "" && t.UserID != userID {
			continue
		}
		if !t.Active(now) {
			continue
		}
		t := t
		result = append(result, &t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) RevokeActive(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[id]
	if !ok || !t.Active(now) {
		return false, nil
	}
	t.Revoked = true
	r.tokens[id] = t
	return true, nil
}

func (r *MemoryRepository) RevokeByID(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[id]
	if !ok || t.Revoked {
		return 0, nil
	}
	t.Revoked = true
	r.tokens[id] = t
	return 1, nil
}

func (r *MemoryRepository) RevokeByUser(ctx context.Context, userID string) (int64, error) {
	return int64(len(r.revokeUser(userID))), nil
}

func (r *MemoryRepository) revokeUser(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, t := range r.tokens {
		if t.UserID != userID || t.Revoked {
			continue
		}
		t.Revoked = true
		r.tokens[id] = t
		ids = append(ids, id)
	}
	return ids
}

func (r *MemoryRepository) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, id)
}

func (r *MemoryRepository) unrevoke(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if t, ok := r.tokens[id]; ok {
			t.Revoked = false
			r.tokens[id] = t
		}
	}
}

// InTx returns a view of r whose writes are undone when tx rolls back.
func (r *MemoryRepository) InTx(tx *dbx.MemoryTx) Repository {
	return &memoryTxRepository{MemoryRepository: r, tx: tx}
}

type memoryTxRepository struct {
	*MemoryRepository
	tx *dbx.MemoryTx
}

func (r *memoryTxRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if err := r.MemoryRepository.Create(ctx, token); err != nil {
		return err
	}
	id := token.ID
	r.tx.OnRollback(func() { r.remove(id) })
	return nil
}

func (r *memoryTxRepository) RevokeActive(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := r.MemoryRepository.RevokeActive(ctx, id, now)
	if ok {
		r.tx.OnRollback(func() { r.unrevoke(id) })
	}
	return ok, err
}

func (r *memoryTxRepository) RevokeByID(ctx context.Context, id string) (int64, error) {
	n, err := r.MemoryRepository.RevokeByID(ctx, id)
	if n > 0 {
		r.tx.OnRollback(func() { r.unrevoke(id) })
	}
	return n, err
}

func (r *memoryTxRepository) RevokeByUser(ctx context.Context, userID string) (int64, error) {
	ids := r.revokeUser(userID)
	if len(ids) > 0 {
		r.tx.OnRollback(func() { r.unrevoke(ids...) })
	}
	return int64(len(ids)), nil
}
