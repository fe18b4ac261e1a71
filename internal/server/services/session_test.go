package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/stockauth/internal/common"
	"github.com/dmitrijs2005/stockauth/internal/cryptox"
	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/dmitrijs2005/stockauth/internal/server/auth"
	"github.com/dmitrijs2005/stockauth/internal/server/metrics"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

const testUserID = "u1"

func testHasher() cryptox.Hasher { return cryptox.NewBcryptHasher(4) }

func testCodec(t *testing.T) *auth.Codec {
	t.Helper()
	c, err := auth.NewCodec([]byte("k"), 15*time.Minute)
	require.NoError(t, err)
	return c
}

func seedUser(t *testing.T, rm repomanager.RepositoryManager, id, email string) {
	t.Helper()
	_, err := rm.Users(nil).Create(context.Background(), &models.User{
		ID: id, Name: "Ada", Email: email, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func newMemorySessions(t *testing.T, opts ...SessionOption) (*SessionService, *repomanager.MemoryRepositoryManager) {
	t.Helper()
	rm := repomanager.NewMemoryRepositoryManager()
	seedUser(t, rm, testUserID, "ada@example.com")
	return NewSessionService(dbx.NewMemoryTransactor(), rm, testCodec(t), testHasher(), opts...), rm
}

// --- memory-backed behaviour ---

func TestIssuePair_AccessTokenCarriesUser(t *testing.T) {
	s, rm := newMemorySessions(t)
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	assert.Len(t, pair.RefreshToken, 43)

	claims, err := s.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testUserID, claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "Ada", claims.Name)

	active, err := rm.RefreshTokens(nil).ListActive(ctx, testUserID, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotEqual(t, pair.RefreshToken, active[0].TokenHash)
	assert.True(t, testHasher().Matches(active[0].TokenHash, []byte(pair.RefreshToken)))
}

func TestIssuePair_UnknownUser(t *testing.T) {
	s, _ := newMemorySessions(t)

	_, err := s.IssuePair(context.Background(), "ghost")
	assert.True(t, errors.Is(err, common.ErrorNotFound), "got %v", err)
}

func TestRotate_ReplacesToken(t *testing.T) {
	s, rm := newMemorySessions(t)
	ctx := context.Background()

	first, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)

	second, err := s.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	claims, err := s.VerifyAccess(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testUserID, claims.Subject)

	_, err = s.Rotate(ctx, first.RefreshToken)
	assert.True(t, errors.Is(err, common.ErrInvalidRefreshToken), "reused token: got %v", err)

	third, err := s.Rotate(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, third.RefreshToken)

	active, err := rm.RefreshTokens(nil).ListActive(ctx, testUserID, time.Now())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// failingCreateManager makes the first Create inside a transaction fail.
type failingCreateManager struct {
	*repomanager.MemoryRepositoryManager
	failed atomic.Bool
}

func (m *failingCreateManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	repo := m.MemoryRepositoryManager.RefreshTokens(db)
	if _, ok := db.(*dbx.MemoryTx); ok {
		return &failingCreateRepo{Repository: repo, m: m}
	}
	return repo
}

type failingCreateRepo struct {
	refreshtokens.Repository
	m *failingCreateManager
}

func (r *failingCreateRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	if r.m.failed.CompareAndSwap(false, true) {
		return errors.New("insert failed")
	}
	return r.Repository.Create(ctx, token)
}

func TestRotate_Memory_InsertFailureRestoresOldRecord(t *testing.T) {
	rm := &failingCreateManager{MemoryRepositoryManager: repomanager.NewMemoryRepositoryManager()}
	seedUser(t, rm, testUserID, "ada@example.com")
	s := NewSessionService(dbx.NewMemoryTransactor(), rm, testCodec(t), testHasher())
	ctx := context.Background()

	first, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)

	_, err = s.Rotate(ctx, first.RefreshToken)
	require.True(t, errors.Is(err, common.ErrStoreUnavailable), "got %v", err)

	active, err := rm.RefreshTokens(nil).ListActive(ctx, testUserID, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1, "old record must stay active after a failed rotation")

	second, err := s.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
}

func TestRotate_ConcurrentSameTokenSingleWinner(t *testing.T) {
	s, _ := newMemorySessions(t)
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		invalid int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.Rotate(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, common.ErrInvalidRefreshToken):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, invalid)
}

func TestRotate_ExpiredRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s, _ := newMemorySessions(t, WithSessionClock(clock), WithRefreshTTLDays(7))
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)

	now = now.Add(7*24*time.Hour + time.Second)

	_, err = s.Rotate(ctx, pair.RefreshToken)
	assert.True(t, errors.Is(err, common.ErrInvalidRefreshToken), "got %v", err)
}

func TestRotate_AfterRevokeUser(t *testing.T) {
	s, _ := newMemorySessions(t)
	ctx := context.Background()

	a, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)
	b, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)

	n, err := s.RevokeUser(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.RevokeUser(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		_, err = s.Rotate(ctx, tok)
		assert.True(t, errors.Is(err, common.ErrInvalidRefreshToken), "got %v", err)
	}
}

func TestRotate_RejectsGarbage(t *testing.T) {
	s, _ := newMemorySessions(t)
	ctx := context.Background()

	for _, tok := range []string{"", "never-issued", string(make([]byte, 1024))} {
		_, err := s.Rotate(ctx, tok)
		assert.True(t, errors.Is(err, common.ErrInvalidRefreshToken), "got %v", err)
	}
}

func TestRotateForUser_ScopesCandidates(t *testing.T) {
	s, rm := newMemorySessions(t)
	seedUser(t, rm, "u2", "bob@example.com")
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)

	_, err = s.RotateForUser(ctx, "u2", pair.RefreshToken)
	assert.True(t, errors.Is(err, common.ErrInvalidRefreshToken), "got %v", err)

	_, err = s.RotateForUser(ctx, "", pair.RefreshToken)
	assert.True(t, errors.Is(err, common.ErrInvalidRefreshToken), "got %v", err)

	_, err = s.RotateForUser(ctx, testUserID, pair.RefreshToken)
	require.NoError(t, err)
}

func TestLogout(t *testing.T) {
	s, _ := newMemorySessions(t)
	ctx := context.Background()

	keep, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)
	drop, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx, drop.RefreshToken, testUserID))
	require.NoError(t, s.Logout(ctx, drop.RefreshToken, testUserID))
	require.NoError(t, s.Logout(ctx, "unknown", ""))

	_, err = s.Rotate(ctx, drop.RefreshToken)
	assert.True(t, errors.Is(err, common.ErrInvalidRefreshToken), "got %v", err)

	_, err = s.Rotate(ctx, keep.RefreshToken)
	assert.NoError(t, err)
}

func TestRevokeRecord_Idempotent(t *testing.T) {
	s, rm := newMemorySessions(t)
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)
	active, err := rm.RefreshTokens(nil).ListActive(ctx, testUserID, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, s.RevokeRecord(ctx, active[0].ID))
	require.NoError(t, s.RevokeRecord(ctx, active[0].ID))
	require.NoError(t, s.RevokeRecord(ctx, "missing"))

	_, err = s.Rotate(ctx, pair.RefreshToken)
	assert.True(t, errors.Is(err, common.ErrInvalidRefreshToken), "got %v", err)
}

func TestSessionService_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	s, _ := newMemorySessions(t, WithSessionMetrics(m))
	ctx := context.Background()

	pair, err := s.IssuePair(ctx, testUserID)
	require.NoError(t, err)
	_, err = s.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, _ = s.Rotate(ctx, pair.RefreshToken)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["stockauth_token_pairs_issued_total"])
	assert.True(t, names["stockauth_refresh_rotations_total"])
	assert.True(t, names["stockauth_refresh_scan_candidates"])
}

// --- postgres-backed transaction handling ---

const (
	qListActive   = `(?s)FROM\s+refresh_tokens\s+WHERE\s+revoked\s*=\s*FALSE\s+AND\s+expires_at\s*>\s*\$1`
	qUserByID     = `(?s)FROM\s+users\s+WHERE\s+id\s*=\s*\$1`
	qRevokeActive = `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE\s+WHERE\s+id\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s+AND\s+expires_at`
	qInsertToken  = `(?s)^INSERT\s+INTO\s+refresh_tokens\b`
)

var (
	tokenColumns = []string{"id", "user_id", "token_hash", "created_at", "expires_at", "revoked"}
	userColumns  = []string{"id", "name", "email", "password_hash", "created_at"}
)

func newSQLSessions(t *testing.T) (*SessionService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	s := NewSessionService(dbx.NewSQLTransactor(db), repomanager.NewPostgresRepositoryManager(), testCodec(t), testHasher())
	return s, mock, db
}

func expectMatch(t *testing.T, mock sqlmock.Sqlmock, presented string) {
	t.Helper()
	hash, err := testHasher().Hash([]byte(presented))
	require.NoError(t, err)
	now := time.Now()
	mock.ExpectQuery(qListActive).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow("old", testUserID, hash, now.Add(-time.Hour), now.Add(time.Hour), false))
	mock.ExpectQuery(qUserByID).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(testUserID, "Ada", "ada@example.com", "x", now))
}

func TestRotate_SQL_CommitsRevokeAndInsert(t *testing.T) {
	s, mock, db := newSQLSessions(t)
	defer db.Close()

	expectMatch(t, mock, "presented")
	mock.ExpectBegin()
	mock.ExpectExec(qRevokeActive).
		WithArgs("old", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qInsertToken).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	pair, err := s.Rotate(context.Background(), "presented")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.RefreshToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate_SQL_LostRaceRollsBack(t *testing.T) {
	s, mock, db := newSQLSessions(t)
	defer db.Close()

	expectMatch(t, mock, "presented")
	mock.ExpectBegin()
	mock.ExpectExec(qRevokeActive).
		WithArgs("old", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.Rotate(context.Background(), "presented")
	assert.True(t, errors.Is(err, common.ErrInvalidRefreshToken), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate_SQL_InsertFailureRollsBack(t *testing.T) {
	s, mock, db := newSQLSessions(t)
	defer db.Close()

	expectMatch(t, mock, "presented")
	mock.ExpectBegin()
	mock.ExpectExec(qRevokeActive).
		WithArgs("old", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qInsertToken).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.Rotate(context.Background(), "presented")
	assert.True(t, errors.Is(err, common.ErrStoreUnavailable), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotate_SQL_ScanFailureIsStoreUnavailable(t *testing.T) {
	s, mock, db := newSQLSessions(t)
	defer db.Close()

	mock.ExpectQuery(qListActive).
		WillReturnError(errors.New("connection refused"))

	_, err := s.Rotate(context.Background(), "presented")
	assert.True(t, errors.Is(err, common.ErrStoreUnavailable), "got %v", err)
	assert.False(t, errors.Is(err, common.ErrInvalidRefreshToken))
	require.NoError(t, mock.ExpectationsWereMet())
}
