// Package services contains server-side business logic. This file implements
// SessionService: issuing token pairs, rotating refresh tokens and revoking
// them.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/common"
	"github.com/dmitrijs2005/stockauth/internal/cryptox"
	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/dmitrijs2005/stockauth/internal/logging"
	"github.com/dmitrijs2005/stockauth/internal/server/auth"
	"github.com/dmitrijs2005/stockauth/internal/server/metrics"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	DefaultRefreshTTLDays    = 30
	DefaultRefreshTokenBytes = 32

	// Longer presentations cannot have been issued by us and are rejected
	// before touching the store.
	maxPresentedLen = 512
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionService issues and rotates token pairs. It keeps no per-request
// state; the only serialization point is the conditional revoke inside
// rotation, which is delegated to the store.
type SessionService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	codec       *auth.Codec
	hasher      cryptox.Hasher
	refreshTTL  time.Duration
	tokenBytes  int
	now         func() time.Time
	log         logging.Logger
	metrics     *metrics.Metrics
}

type SessionOption func(*SessionService)

// WithRefreshTTLDays sets refresh token lifetime. Non-positive values are ignored.
func WithRefreshTTLDays(days int) SessionOption {
	return func(s *SessionService) {
		if days > 0 {
			s.refreshTTL = time.Duration(days) * 24 * time.Hour
		}
	}
}

// WithRefreshTokenBytes sets the entropy of generated refresh secrets.
func WithRefreshTokenBytes(n int) SessionOption {
	return func(s *SessionService) {
		if n >= 16 {
			s.tokenBytes = n
		}
	}
}

func WithSessionLogger(l logging.Logger) SessionOption {
	return func(s *SessionService) { s.log = l.With("module", "sessions") }
}

func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(s *SessionService) { s.metrics = m }
}

// WithSessionClock replaces time.Now, for tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

// NewSessionService wires the service. tx and rm must agree: an
// SQLTransactor with the postgres manager, a MemoryTransactor with the memory one.
func NewSessionService(tx dbx.Transactor, rm repomanager.RepositoryManager, codec *auth.Codec, hasher cryptox.Hasher, opts ...SessionOption) *SessionService {
	s := &SessionService{
		tx:          tx,
		repomanager: rm,
		codec:       codec,
		hasher:      hasher,
		refreshTTL:  DefaultRefreshTTLDays * 24 * time.Hour,
		tokenBytes:  DefaultRefreshTokenBytes,
		now:         time.Now,
		log:         logging.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssuePair creates a new session for userID. The refresh plaintext is
// returned once and only its hash is stored.
func (s *SessionService) IssuePair(ctx context.Context, userID string) (*TokenPair, error) {
	id, err := s.identity(ctx, s.tx.DB(), userID)
	if err != nil {
		return nil, err
	}

	secret, rec, err := s.newRecord(userID)
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.RefreshTokens(s.tx.DB()).Create(ctx, rec); err != nil {
		return nil, storeError(err)
	}

	access, err := s.codec.Sign(id)
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %w", common.ErrorInternal, err)
	}

	s.metrics.PairIssued()
	s.log.Info(ctx, "session issued", "user_id", userID, "record_id", rec.ID)

	return &TokenPair{AccessToken: access, RefreshToken: secret}, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// revoked and can never be used again; of several concurrent calls with the
// same token at most one succeeds.
//
// Every refresh-side failure is common.ErrInvalidRefreshToken. Store
// failures are common.ErrStoreUnavailable.
func (s *SessionService) Rotate(ctx context.Context, presented string) (*TokenPair, error) {
	return s.rotate(ctx, "", presented)
}

// RotateForUser is Rotate with the candidate scan limited to userID's
// records, for callers that already know the owner.
func (s *SessionService) RotateForUser(ctx context.Context, userID, presented string) (*TokenPair, error) {
	if userID == "" {
		return nil, common.ErrInvalidRefreshToken
	}
	return s.rotate(ctx, userID, presented)
}

func (s *SessionService) rotate(ctx context.Context, userID, presented string) (*TokenPair, error) {
	if presented == "" || len(presented) > maxPresentedLen {
		s.metrics.Rotation(metrics.RotateInvalid)
		return nil, common.ErrInvalidRefreshToken
	}

	now := s.now()
	res, err := refreshtokens.Match(ctx, s.repomanager.RefreshTokens(s.tx.DB()), s.hasher, presented, userID, now)
	s.metrics.ScanSize(res.Scanned)
	if err != nil {
		s.metrics.Rotation(metrics.RotateError)
		return nil, storeError(err)
	}
	if !res.Found() {
		s.metrics.Rotation(metrics.RotateInvalid)
		s.log.Debug(ctx, "refresh token not matched", "candidates", res.Candidates)
		return nil, common.ErrInvalidRefreshToken
	}
	old := res.Token

	id, err := s.identity(ctx, s.tx.DB(), old.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.metrics.Rotation(metrics.RotateInvalid)
			return nil, common.ErrInvalidRefreshToken
		}
		s.metrics.Rotation(metrics.RotateError)
		return nil, err
	}

	// Hashing is slow on purpose; keep it out of the transaction.
	secret, rec, err := s.newRecord(old.UserID)
	if err != nil {
		s.metrics.Rotation(metrics.RotateError)
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.RefreshTokens(tx)
		ok, err := repo.RevokeActive(ctx, old.ID, now)
		if err != nil {
			return storeError(err)
		}
		if !ok {
			return common.ErrInvalidRefreshToken
		}
		if err := repo.Create(ctx, rec); err != nil {
			return storeError(err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidRefreshToken) {
			s.metrics.Rotation(metrics.RotateConflict)
			s.log.Warn(ctx, "refresh token already rotated", "user_id", old.UserID, "record_id", old.ID)
			return nil, err
		}
		s.metrics.Rotation(metrics.RotateError)
		return nil, storeError(err)
	}

	access, err := s.codec.Sign(id)
	if err != nil {
		s.metrics.Rotation(metrics.RotateError)
		return nil, fmt.Errorf("%w: sign access token: %w", common.ErrorInternal, err)
	}

	s.metrics.Rotation(metrics.RotateOK)
	s.metrics.PairIssued()
	s.log.Info(ctx, "refresh token rotated", "user_id", old.UserID, "old_record_id", old.ID, "record_id", rec.ID)

	return &TokenPair{AccessToken: access, RefreshToken: secret}, nil
}

// RevokeUser revokes every active record of userID and returns how many
// changed. Calling it again is a no-op.
func (s *SessionService) RevokeUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.tx.DB()).RevokeByUser(ctx, userID)
	if err != nil {
		return 0, storeError(err)
	}
	s.metrics.Revoked("user", n)
	s.log.Info(ctx, "user sessions revoked", "user_id", userID, "count", n)
	return n, nil
}

// RevokeRecord revokes one record by id. Unknown or already revoked
// records are not an error.
func (s *SessionService) RevokeRecord(ctx context.Context, recordID string) error {
	n, err := s.repomanager.RefreshTokens(s.tx.DB()).RevokeByID(ctx, recordID)
	if err != nil {
		return storeError(err)
	}
	s.metrics.Revoked("record", n)
	return nil
}

// Logout revokes the record matching a presented refresh token. A token
// that matches nothing (unknown, expired, already revoked) is a no-op.
// userID may be empty to scan all users.
func (s *SessionService) Logout(ctx context.Context, presented, userID string) error {
	if presented == "" || len(presented) > maxPresentedLen {
		return nil
	}

	repo := s.repomanager.RefreshTokens(s.tx.DB())
	res, err := refreshtokens.Match(ctx, repo, s.hasher, presented, userID, s.now())
	s.metrics.ScanSize(res.Scanned)
	if err != nil {
		return storeError(err)
	}
	if !res.Found() {
		return nil
	}

	n, err := repo.RevokeByID(ctx, res.Token.ID)
	if err != nil {
		return storeError(err)
	}
	s.metrics.Revoked("logout", n)
	s.log.Info(ctx, "session closed", "user_id", res.Token.UserID, "record_id", res.Token.ID)
	return nil
}

// VerifyAccess checks an access token. It does no I/O.
func (s *SessionService) VerifyAccess(token string) (*auth.Claims, error) {
	return s.codec.Verify(token)
}

func (s *SessionService) identity(ctx context.Context, db dbx.DBTX, userID string) (auth.Identity, error) {
	u, err := s.repomanager.Users(db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return auth.Identity{}, err
		}
		return auth.Identity{}, storeError(err)
	}
	return auth.Identity{UserID: u.ID, Email: u.Email, Name: u.Name}, nil
}

func (s *SessionService) newRecord(userID string) (string, *models.RefreshToken, error) {
	secret, err := common.MakeRandURLString(s.tokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("%w: generate refresh token: %w", common.ErrorInternal, err)
	}
	hash, err := s.hasher.Hash([]byte(secret))
	if err != nil {
		return "", nil, fmt.Errorf("%w: hash refresh token: %w", common.ErrorInternal, err)
	}

	now := s.now()
	return secret, &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}, nil
}

func storeError(err error) error {
	if errors.Is(err, common.ErrStoreUnavailable) || errors.Is(err, common.ErrInvalidRefreshToken) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
}
