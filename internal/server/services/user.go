package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/common"
	"github.com/dmitrijs2005/stockauth/internal/cryptox"
	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/dmitrijs2005/stockauth/internal/logging"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// MaxPasswordLen is the bcrypt input limit, applied to every algorithm so
// switching hashers never locks anyone out.
const MaxPasswordLen = 72

// AuthResult is returned by registration and login.
type AuthResult struct {
	User   *models.User
	Tokens *TokenPair
}

// UserService handles registration and password login. Successful calls
// open a session through SessionService.
type UserService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	hasher      cryptox.Hasher
	sessions    *SessionService
	log         logging.Logger

	// compared against when the user does not exist, so both failure
	// paths cost one hash comparison
	dummyHash string
}

func NewUserService(tx dbx.Transactor, rm repomanager.RepositoryManager, hasher cryptox.Hasher, sessions *SessionService, log logging.Logger) *UserService {
	if log == nil {
		log = logging.Nop{}
	}
	dummy, _ := hasher.Hash(common.GenerateRandByteArray(16))
	return &UserService{
		tx:          tx,
		repomanager: rm,
		hasher:      hasher,
		sessions:    sessions,
		log:         log.With("module", "users"),
		dummyHash:   dummy,
	}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user and issues the first token pair. All fields are
// required; an email already in use yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: name, email, and password are required", common.ErrorValidation)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", common.ErrorValidation)
	}
	if len(password) > MaxPasswordLen {
		return nil, fmt.Errorf("%w: password too long", common.ErrorValidation)
	}

	hash, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %w", common.ErrorInternal, err)
	}

	u, err := s.repomanager.Users(s.tx.DB()).Create(ctx, &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, storeError(err)
	}
	s.log.Info(ctx, "user registered", "user_id", u.ID)

	pair, err := s.sessions.IssuePair(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Tokens: pair}, nil
}

// Login checks the password and issues a token pair. Unknown email and
// wrong password are both common.ErrorUnauthorized.
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", common.ErrorValidation)
	}

	u, err := s.repomanager.Users(s.tx.DB()).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Matches(s.dummyHash, []byte(password))
			return nil, common.ErrorUnauthorized
		}
		return nil, storeError(err)
	}
	if !s.hasher.Matches(u.PasswordHash, []byte(password)) {
		s.log.Info(ctx, "login failed", "user_id", u.ID)
		return nil, common.ErrorUnauthorized
	}

	pair, err := s.sessions.IssuePair(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Tokens: pair}, nil
}

// Get returns the user with the given id.
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.repomanager.Users(s.tx.DB()).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, storeError(err)
	}
	return u, nil
}
