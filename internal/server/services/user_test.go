package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/stockauth/internal/common"
	"github.com/dmitrijs2005/stockauth/internal/dbx"
	"github.com/dmitrijs2005/stockauth/internal/logging"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/stockauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/stockauth/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/stockauth/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryUsers(t *testing.T) (*UserService, *SessionService) {
	t.Helper()
	rm := repomanager.NewMemoryRepositoryManager()
	tx := dbx.NewMemoryTransactor()
	sessions := NewSessionService(tx, rm, testCodec(t), testHasher())
	return NewUserService(tx, rm, testHasher(), sessions, logging.Nop{}), sessions
}

func TestRegister_Success(t *testing.T) {
	s, sessions := newMemoryUsers(t)
	ctx := context.Background()

	res, err := s.Register(ctx, " Ada ", "Ada@Example.COM", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Ada", res.User.Name)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.NotEqual(t, "pw", res.User.PasswordHash)

	claims, err := sessions.VerifyAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.Subject)

	_, err = sessions.Rotate(ctx, res.Tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestRegister_Duplicate(t *testing.T) {
	s, _ := newMemoryUsers(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "Ada", "ada@example.com", "pw")
	require.NoError(t, err)

	_, err = s.Register(ctx, "Other", "ADA@example.com", "pw2")
	assert.True(t, errors.Is(err, common.ErrorAlreadyExists), "got %v", err)
}

func TestRegister_Validation(t *testing.T) {
	s, _ := newMemoryUsers(t)
	long := make([]byte, MaxPasswordLen+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name, userName, email, password string
	}{
		{"missing name", "", "a@b.c", "pw"},
		{"missing email", "Ada", "  ", "pw"},
		{"missing password", "Ada", "a@b.c", ""},
		{"bad email", "Ada", "not-an-email", "pw"},
		{"password too long", "Ada", "a@b.c", string(long)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), tt.userName, tt.email, tt.password)
			assert.True(t, errors.Is(err, common.ErrorValidation), "got %v", err)
		})
	}
}

func TestLogin(t *testing.T) {
	s, _ := newMemoryUsers(t)
	ctx := context.Background()

	reg, err := s.Register(ctx, "Ada", "ada@example.com", "secret")
	require.NoError(t, err)

	res, err := s.Login(ctx, "ADA@example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.NotEqual(t, reg.Tokens.RefreshToken, res.Tokens.RefreshToken)

	_, err = s.Login(ctx, "ada@example.com", "wrong")
	assert.True(t, errors.Is(err, common.ErrorUnauthorized), "wrong password: got %v", err)

	_, err = s.Login(ctx, "nobody@example.com", "secret")
	assert.True(t, errors.Is(err, common.ErrorUnauthorized), "unknown user: got %v", err)

	_, err = s.Login(ctx, "", "secret")
	assert.True(t, errors.Is(err, common.ErrorValidation), "empty email: got %v", err)
}

func TestGet(t *testing.T) {
	s, _ := newMemoryUsers(t)
	ctx := context.Background()

	reg, err := s.Register(ctx, "Ada", "ada@example.com", "secret")
	require.NoError(t, err)

	u, err := s.Get(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, common.ErrorNotFound), "got %v", err)
}

// --- fakes for store failures ---

type fakeUsersRepo struct {
	err error
}

func (f *fakeUsersRepo) Create(context.Context, *models.User) (*models.User, error) {
	return nil, f.err
}
func (f *fakeUsersRepo) GetByEmail(context.Context, string) (*models.User, error) {
	return nil, f.err
}
func (f *fakeUsersRepo) GetByID(context.Context, string) (*models.User, error) {
	return nil, f.err
}

type fakeRepoManager struct {
	u usersrepo.Repository
	r refreshtokensrepo.Repository
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error           { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.r }

func TestUserService_StoreFailures(t *testing.T) {
	rm := &fakeRepoManager{
		u: &fakeUsersRepo{err: errors.New("connection reset")},
		r: refreshtokensrepo.NewMemoryRepository(),
	}
	tx := dbx.NewMemoryTransactor()
	sessions := NewSessionService(tx, rm, testCodec(t), testHasher())
	s := NewUserService(tx, rm, testHasher(), sessions, nil)
	ctx := context.Background()

	_, err := s.Register(ctx, "Ada", "ada@example.com", "pw")
	assert.True(t, errors.Is(err, common.ErrStoreUnavailable), "register: got %v", err)

	_, err = s.Login(ctx, "ada@example.com", "pw")
	assert.True(t, errors.Is(err, common.ErrStoreUnavailable), "login: got %v", err)
	assert.False(t, errors.Is(err, common.ErrorUnauthorized))
}

func TestRegister_SQLIssuesSession(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	tx := dbx.NewSQLTransactor(db)
	rm := repomanager.NewPostgresRepositoryManager()
	sessions := NewSessionService(tx, rm, testCodec(t), testHasher())
	s := NewUserService(tx, rm, testHasher(), sessions, logging.Nop{})

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users\b`).
		WithArgs(sqlmock.AnyArg(), "Ada", "ada@example.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("id-1", "Ada", "ada@example.com", "h", time.Now()))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+refresh_tokens\b`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := s.Register(context.Background(), "Ada", "ada@example.com", "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	require.NoError(t, mock.ExpectationsWereMet())
}
