package repository

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"usersvc/internal/auth"
	"usersvc/internal/docstore"
	apperrors "usersvc/internal/errors"
	"usersvc/internal/model"
)

func newTestCollection(t *testing.T) docstore.Collection {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return docstore.NewBadgerCollection(db, "users")
}

func newTestRepository(t *testing.T) (UserRepository, docstore.Collection) {
	t.Helper()
	coll := newTestCollection(t)
	repo, err := NewUserRepository(context.Background(), coll, zap.NewNop())
	require.NoError(t, err)
	return repo, coll
}

func mustCreate(t *testing.T, repo UserRepository, username, password string, admin bool) string {
	t.Helper()
	id, err := repo.Create(context.Background(), &model.User{Username: username, Password: password, Admin: admin})
	require.NoError(t, err)
	return id
}

func TestUserRepository_CreateAndRead(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	id := mustCreate(t, repo, "alice", "secret", false)
	assert.NotEmpty(t, id)

	users, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, id, users[0].ID)
	assert.Equal(t, "alice", users[0].Username)
	assert.False(t, users[0].Admin)
	assert.True(t, auth.IsHash(users[0].Password), "password stored hashed")
	assert.NotEqual(t, "secret", users[0].Password)

	byID, err := repo.ReadByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, users[0], *byID)

	byName, err := repo.ReadByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
}

func TestUserRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	mustCreate(t, repo, "alice", "secret", false)

	_, err := repo.Create(ctx, &model.User{Username: "alice", Password: "other"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	users, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	u, err := repo.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err, "original credentials survive")
	assert.Equal(t, "alice", u.Username)
}

func TestUserRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	_, err := repo.ReadByID(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.ReadByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	users, err := repo.Read(ctx, model.ByUsername("ghost"))
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestUserRepository_Authenticate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	id := mustCreate(t, repo, "alice", "secret", true)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "correct", username: "alice", password: "secret"},
		{name: "wrong password", username: "alice", password: "wrong", wantErr: apperrors.ErrAuthentication},
		{name: "unknown user", username: "bob", password: "secret", wantErr: apperrors.ErrAuthentication},
		{name: "hash is not a password", username: "alice", password: "", wantErr: apperrors.ErrAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := repo.Authenticate(ctx, tt.username, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, u)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, u.ID)
			assert.True(t, u.Admin)
		})
	}

	stored, err := repo.ReadByID(ctx, id)
	require.NoError(t, err)
	_, err = repo.Authenticate(ctx, "alice", stored.Password)
	assert.ErrorIs(t, err, apperrors.ErrAuthentication, "the stored hash does not authenticate")
}

func TestUserRepository_AuthenticateLegacyPlaintext(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	coll := newTestCollection(t)
	repo, err := NewUserRepository(ctx, coll, zap.New(core))
	require.NoError(t, err)

	id, err := coll.Create(ctx, docstore.Document{"username": "old", "password": "plain", "admin": false})
	require.NoError(t, err)

	u, err := repo.Authenticate(ctx, "old", "plain")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, 1, logs.FilterMessage("authenticated against a plaintext password record").Len())

	_, err = repo.Authenticate(ctx, "old", "wrong")
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
}

func TestUserRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	id := mustCreate(t, repo, "alice", "secret", false)

	n, err := repo.Update(ctx, id, model.UserUpdate{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	newPassword := "changed"
	n, err = repo.Update(ctx, id, model.UserUpdate{Password: &newPassword})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Authenticate(ctx, "alice", "secret")
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
	u, err := repo.Authenticate(ctx, "alice", "changed")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, auth.IsHash(u.Password))

	n, err = repo.Update(ctx, "missing", model.UserUpdate{Password: &newPassword})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUserRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	aliceID := mustCreate(t, repo, "alice", "secret", false)
	mustCreate(t, repo, "bob", "secret", false)

	n, err := repo.Delete(ctx, model.ByUsername("bob"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = repo.ReadByUsername(ctx, "bob")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	n, err = repo.Delete(ctx, model.ByUsername("bob"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = repo.DeleteByID(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteByID(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	mustCreate(t, repo, "alice", "again", false)
}

func TestUserRepository_DeleteAllExcept(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	mustCreate(t, repo, "admin", "admin", true)
	mustCreate(t, repo, "alice", "secret", false)
	mustCreate(t, repo, "bob", "secret", false)

	n, err := repo.DeleteAllExcept(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	users, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Username)
	assert.True(t, users[0].Admin)
}

func TestUserRepository_MalformedDocument(t *testing.T) {
	ctx := context.Background()
	repo, coll := newTestRepository(t)

	_, err := coll.Create(ctx, docstore.Document{"username": 42, "admin": "yes"})
	require.NoError(t, err)

	_, err = repo.ReadAll(ctx)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"username: must be a string",
		"password: field required",
		"admin: must be a boolean",
	}, verr.Problems)
	assert.True(t, verr.Stored)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.ErrorIs(t, err, apperrors.ErrCorruptDocument)
}
