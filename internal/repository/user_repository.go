package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"usersvc/internal/auth"
	"usersvc/internal/docstore"
	apperrors "usersvc/internal/errors"
	"usersvc/internal/model"
)

const (
	fieldUsername = "username"
	fieldPassword = "password"
	fieldAdmin    = "admin"
)

// UserRepository defines persistence operations.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) (string, error)
	ReadAll(ctx context.Context) ([]model.User, error)
	ReadByID(ctx context.Context, id string) (*model.User, error)
	ReadByUsername(ctx context.Context, username string) (*model.User, error)
	Read(ctx context.Context, query model.UserQuery) ([]model.User, error)
	Update(ctx context.Context, id string, update model.UserUpdate) (int64, error)
	Delete(ctx context.Context, query model.UserQuery) (int64, error)
	DeleteByID(ctx context.Context, id string) (int64, error)
	DeleteAllExcept(ctx context.Context, reservedUsername string) (int64, error)
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
}

type userRepository struct {
	coll docstore.Collection
	log  *zap.Logger
}

// NewUserRepository builds a repository over coll and makes sure usernames
// are unique in it.
func NewUserRepository(ctx context.Context, coll docstore.Collection, log *zap.Logger) (UserRepository, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := coll.EnsureUniqueIndex(ctx, fieldUsername); err != nil {
		return nil, apperrors.NewStorageError("ensure index", err)
	}
	return &userRepository{coll: coll, log: log.Named("users")}, nil
}

// Create hashes the password, stores the user and returns its id.
func (r *userRepository) Create(ctx context.Context, user *model.User) (string, error) {
	doc := docstore.Document{
		fieldUsername: user.Username,
		fieldAdmin:    user.Admin,
	}
	if user.Password != "" {
		hashed, err := auth.HashPassword(user.Password)
		if err != nil {
			return "", apperrors.NewValidationError(err.Error())
		}
		doc[fieldPassword] = hashed
	}

	id, err := r.coll.Create(ctx, doc)
	if err != nil {
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return "", apperrors.ErrConflict
		}
		return "", apperrors.NewStorageError("create user", err)
	}
	return id, nil
}

// ReadAll returns every stored user.
func (r *userRepository) ReadAll(ctx context.Context) ([]model.User, error) {
	docs, err := r.coll.ReadAll(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("read users", err)
	}
	return toUsers(docs)
}

// ReadByID returns the user with the given id or errors.ErrNotFound.
func (r *userRepository) ReadByID(ctx context.Context, id string) (*model.User, error) {
	doc, err := r.coll.ReadByID(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.NewStorageError("read user", err)
	}
	return toUser(doc)
}

// ReadByUsername returns the user called username or errors.ErrNotFound.
func (r *userRepository) ReadByUsername(ctx context.Context, username string) (*model.User, error) {
	users, err := r.Read(ctx, model.ByUsername(username))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &users[0], nil
}

// Read returns the users matching query.
func (r *userRepository) Read(ctx context.Context, query model.UserQuery) ([]model.User, error) {
	docs, err := r.coll.Read(ctx, toFilter(query))
	if err != nil {
		return nil, apperrors.NewStorageError("read users", err)
	}
	return toUsers(docs)
}

// Update applies the fields present in update and returns the number of
// users modified.
func (r *userRepository) Update(ctx context.Context, id string, update model.UserUpdate) (int64, error) {
	updates := docstore.Document{}
	if update.Password != nil {
		hashed, err := auth.HashPassword(*update.Password)
		if err != nil {
			return 0, apperrors.NewValidationError(err.Error())
		}
		updates[fieldPassword] = hashed
	}
	if len(updates) == 0 {
		return 0, nil
	}

	n, err := r.coll.Update(ctx, id, updates)
	if err != nil {
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return 0, apperrors.ErrConflict
		}
		return 0, apperrors.NewStorageError("update user", err)
	}
	return n, nil
}

// Delete removes every user matching query.
func (r *userRepository) Delete(ctx context.Context, query model.UserQuery) (int64, error) {
	n, err := r.coll.Delete(ctx, toFilter(query))
	if err != nil {
		return 0, apperrors.NewStorageError("delete users", err)
	}
	return n, nil
}

// DeleteByID removes one user.
func (r *userRepository) DeleteByID(ctx context.Context, id string) (int64, error) {
	n, err := r.coll.DeleteByID(ctx, id)
	if err != nil {
		return 0, apperrors.NewStorageError("delete user", err)
	}
	return n, nil
}

// DeleteAllExcept removes every user whose username differs from
// reservedUsername. It is meant for environment resets.
func (r *userRepository) DeleteAllExcept(ctx context.Context, reservedUsername string) (int64, error) {
	docs, err := r.coll.ReadAll(ctx)
	if err != nil {
		return 0, apperrors.NewStorageError("delete users", err)
	}
	var deleted int64
	for _, doc := range docs {
		if name, _ := doc[fieldUsername].(string); name == reservedUsername {
			continue
		}
		n, err := r.coll.DeleteByID(ctx, doc.ID())
		if err != nil {
			return deleted, apperrors.NewStorageError("delete users", err)
		}
		deleted += n
	}
	return deleted, nil
}

// Authenticate returns the user whose credentials match. Unknown users and
// wrong passwords both yield errors.ErrAuthentication.
func (r *userRepository) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	docs, err := r.coll.Read(ctx, docstore.NewFilter().Eq(fieldUsername, username))
	if err != nil {
		return nil, apperrors.NewStorageError("authenticate", err)
	}
	if len(docs) == 0 {
		return nil, apperrors.ErrAuthentication
	}
	doc := docs[0]

	stored, _ := doc[fieldPassword].(string)
	if stored == "" {
		return r.authenticateLegacyPlaintext(ctx, username, password)
	}
	ok, err := auth.VerifyPassword(stored, password)
	switch {
	case err == nil && ok:
		return toUser(doc)
	case errors.Is(err, auth.ErrMalformedHash):
		return r.authenticateLegacyPlaintext(ctx, username, password)
	default:
		return nil, apperrors.ErrAuthentication
	}
}

// authenticateLegacyPlaintext accepts records whose password was stored
// before hashing was introduced, by comparing the stored value verbatim.
// It is reached only when the stored value is missing or not a bcrypt hash.
//
// Security: plaintext records should be re-hashed; each hit is logged.
func (r *userRepository) authenticateLegacyPlaintext(ctx context.Context, username, password string) (*model.User, error) {
	doc, err := r.coll.AuthenticateRaw(ctx, username, password)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperrors.ErrAuthentication
		}
		return nil, apperrors.NewStorageError("authenticate", err)
	}
	r.log.Warn("authenticated against a plaintext password record",
		zap.String("user_id", doc.ID()),
		zap.String("username", username),
	)
	return toUser(doc)
}

func toFilter(q model.UserQuery) *docstore.Filter {
	f := docstore.NewFilter()
	docstore.OptionalEq(f, docstore.IDField, q.ID)
	docstore.OptionalEq(f, fieldUsername, q.Username)
	docstore.OptionalEq(f, fieldPassword, q.Password)
	return f
}

func toUsers(docs []docstore.Document) ([]model.User, error) {
	users := make([]model.User, 0, len(docs))
	for _, doc := range docs {
		u, err := toUser(doc)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

// toUser coerces a stored document into a User, reporting every missing or
// mistyped field.
func toUser(doc docstore.Document) (*model.User, error) {
	var problems []string
	u := &model.User{ID: doc.ID()}
	if u.ID == "" {
		problems = append(problems, "id: field required")
	}

	switch v := doc[fieldUsername].(type) {
	case string:
		if v == "" {
			problems = append(problems, "username: field required")
		}
		u.Username = v
	case nil:
		problems = append(problems, "username: field required")
	default:
		problems = append(problems, "username: must be a string")
	}

	switch v := doc[fieldPassword].(type) {
	case string:
		u.Password = v
	case nil:
		problems = append(problems, "password: field required")
	default:
		problems = append(problems, "password: must be a string")
	}

	switch v := doc[fieldAdmin].(type) {
	case bool:
		u.Admin = v
	case nil:
	default:
		problems = append(problems, "admin: must be a boolean")
	}

	if len(problems) > 0 {
		return nil, apperrors.NewStoredValidationError(problems...)
	}
	return u, nil
}
