package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"usersvc/internal/cache"
	apperrors "usersvc/internal/errors"
	"usersvc/internal/logger"
	"usersvc/internal/metrics"
	"usersvc/internal/model"
	"usersvc/internal/repository"
)

// ReservedUsername names the bulk target of DeleteUser and can never be
// created.
const ReservedUsername = "all"

const defaultCacheTTL = 5 * time.Minute

// UserService exposes domain operations.
type UserService interface {
	CreateUser(ctx context.Context, user *model.User) (string, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, username string, update model.UserUpdate) (int64, error)
	UpdateUserByID(ctx context.Context, id string, update model.UserUpdate) (int64, error)
	DeleteUser(ctx context.Context, username string) (int64, error)
	DeleteUserByID(ctx context.Context, id string) (int64, error)
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
	EnsureAdmin(ctx context.Context, username, password string) (string, error)
}

// Options tune a UserService. Zero values are replaced by defaults.
type Options struct {
	// AdminUsername survives DeleteUser(ReservedUsername).
	AdminUsername string
	CacheTTL      time.Duration
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

type userService struct {
	repo     repository.UserRepository
	cache    cache.Cache
	admin    string
	cacheTTL time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics

	// cacheMu orders cache fills against invalidations. gen grows on every
	// invalidation; a fill started under an older gen is dropped.
	cacheMu sync.Mutex
	gen     uint64
}

// NewUserService builds a UserService with repository and cache. A nil cache
// disables caching. Every process writing to the store must share c and
// invalidate through it, so a process-local memory cache is only correct
// when this service is the single writer.
func NewUserService(repo repository.UserRepository, c cache.Cache, opts Options) UserService {
	if c == nil {
		c = cache.Nop{}
	}
	if opts.AdminUsername == "" {
		opts.AdminUsername = "admin"
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &userService{
		repo:     repo,
		cache:    c,
		admin:    opts.AdminUsername,
		cacheTTL: opts.CacheTTL,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
}

func (s *userService) cacheKey(id string) string {
	return "user:" + id
}

func (s *userService) invalidate(ctx context.Context, ids ...string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	for _, id := range ids {
		_ = s.cache.Delete(ctx, s.cacheKey(id))
	}
}

func (s *userService) generation() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.gen
}

// fill caches user unless an invalidation ran since gen was taken.
func (s *userService) fill(ctx context.Context, gen uint64, user *model.User) {
	payload, err := msgpack.Marshal(user)
	if err != nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.gen != gen {
		return
	}
	_ = s.cache.Set(ctx, s.cacheKey(user.ID), payload, s.cacheTTL)
}

func (s *userService) record(op string, err error) {
	s.metrics.RecordUserOp(op, outcome(err))
}

func (s *userService) CreateUser(ctx context.Context, user *model.User) (id string, err error) {
	defer func() { s.record("create", err) }()

	if user.Username == ReservedUsername {
		return "", apperrors.ErrReservedUsername
	}
	if err := user.Validate(); err != nil {
		return "", err
	}
	id, err = s.repo.Create(ctx, user)
	if err != nil {
		return "", err
	}
	logger.From(ctx, s.log).Info("user created", zap.String("user_id", id), zap.String("username", user.Username))
	return id, nil
}

func (s *userService) GetUser(ctx context.Context, id string) (*model.User, error) {
	if data, _ := s.cache.Get(ctx, s.cacheKey(id)); data != nil {
		var cached model.User
		if err := msgpack.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		logger.From(ctx, s.log).Warn("dropping undecodable cache entry", zap.String("user_id", id))
	}

	gen := s.generation()
	user, err := s.repo.ReadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, gen, user)
	return user, nil
}

func (s *userService) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.repo.ReadByUsername(ctx, username)
}

func (s *userService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ReadAll(ctx)
}

func (s *userService) UpdateUser(ctx context.Context, username string, update model.UserUpdate) (int64, error) {
	user, err := s.repo.ReadByUsername(ctx, username)
	if err != nil {
		s.record("update", err)
		return 0, err
	}
	return s.update(ctx, user.ID, update)
}

func (s *userService) UpdateUserByID(ctx context.Context, id string, update model.UserUpdate) (int64, error) {
	if _, err := s.repo.ReadByID(ctx, id); err != nil {
		s.record("update", err)
		return 0, err
	}
	return s.update(ctx, id, update)
}

func (s *userService) update(ctx context.Context, id string, update model.UserUpdate) (n int64, err error) {
	defer func() { s.record("update", err) }()

	if err := model.Validate(update); err != nil {
		return 0, err
	}
	n, err = s.repo.Update(ctx, id, update)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, id)
	return n, nil
}

func (s *userService) DeleteUser(ctx context.Context, username string) (n int64, err error) {
	if username == ReservedUsername {
		return s.deleteAllExceptAdmin(ctx)
	}
	defer func() { s.record("delete", err) }()

	user, err := s.repo.ReadByUsername(ctx, username)
	if err != nil {
		return 0, err
	}
	n, err = s.repo.Delete(ctx, model.ByUsername(username))
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, user.ID)
	return n, nil
}

func (s *userService) deleteAllExceptAdmin(ctx context.Context) (n int64, err error) {
	defer func() { s.record("reset", err) }()

	users, err := s.repo.ReadAll(ctx)
	if err != nil {
		return 0, err
	}
	n, err = s.repo.DeleteAllExcept(ctx, s.admin)
	if err != nil {
		return 0, err
	}
	for _, u := range users {
		if u.Username != s.admin {
			s.invalidate(ctx, u.ID)
		}
	}
	logger.From(ctx, s.log).Info("users reset", zap.Int64("deleted", n), zap.String("kept", s.admin))
	return n, nil
}

func (s *userService) DeleteUserByID(ctx context.Context, id string) (n int64, err error) {
	defer func() { s.record("delete", err) }()

	n, err = s.repo.DeleteByID(ctx, id)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, id)
	if n == 0 {
		return 0, apperrors.ErrNotFound
	}
	return n, nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (user *model.User, err error) {
	defer func() { s.record("authenticate", err) }()
	return s.repo.Authenticate(ctx, username, password)
}

// EnsureAdmin replaces any user called username with a fresh admin account.
func (s *userService) EnsureAdmin(ctx context.Context, username, password string) (string, error) {
	admin, err := model.NewUser(username, password, true)
	if err != nil {
		return "", err
	}
	existing, err := s.repo.Read(ctx, model.ByUsername(username))
	if err != nil {
		return "", err
	}
	if _, err := s.repo.Delete(ctx, model.ByUsername(username)); err != nil {
		return "", err
	}
	for _, u := range existing {
		s.invalidate(ctx, u.ID)
	}
	id, err := s.repo.Create(ctx, admin)
	if err != nil {
		return "", err
	}
	s.log.Info("admin user bootstrapped", zap.String("user_id", id), zap.String("username", username))
	return id, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, apperrors.ErrCorruptDocument):
		return metrics.OutcomeError
	case errors.Is(err, apperrors.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, apperrors.ErrConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, apperrors.ErrReservedUsername), errors.Is(err, apperrors.ErrValidation):
		return metrics.OutcomeInvalid
	case errors.Is(err, apperrors.ErrAuthentication):
		return metrics.OutcomeDenied
	default:
		return metrics.OutcomeError
	}
}
