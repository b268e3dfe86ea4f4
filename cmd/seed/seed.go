package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	apperrors "usersvc/internal/errors"
	"usersvc/internal/model"
	"usersvc/internal/service"
)

// SeedUser is one entry of a seed file.
type SeedUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Admin    bool   `yaml:"admin"`
}

// seedResult counts what a seed run did.
type seedResult struct {
	Created int
	Skipped int
}

// loadSeedUsers reads source, a local path or an http(s) URL. JSON input is
// accepted because it is valid YAML.
func loadSeedUsers(ctx context.Context, source string) ([]SeedUser, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = fetch(ctx, source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("read seed source: %w", err)
	}
	return parseSeedUsers(data)
}

func parseSeedUsers(data []byte) ([]SeedUser, error) {
	var users []SeedUser
	if err := yaml.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse seed users: %w", err)
	}
	return users, nil
}

func fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status code %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// seedUsers creates every user, skipping taken usernames and invalid
// entries. Any other failure aborts the run.
func seedUsers(ctx context.Context, svc service.UserService, users []SeedUser, log *zap.Logger) (seedResult, error) {
	var res seedResult
	for _, su := range users {
		u := &model.User{Username: su.Username, Password: su.Password, Admin: su.Admin}
		_, err := svc.CreateUser(ctx, u)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, apperrors.ErrConflict):
			log.Info("user exists, skipping", zap.String("username", su.Username))
			res.Skipped++
		case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrReservedUsername):
			log.Warn("invalid seed user, skipping", zap.String("username", su.Username), zap.Error(err))
			res.Skipped++
		default:
			return res, fmt.Errorf("create user %q: %w", su.Username, err)
		}
	}
	return res, nil
}
