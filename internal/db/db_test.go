package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"usersvc/internal/config"
	"usersvc/internal/docstore"
)

func TestOpenCollection(t *testing.T) {
	tests := []struct {
		driver string
		want   docstore.Collection
	}{
		{driver: config.DriverSQLite, want: &docstore.GormCollection{}},
		{driver: config.DriverBadger, want: &docstore.BadgerCollection{}},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := config.Default()
			cfg.StoreDriver = tt.driver
			cfg.StoreDataDir = filepath.Join(t.TempDir(), "data")

			coll, closeFn, err := OpenCollection(cfg, zap.NewNop())
			require.NoError(t, err)
			defer func() { assert.NoError(t, closeFn()) }()
			assert.IsType(t, tt.want, coll)

			ctx := context.Background()
			id, err := coll.Create(ctx, docstore.Document{"username": "alice"})
			require.NoError(t, err)
			doc, err := coll.ReadByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "alice", doc["username"])
		})
	}
}

func TestNewGorm_UnknownDriver(t *testing.T) {
	_, err := NewGorm("oracle", "", t.TempDir(), false)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestNewGorm_ConcurrentDuplicateCreates(t *testing.T) {
	gdb, err := NewGorm(config.DriverSQLite, "", t.TempDir(), false)
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	coll, err := docstore.NewGormCollection(gdb, "users")
	require.NoError(t, err)
	require.NoError(t, coll.EnsureUniqueIndex(ctx, "username"))

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coll.Create(ctx, docstore.Document{"username": "racer", "n": fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, docstore.ErrDuplicateKey):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, dup)

	docs, err := coll.Read(ctx, docstore.NewFilter().Eq("username", "racer"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
