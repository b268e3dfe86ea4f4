package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCollectionSuite checks the behaviour every backend must share.
func runCollectionSuite(t *testing.T, newCollection func(t *testing.T) Collection) {
	ctx := context.Background()

	t.Run("create assigns id and renames identity", func(t *testing.T) {
		c := newCollection(t)
		doc := Document{"username": "alice", "password": "h", "id": "client-id", "admin": false}
		id, err := c.Create(ctx, doc)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.NotEqual(t, "client-id", id)
		assert.Equal(t, id, doc.ID())

		got, err := c.ReadByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got["id"])
		assert.Equal(t, "alice", got["username"])
		assert.Equal(t, false, got["admin"])
		_, hasStorageKey := got["_id"]
		assert.False(t, hasStorageKey)
	})

	t.Run("read by id missing", func(t *testing.T) {
		c := newCollection(t)
		_, err := c.ReadByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("read filters conjunctively and keeps creation order", func(t *testing.T) {
		c := newCollection(t)
		for i, name := range []string{"a", "b", "c"} {
			_, err := c.Create(ctx, Document{"username": name, "admin": i%2 == 0})
			require.NoError(t, err)
		}

		all, err := c.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []any{"a", "b", "c"}, []any{all[0]["username"], all[1]["username"], all[2]["username"]})

		admins, err := c.Read(ctx, NewFilter().Eq("admin", true))
		require.NoError(t, err)
		assert.Len(t, admins, 2)

		one, err := c.Read(ctx, NewFilter().Eq("admin", true).Eq("username", "c"))
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, "c", one[0]["username"])

		none, err := c.Read(ctx, NewFilter().Eq("admin", false).Eq("username", "c"))
		require.NoError(t, err)
		assert.Empty(t, none)

		byID, err := c.Read(ctx, NewFilter().Eq(IDField, all[1].ID()))
		require.NoError(t, err)
		require.Len(t, byID, 1)
		assert.Equal(t, "b", byID[0]["username"])

		var absent *string
		optional := OptionalEq(NewFilter(), "username", absent)
		everything, err := c.Read(ctx, optional)
		require.NoError(t, err)
		assert.Len(t, everything, 3)
	})

	t.Run("unique index rejects duplicates", func(t *testing.T) {
		c := newCollection(t)
		require.NoError(t, c.EnsureUniqueIndex(ctx, "username"))

		_, err := c.Create(ctx, Document{"username": "alice", "password": "one"})
		require.NoError(t, err)
		_, err = c.Create(ctx, Document{"username": "alice", "password": "two"})
		assert.ErrorIs(t, err, ErrDuplicateKey)

		docs, err := c.Read(ctx, NewFilter().Eq("username", "alice"))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "one", docs[0]["password"])
	})

	t.Run("unique index takes long escaped values", func(t *testing.T) {
		c := newCollection(t)
		require.NoError(t, c.EnsureUniqueIndex(ctx, "username"))

		long := strings.Repeat("<", 255)
		_, err := c.Create(ctx, Document{"username": long})
		require.NoError(t, err)
		_, err = c.Create(ctx, Document{"username": long})
		assert.ErrorIs(t, err, ErrDuplicateKey)
		_, err = c.Create(ctx, Document{"username": long[:254]})
		assert.NoError(t, err)
	})

	t.Run("unique index is backfilled", func(t *testing.T) {
		c := newCollection(t)
		_, err := c.Create(ctx, Document{"username": "early"})
		require.NoError(t, err)
		require.NoError(t, c.EnsureUniqueIndex(ctx, "username"))
		require.NoError(t, c.EnsureUniqueIndex(ctx, "username"))

		_, err = c.Create(ctx, Document{"username": "early"})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("deleted username can be reused", func(t *testing.T) {
		c := newCollection(t)
		require.NoError(t, c.EnsureUniqueIndex(ctx, "username"))
		id, err := c.Create(ctx, Document{"username": "bob"})
		require.NoError(t, err)

		n, err := c.DeleteByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = c.Create(ctx, Document{"username": "bob"})
		assert.NoError(t, err)
	})

	t.Run("update merges", func(t *testing.T) {
		c := newCollection(t)
		require.NoError(t, c.EnsureUniqueIndex(ctx, "username"))
		id, err := c.Create(ctx, Document{"username": "carol", "password": "old", "admin": false})
		require.NoError(t, err)

		n, err := c.Update(ctx, id, Document{"password": "new", "id": "ignored"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := c.ReadByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "new", got["password"])
		assert.Equal(t, "carol", got["username"])
		assert.Equal(t, false, got["admin"])
		assert.Equal(t, id, got.ID())

		n, err = c.Update(ctx, id, Document{"password": "new"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "unchanged document is not modified")

		n, err = c.Update(ctx, "missing", Document{"password": "x"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("update re-indexes unique fields", func(t *testing.T) {
		c := newCollection(t)
		require.NoError(t, c.EnsureUniqueIndex(ctx, "username"))
		id, err := c.Create(ctx, Document{"username": "dave"})
		require.NoError(t, err)
		_, err = c.Create(ctx, Document{"username": "erin"})
		require.NoError(t, err)

		_, err = c.Update(ctx, id, Document{"username": "erin"})
		assert.ErrorIs(t, err, ErrDuplicateKey)

		n, err := c.Update(ctx, id, Document{"username": "dan"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = c.Create(ctx, Document{"username": "dave"})
		assert.NoError(t, err, "old value released")
		_, err = c.Create(ctx, Document{"username": "dan"})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("delete by filter and delete all", func(t *testing.T) {
		c := newCollection(t)
		for _, name := range []string{"x", "y", "z"} {
			_, err := c.Create(ctx, Document{"username": name, "group": "g1"})
			require.NoError(t, err)
		}
		_, err := c.Create(ctx, Document{"username": "w", "group": "g2"})
		require.NoError(t, err)

		n, err := c.Delete(ctx, NewFilter().Eq("group", "g1"))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = c.DeleteByID(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = c.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		all, err := c.ReadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("authenticate raw", func(t *testing.T) {
		c := newCollection(t)
		id, err := c.Create(ctx, Document{"username": "legacy", "password": "plain"})
		require.NoError(t, err)

		doc, err := c.AuthenticateRaw(ctx, "legacy", "plain")
		require.NoError(t, err)
		assert.Equal(t, id, doc.ID())

		_, err = c.AuthenticateRaw(ctx, "legacy", "wrong")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent duplicate creates", func(t *testing.T) {
		c := newCollection(t)
		require.NoError(t, c.EnsureUniqueIndex(ctx, "username"))

		const workers = 8
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = c.Create(ctx, Document{"username": "racer", "n": fmt.Sprint(i)})
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrDuplicateKey):
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)

		docs, err := c.Read(ctx, NewFilter().Eq("username", "racer"))
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})
}
