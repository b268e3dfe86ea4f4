package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// maxConflictRetries bounds how often a write is replayed after losing an
// optimistic transaction race. The replay re-reads the unique index, so the
// loser of a duplicate-create race observes ErrDuplicateKey.
const maxConflictRetries = 8

// BadgerCollection implements Collection on an embedded Badger database.
//
// Key layout:
//
//	d/<collection>/<id>                  -> JSON body
//	u/<collection>/<field>/<json value>  -> id
type BadgerCollection struct {
	db   *badger.DB
	name string

	mu     sync.RWMutex
	unique []string
}

var _ Collection = (*BadgerCollection)(nil)

// NewBadgerCollection returns the collection called name stored in db.
func NewBadgerCollection(db *badger.DB, name string) *BadgerCollection {
	return &BadgerCollection{db: db, name: name}
}

func (c *BadgerCollection) docPrefix() []byte {
	return []byte("d/" + c.name + "/")
}

func (c *BadgerCollection) docKey(id string) []byte {
	return append(c.docPrefix(), id...)
}

func (c *BadgerCollection) uniqueKey(field, value string) []byte {
	return []byte("u/" + c.name + "/" + field + "/" + value)
}

func (c *BadgerCollection) uniqueFields() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.unique...)
}

// update runs fn in a read-write transaction, replaying it on conflicts.
func (c *BadgerCollection) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (c *BadgerCollection) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.View(fn)
}

// EnsureUniqueIndex implements Collection.
func (c *BadgerCollection) EnsureUniqueIndex(ctx context.Context, field string) error {
	c.mu.Lock()
	known := false
	for _, f := range c.unique {
		if f == field {
			known = true
			break
		}
	}
	if !known {
		c.unique = append(c.unique, field)
	}
	c.mu.Unlock()

	docs, err := c.Read(ctx, nil)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		v, ok := doc[field]
		if !ok || v == nil {
			continue
		}
		value, err := uniqueValue(v)
		if err != nil {
			return storeErr("index", c.name, err)
		}
		key := c.uniqueKey(field, value)
		id := doc.ID()
		err = c.update(ctx, func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return txn.Set(key, []byte(id))
		})
		if err != nil {
			return storeErr("index", c.name, err)
		}
	}
	return nil
}

// claim reserves the unique index entries of doc for id inside txn.
func (c *BadgerCollection) claim(txn *badger.Txn, id, field string, v any) error {
	value, err := uniqueValue(v)
	if err != nil {
		return err
	}
	key := c.uniqueKey(field, value)
	item, err := txn.Get(key)
	switch {
	case err == nil:
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(owner) != id {
			return ErrDuplicateKey
		}
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return txn.Set(key, []byte(id))
	default:
		return err
	}
}

func (c *BadgerCollection) release(txn *badger.Txn, field string, v any) error {
	value, err := uniqueValue(v)
	if err != nil {
		return err
	}
	return txn.Delete(c.uniqueKey(field, value))
}

// Create implements Collection.
func (c *BadgerCollection) Create(ctx context.Context, doc Document) (string, error) {
	id, err := newID()
	if err != nil {
		return "", storeErr("create", c.name, err)
	}
	b := body(doc)
	raw, err := json.Marshal(b)
	if err != nil {
		return "", storeErr("create", c.name, err)
	}
	fields := c.uniqueFields()

	err = c.update(ctx, func(txn *badger.Txn) error {
		for _, field := range fields {
			if v, ok := b[field]; ok && v != nil {
				if err := c.claim(txn, id, field, v); err != nil {
					return err
				}
			}
		}
		return txn.Set(c.docKey(id), raw)
	})
	if err != nil {
		return "", storeErr("create", c.name, err)
	}
	if doc != nil {
		doc[IDField] = id
	}
	return id, nil
}

func (c *BadgerCollection) get(txn *badger.Txn, id string) (Document, error) {
	item, err := txn.Get(c.docKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return withID(id, raw)
}

// ReadByID implements Collection.
func (c *BadgerCollection) ReadByID(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := c.view(ctx, func(txn *badger.Txn) error {
		var err error
		doc, err = c.get(txn, id)
		return err
	})
	if err != nil {
		return nil, storeErr("read", c.name, err)
	}
	return doc, nil
}

// Read implements Collection. Keys sort by id, which sorts by creation time.
func (c *BadgerCollection) Read(ctx context.Context, filter *Filter) ([]Document, error) {
	if id, hasID, _ := filter.idCondition(); hasID {
		doc, err := c.ReadByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return []Document{}, nil
		}
		if err != nil {
			return nil, err
		}
		if !filter.Match(doc) {
			return []Document{}, nil
		}
		return []Document{doc}, nil
	}

	docs := []Document{}
	prefix := c.docPrefix()
	err := c.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			doc, err := withID(id, raw)
			if err != nil {
				return err
			}
			if filter.Match(doc) {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("read", c.name, err)
	}
	return docs, nil
}

// ReadAll implements Collection.
func (c *BadgerCollection) ReadAll(ctx context.Context) ([]Document, error) {
	return c.Read(ctx, nil)
}

// Update implements Collection.
func (c *BadgerCollection) Update(ctx context.Context, id string, updates Document) (int64, error) {
	fields := c.uniqueFields()
	var modified int64
	err := c.update(ctx, func(txn *badger.Txn) error {
		modified = 0
		current, err := c.get(txn, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		old := body(current)
		next, changed, err := merge(old, updates)
		if err != nil || !changed {
			return err
		}
		for _, field := range fields {
			ov, hadOld := old[field]
			nv, hasNew := next[field]
			if hadOld == hasNew && jsonEqual(ov, nv) {
				continue
			}
			if hasNew && nv != nil {
				if err := c.claim(txn, id, field, nv); err != nil {
					return err
				}
			}
			if hadOld && ov != nil {
				if err := c.release(txn, field, ov); err != nil {
					return err
				}
			}
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := txn.Set(c.docKey(id), raw); err != nil {
			return err
		}
		modified = 1
		return nil
	})
	if err != nil {
		return 0, storeErr("update", c.name, err)
	}
	return modified, nil
}

// DeleteByID implements Collection.
func (c *BadgerCollection) DeleteByID(ctx context.Context, id string) (int64, error) {
	fields := c.uniqueFields()
	var deleted int64
	err := c.update(ctx, func(txn *badger.Txn) error {
		deleted = 0
		current, err := c.get(txn, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, field := range fields {
			if v, ok := current[field]; ok && v != nil {
				if err := c.release(txn, field, v); err != nil {
					return err
				}
			}
		}
		if err := txn.Delete(c.docKey(id)); err != nil {
			return err
		}
		deleted = 1
		return nil
	})
	if err != nil {
		return 0, storeErr("delete", c.name, err)
	}
	return deleted, nil
}

// Delete implements Collection. Each matching document is removed in its
// own transaction.
func (c *BadgerCollection) Delete(ctx context.Context, filter *Filter) (int64, error) {
	docs, err := c.Read(ctx, filter)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, doc := range docs {
		n, err := c.DeleteByID(ctx, doc.ID())
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

// DeleteAll implements Collection.
func (c *BadgerCollection) DeleteAll(ctx context.Context) (int64, error) {
	return c.Delete(ctx, nil)
}

// AuthenticateRaw implements Collection.
func (c *BadgerCollection) AuthenticateRaw(ctx context.Context, username, password string) (Document, error) {
	return authenticateRaw(ctx, c, username, password)
}

// BadgerLogger adapts a zap logger to badger's logging interface.
type BadgerLogger struct {
	l *zap.SugaredLogger
}

// NewBadgerLogger returns a badger.Logger writing to l.
func NewBadgerLogger(l *zap.Logger) *BadgerLogger {
	return &BadgerLogger{l: l.Named("badger").Sugar()}
}

func (b *BadgerLogger) Errorf(format string, args ...any)   { b.l.Errorf(format, args...) }
func (b *BadgerLogger) Warningf(format string, args ...any) { b.l.Warnf(format, args...) }
func (b *BadgerLogger) Infof(format string, args ...any)    { b.l.Infof(format, args...) }
func (b *BadgerLogger) Debugf(format string, args ...any)   { b.l.Debugf(format, args...) }
