// Package docstore stores schema-less documents in named collections.
//
// A Collection knows nothing about the shape of its documents. It assigns
// identifiers, enforces unique indexes on declared fields and answers
// exact-match conjunctive filters. Two backends are provided: a GORM backend
// keeping each document as a JSON column (sqlite, mysql, postgres) and an
// embedded Badger backend.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// IDField is the public identity attribute of every document returned by a
// Collection. The backends persist the identity outside the document body.
const IDField = "id"

var (
	// ErrNotFound is returned when no document matches.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Document is a single record of a collection.
type Document map[string]any

// ID returns the identity of a document read from a Collection.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Collection is the generic persistence primitive used by repositories.
type Collection interface {
	// EnsureUniqueIndex declares that no two documents may share a value for field.
	EnsureUniqueIndex(ctx context.Context, field string) error
	// Create assigns a fresh id to doc, persists it and returns the id.
	Create(ctx context.Context, doc Document) (string, error)
	// ReadByID returns the document with the given id or ErrNotFound.
	ReadByID(ctx context.Context, id string) (Document, error)
	// Read returns every document matching filter. A nil filter matches all.
	Read(ctx context.Context, filter *Filter) ([]Document, error)
	// ReadAll returns every document of the collection.
	ReadAll(ctx context.Context) ([]Document, error)
	// Update merges updates into the document with the given id and returns
	// the number of documents modified.
	Update(ctx context.Context, id string, updates Document) (int64, error)
	// DeleteByID deletes one document and returns the number deleted.
	DeleteByID(ctx context.Context, id string) (int64, error)
	// Delete deletes every document matching filter.
	Delete(ctx context.Context, filter *Filter) (int64, error)
	// DeleteAll empties the collection.
	DeleteAll(ctx context.Context) (int64, error)
	// AuthenticateRaw returns the first document whose username and password
	// fields equal the given values verbatim, or ErrNotFound.
	AuthenticateRaw(ctx context.Context, username, password string) (Document, error)
}

// Error is a failure of the underlying store.
type Error struct {
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("docstore %s %s: %v", e.Collection, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func storeErr(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &Error{Op: op, Collection: collection, Err: err}
}

func authenticateRaw(ctx context.Context, c Collection, username, password string) (Document, error) {
	docs, err := c.Read(ctx, NewFilter().Eq("username", username).Eq("password", password))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// newID returns a time ordered identifier so that documents sort by creation.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// body returns a copy of doc without its identity.
func body(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if k == IDField {
			continue
		}
		out[k] = v
	}
	return out
}

// withID decodes a stored body and attaches the public identity.
func withID(id string, raw []byte) (Document, error) {
	doc := Document{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
	}
	delete(doc, "_id")
	doc[IDField] = id
	return doc, nil
}

// merge applies updates onto current and reports whether anything changed.
func merge(current, updates Document) (Document, bool, error) {
	out := make(Document, len(current)+len(updates))
	for k, v := range current {
		out[k] = v
	}
	changed := false
	for k, v := range updates {
		if k == IDField {
			continue
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, false, err
		}
		old, ok := out[k]
		if !ok || !jsonEqual(old, nv) {
			changed = true
		}
		out[k] = nv
	}
	return out, changed, nil
}

// uniqueValue renders a field value as the key stored in a unique index: the
// hex SHA-256 of its JSON encoding, so every key is 64 characters long
// whatever the value.
func uniqueValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
