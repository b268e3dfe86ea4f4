package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// documentRow keeps one document of one collection as a JSON body.
type documentRow struct {
	Collection string         `gorm:"primaryKey;size:64"`
	ID         string         `gorm:"primaryKey;size:36"`
	Body       datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (documentRow) TableName() string { return "documents" }

// uniqueKeyRow is one entry of a unique index. The composite primary key is
// what rejects a second document with the same field value.
type uniqueKeyRow struct {
	Collection string `gorm:"primaryKey;size:64"`
	Field      string `gorm:"primaryKey;size:64"`
	Value      string `gorm:"primaryKey;size:64"`
	DocumentID string `gorm:"size:36;not null;index"`
}

func (uniqueKeyRow) TableName() string { return "document_unique_keys" }

// GormCollection implements Collection on top of a relational database.
// The *gorm.DB must be opened with TranslateError enabled so unique
// violations surface as gorm.ErrDuplicatedKey.
type GormCollection struct {
	db   *gorm.DB
	name string

	mu     sync.RWMutex
	unique []string
}

var _ Collection = (*GormCollection)(nil)

// NewGormCollection creates the backing tables if needed and returns the
// collection called name.
func NewGormCollection(db *gorm.DB, name string) (*GormCollection, error) {
	if err := db.AutoMigrate(&documentRow{}, &uniqueKeyRow{}); err != nil {
		return nil, storeErr("migrate", name, err)
	}
	return &GormCollection{db: db, name: name}, nil
}

func (c *GormCollection) uniqueFields() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.unique...)
}

// EnsureUniqueIndex registers field as unique and indexes documents that
// already exist. Documents colliding before the index existed keep the
// first entry.
func (c *GormCollection) EnsureUniqueIndex(ctx context.Context, field string) error {
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
	rows := make([]uniqueKeyRow, 0, len(docs))
	for _, doc := range docs {
		v, ok := doc[field]
		if !ok || v == nil {
			continue
		}
		value, err := uniqueValue(v)
		if err != nil {
			return storeErr("index", c.name, err)
		}
		rows = append(rows, uniqueKeyRow{Collection: c.name, Field: field, Value: value, DocumentID: doc.ID()})
	}
	if len(rows) == 0 {
		return nil
	}
	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	return storeErr("index", c.name, err)
}

func (c *GormCollection) keyRows(id string, doc Document) ([]uniqueKeyRow, error) {
	var rows []uniqueKeyRow
	for _, field := range c.uniqueFields() {
		v, ok := doc[field]
		if !ok || v == nil {
			continue
		}
		value, err := uniqueValue(v)
		if err != nil {
			return nil, err
		}
		rows = append(rows, uniqueKeyRow{Collection: c.name, Field: field, Value: value, DocumentID: id})
	}
	return rows, nil
}

// Create implements Collection.
func (c *GormCollection) Create(ctx context.Context, doc Document) (string, error) {
	id, err := newID()
	if err != nil {
		return "", storeErr("create", c.name, err)
	}
	b := body(doc)
	raw, err := json.Marshal(b)
	if err != nil {
		return "", storeErr("create", c.name, err)
	}
	keys, err := c.keyRows(id, b)
	if err != nil {
		return "", storeErr("create", c.name, err)
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&documentRow{Collection: c.name, ID: id, Body: datatypes.JSON(raw)}).Error; err != nil {
			return err
		}
		if len(keys) > 0 {
			return tx.Create(&keys).Error
		}
		return nil
	})
	if err != nil {
		return "", storeErr("create", c.name, translateGormError(err))
	}
	if doc != nil {
		doc[IDField] = id
	}
	return id, nil
}

// ReadByID implements Collection.
func (c *GormCollection) ReadByID(ctx context.Context, id string) (Document, error) {
	var row documentRow
	err := c.db.WithContext(ctx).Where("collection = ? AND id = ?", c.name, id).Take(&row).Error
	if err != nil {
		return nil, storeErr("read", c.name, translateGormError(err))
	}
	doc, err := withID(row.ID, row.Body)
	return doc, storeErr("read", c.name, err)
}

// Read implements Collection. Conditions are pushed down as JSON queries and
// checked again on the decoded document so every dialect agrees on equality.
func (c *GormCollection) Read(ctx context.Context, filter *Filter) ([]Document, error) {
	id, hasID, rest := filter.idCondition()
	q := c.db.WithContext(ctx).Where("collection = ?", c.name)
	if hasID {
		q = q.Where("id = ?", id)
	}
	for _, cond := range rest {
		q = q.Where(datatypes.JSONQuery("body").Equals(cond.value, cond.field))
	}

	var rows []documentRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, storeErr("read", c.name, err)
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := withID(row.ID, row.Body)
		if err != nil {
			return nil, storeErr("read", c.name, err)
		}
		if filter.Match(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// ReadAll implements Collection.
func (c *GormCollection) ReadAll(ctx context.Context) ([]Document, error) {
	return c.Read(ctx, nil)
}

// Update implements Collection.
func (c *GormCollection) Update(ctx context.Context, id string, updates Document) (int64, error) {
	var modified int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentRow
		if err := tx.Where("collection = ? AND id = ?", c.name, id).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		current, err := withID(row.ID, row.Body)
		if err != nil {
			return err
		}
		old := body(current)
		next, changed, err := merge(old, updates)
		if err != nil || !changed {
			return err
		}
		if err := c.reindex(tx, id, old, next); err != nil {
			return err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		res := tx.Model(&documentRow{}).
			Where("collection = ? AND id = ?", c.name, id).
			Update("body", datatypes.JSON(raw))
		if res.Error != nil {
			return res.Error
		}
		modified = 1
		return nil
	})
	if err != nil {
		return 0, storeErr("update", c.name, translateGormError(err))
	}
	return modified, nil
}

func (c *GormCollection) reindex(tx *gorm.DB, id string, old, next Document) error {
	for _, field := range c.uniqueFields() {
		ov, hadOld := old[field]
		nv, hasNew := next[field]
		if hadOld == hasNew && jsonEqual(ov, nv) {
			continue
		}
		if hadOld && ov != nil {
			value, err := uniqueValue(ov)
			if err != nil {
				return err
			}
			if err := tx.Where("collection = ? AND field = ? AND value = ? AND document_id = ?", c.name, field, value, id).
				Delete(&uniqueKeyRow{}).Error; err != nil {
				return err
			}
		}
		if hasNew && nv != nil {
			value, err := uniqueValue(nv)
			if err != nil {
				return err
			}
			if err := tx.Create(&uniqueKeyRow{Collection: c.name, Field: field, Value: value, DocumentID: id}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteByID implements Collection.
func (c *GormCollection) DeleteByID(ctx context.Context, id string) (int64, error) {
	return c.deleteIDs(ctx, "delete", []string{id})
}

// Delete implements Collection.
func (c *GormCollection) Delete(ctx context.Context, filter *Filter) (int64, error) {
	docs, err := c.Read(ctx, filter)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID())
	}
	return c.deleteIDs(ctx, "delete", ids)
}

// DeleteAll implements Collection.
func (c *GormCollection) DeleteAll(ctx context.Context) (int64, error) {
	var deleted int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", c.name).Delete(&uniqueKeyRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("collection = ?", c.name).Delete(&documentRow{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, storeErr("delete", c.name, err)
	}
	return deleted, nil
}

func (c *GormCollection) deleteIDs(ctx context.Context, op string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ? AND document_id IN ?", c.name, ids).Delete(&uniqueKeyRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("collection = ? AND id IN ?", c.name, ids).Delete(&documentRow{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, storeErr(op, c.name, err)
	}
	return deleted, nil
}

// AuthenticateRaw implements Collection.
func (c *GormCollection) AuthenticateRaw(ctx context.Context, username, password string) (Document, error) {
	return authenticateRaw(ctx, c, username, password)
}

func translateGormError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateKey
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	default:
		return err
	}
}
