package store

import (
	"errors"
	"sort"
	"strings"

	"github.com/tidwall/buntdb"
)

// MemoryPath opens an in-process database.
const MemoryPath = ":memory:"

// BuntDriver is a Driver backed by buntdb.
type BuntDriver struct {
	db *buntdb.DB
}

var _ Driver = (*BuntDriver)(nil)

// NewBuntDriver opens path, or an in-memory database for MemoryPath.
func NewBuntDriver(path string) (*BuntDriver, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntDriver{db: db}, nil
}

func (bd *BuntDriver) Close() error {
	return bd.db.Close()
}

func (bd *BuntDriver) Set(collection, key string, object any) error {
	b, err := json.Marshal(object)
	if err != nil {
		return err
	}
	return bd.SetString(collection, key, string(b))
}

func (bd *BuntDriver) Get(collection, key string, object any) error {
	s, err := bd.GetString(collection, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(s), object)
}

func (bd *BuntDriver) SetString(collection, key, data string) error {
	name := makePath(collection, key)
	return bd.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(name, data, nil)
		return err
	})
}

func (bd *BuntDriver) GetString(collection, key string) (string, error) {
	var value string
	name := makePath(collection, key)
	err := bd.db.View(func(tx *buntdb.Tx) error {
		var err error
		value, err = tx.Get(name)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return "", notFound(collection, key)
	}
	return value, err
}

func (bd *BuntDriver) Delete(collection, key string) error {
	name := makePath(collection, key)
	err := bd.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(name)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return notFound(collection, key)
	}
	return err
}

func (bd *BuntDriver) DeleteCollection(collection string) error {
	keys, err := bd.List(collection, "")
	if err != nil || len(keys) == 0 {
		return err
	}
	return bd.db.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			if _, err := tx.Delete(makePath(collection, k)); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

func pattern(collection, p string) string {
	if !strings.ContainsAny(p, "*?") {
		p += "*"
	}
	return makePath(collection, p)
}

func (bd *BuntDriver) List(collection, p string) ([]string, error) {
	keys := make([]string, 0)
	err := bd.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(pattern(collection, p), func(k, _ string) bool {
			if _, key := ParsePath(k); key != "" {
				keys = append(keys, key)
			}
			return true
		})
	})
	sort.Strings(keys)
	return keys, err
}

func (bd *BuntDriver) GetAll(collection, p string) (map[string]string, error) {
	values := make(map[string]string)
	err := bd.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(pattern(collection, p), func(k, v string) bool {
			if _, key := ParsePath(k); key != "" {
				values[key] = v
			}
			return true
		})
	})
	return values, err
}
