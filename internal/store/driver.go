// Package store keeps the control plane's records: data objects, stores,
// hosts, clusters, VMs and the free-form detail maps attached to volumes
// and snapshots.
//
// Records live in a key-value Driver. A collection is a key prefix; keys
// inside a collection sort lexically, so numeric IDs are zero padded.
package store

import (
	"errors"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/jvs-project/motion/pkg/errclass"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CollectionSep separates a collection name from a key.
const CollectionSep = "##"

// Driver is a minimal key-value database.
type Driver interface {
	// Close syncs data to disk.
	Close() error
	// Set marshals object as JSON under collection/key.
	Set(collection, key string, object any) error
	// Get unmarshals the JSON stored under collection/key into object.
	Get(collection, key string, object any) error
	SetString(collection, key, data string) error
	GetString(collection, key string) (string, error)
	Delete(collection, key string) error
	// DeleteCollection removes every key of collection.
	DeleteCollection(collection string) error
	// List returns the keys of collection matching pattern. A pattern
	// without '*' or '?' is a prefix.
	List(collection, pattern string) ([]string, error)
	// GetAll returns key to value for the keys List would return.
	GetAll(collection, pattern string) (map[string]string, error)
}

// ParsePath splits a full key into collection and key.
func ParsePath(path string) (string, string) {
	pos := strings.Index(path, CollectionSep)
	if pos < 0 {
		return path, ""
	}
	return path[:pos], path[pos+len(CollectionSep):]
}

func makePath(collection, key string) string {
	return collection + CollectionSep + key
}

func notFound(collection, key string) error {
	return errclass.ErrNotFound.WithMessagef("%s %q not found", collection, key)
}

// IsNotFound reports whether err means a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, errclass.ErrNotFound)
}
