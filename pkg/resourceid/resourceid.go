// Package resourceid parses, formats and validates hierarchical resource
// paths of the form "collection/elem/collection/elem/...".
package resourceid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidResource is returned when a path does not match the schema.
var ErrInvalidResource = errors.New("invalid resource id")

// Schema is a nested tree of collection names. A nil value marks a leaf
// collection with no child collections.
type Schema map[string]Schema

// Resources is the schema for every resource the service persists.
// online_evaluations and offline_evaluations are collections, uniformly in
// on-disk paths and RPCs.
var Resources = Schema{
	"projects": {
		"brains": {
			"sessions": {
				"episodes": {
					"chunks": nil,
				},
				"assignments":         nil,
				"models":              nil,
				"online_evaluations":  nil,
				"offline_evaluations": nil,
			},
			"snapshots": nil,
		},
	},
}

// ID is a parsed resource path. The zero value is not a valid ID; use Parse,
// FromParts or FromMap. Equality and hashing are on the canonical string.
type ID struct {
	str         string
	parts       []string
	collections map[string]string
}

// Parse validates a path-style resource id string against the schema.
func Parse(schema Schema, s string) (ID, error) {
	return FromParts(schema, strings.Split(s, "/"))
}

// FromParts validates an alternating collection/element component list.
func FromParts(schema Schema, parts []string) (ID, error) {
	if len(parts) == 0 || len(parts)%2 != 0 {
		return ID{}, fmt.Errorf("%w: expected an even number of components, got %d",
			ErrInvalidResource, len(parts))
	}
	collections := make(map[string]string, len(parts)/2)
	node := schema
	for i := 0; i < len(parts); i += 2 {
		collection, elem := parts[i], parts[i+1]
		if collection == "" || elem == "" {
			return ID{}, fmt.Errorf("%w: components and ids may not be empty", ErrInvalidResource)
		}
		if strings.Contains(elem, "/") {
			return ID{}, fmt.Errorf("%w: element %q contains '/'", ErrInvalidResource, elem)
		}
		child, ok := node[collection]
		if !ok {
			return ID{}, fmt.Errorf("%w: not a valid collection: %s", ErrInvalidResource, collection)
		}
		collections[collection] = elem
		node = child
	}
	id := ID{
		str:         strings.Join(parts, "/"),
		parts:       append([]string(nil), parts...),
		collections: collections,
	}
	return id, nil
}

// FromMap builds an ID from collection-to-element assignments, ordering the
// components by a walk of the schema from the root.
func FromMap(schema Schema, assignments map[string]string) (ID, error) {
	remaining := make(map[string]string, len(assignments))
	for k, v := range assignments {
		remaining[k] = v
	}
	var parts []string
	node := schema
	for len(remaining) > 0 && node != nil {
		matched := false
		for collection, child := range node {
			elem, ok := remaining[collection]
			if !ok {
				continue
			}
			parts = append(parts, collection, elem)
			delete(remaining, collection)
			node = child
			matched = true
			break
		}
		if !matched {
			break
		}
	}
	if len(remaining) > 0 {
		keys := make([]string, 0, len(remaining))
		for k := range remaining {
			keys = append(keys, k)
		}
		return ID{}, fmt.Errorf("%w: could not match collections to schema: %s",
			ErrInvalidResource, strings.Join(keys, ", "))
	}
	return FromParts(schema, parts)
}

// String returns the canonical path representation.
func (id ID) String() string { return id.str }

// Parts returns the alternating collection/element components.
func (id ID) Parts() []string { return append([]string(nil), id.parts...) }

// Collections returns the collection-to-element map.
func (id ID) Collections() map[string]string {
	m := make(map[string]string, len(id.collections))
	for k, v := range id.collections {
		m[k] = v
	}
	return m
}

// Element returns the element id for a collection, or "" when absent.
func (id ID) Element(collection string) string { return id.collections[collection] }

// Equal reports whether two IDs name the same resource.
func (id ID) Equal(other ID) bool { return id.str == other.str }

// Accessor aliases for the service schema.

func (id ID) Project() string    { return id.collections["projects"] }
func (id ID) Brain() string      { return id.collections["brains"] }
func (id ID) Session() string    { return id.collections["sessions"] }
func (id ID) Episode() string    { return id.collections["episodes"] }
func (id ID) Chunk() string      { return id.collections["chunks"] }
func (id ID) Assignment() string { return id.collections["assignments"] }
func (id ID) Model() string      { return id.collections["models"] }
func (id ID) Snapshot() string   { return id.collections["snapshots"] }

// ChunkIndex returns the chunk element as its integer id.
func (id ID) ChunkIndex() (int, error) {
	n, err := strconv.Atoi(id.collections["chunks"])
	if err != nil {
		return 0, fmt.Errorf("%w: chunk id %q is not an integer",
			ErrInvalidResource, id.collections["chunks"])
	}
	return n, nil
}

// MustParse is Parse for statically known ids; it panics on error.
func MustParse(schema Schema, s string) ID {
	id, err := Parse(schema, s)
	if err != nil {
		panic(err)
	}
	return id
}
