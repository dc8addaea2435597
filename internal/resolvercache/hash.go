package resolvercache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Coordinate identifies a cacheable field by its parent type and field name.
type Coordinate struct {
	TypeName  string
	FieldName string
}

// String returns the coordinate as "Type.field".
func (c Coordinate) String() string {
	return c.TypeName + "." + c.FieldName
}

// ParseCoordinate parses "Type.field". It reports false unless both parts are
// non-empty.
func ParseCoordinate(s string) (Coordinate, bool) {
	typeName, fieldName, ok := strings.Cut(s, ".")
	if !ok || typeName == "" || fieldName == "" || strings.Contains(fieldName, ".") {
		return Coordinate{}, false
	}
	return Coordinate{TypeName: typeName, FieldName: fieldName}, true
}

// Key builds the cache key "Type.field.rootHash.argsHash".
func (c Coordinate) Key(rootHash, argsHash uint64) string {
	return c.String() + "." + strconv.FormatUint(rootHash, 10) + "." + strconv.FormatUint(argsHash, 10)
}

// Hasher hashes arbitrary values by their canonical string form.
//
// Hashes are 64-bit xxhash digests and are not collision free: two different
// values hashing alike share a cache entry.
type Hasher struct {
	ids *Identities
}

// NewHasher creates a hasher. A nil ids gets a private identity cache.
func NewHasher(ids *Identities) *Hasher {
	if ids == nil {
		ids = NewIdentities()
	}
	return &Hasher{ids: ids}
}

// Stringify returns the canonical string form of v.
func (h *Hasher) Stringify(v any) string {
	return Stringify(h.ids, v)
}

// Hash returns the hash of v's canonical string form.
func (h *Hasher) Hash(v any) uint64 {
	return xxhash.Sum64String(h.Stringify(v))
}

// Key returns the cache key for one invocation of the field at c.
func (h *Hasher) Key(c Coordinate, parent, args any) string {
	return c.Key(h.Hash(parent), h.Hash(args))
}
