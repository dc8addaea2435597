package resolvercache

import (
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// Identities assigns opaque tokens to pointers whose targets have no
// serializable content, so distinct instances never share a cache key.
//
// A token is bound to the pointer itself. Entries are never evicted, which
// also keeps their targets reachable and their addresses from being reused.
type Identities struct {
	mu       sync.Mutex
	tokens   map[any]string
	newToken func() string
}

// NewIdentities creates an empty identity cache.
func NewIdentities() *Identities {
	return &Identities{
		tokens:   make(map[any]string),
		newToken: uuid.NewString,
	}
}

type rawIdentity struct {
	typ reflect.Type
	ptr uintptr
}

// Token returns the token for the pointer v, assigning one on first sight.
func (i *Identities) Token(v reflect.Value) string {
	var key any
	if v.CanInterface() {
		key = v.Interface()
	} else {
		key = rawIdentity{typ: v.Type(), ptr: v.Pointer()}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if token, ok := i.tokens[key]; ok {
		return token
	}
	token := i.newToken()
	i.tokens[key] = token
	return token
}

// Len returns the number of tracked identities.
func (i *Identities) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.tokens)
}
