package cache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// Key joins the logical components of a cache key. Components are joined
// with ':' so prefix invalidation can target any leading subset, e.g.
// Key("playlist", owner, id) invalidates everything under a playlist.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Descriptor canonicalizes a parameterized read for key generation. Two calls
// with identical logical parameters must produce the identical key, so params
// are hashed in sorted order.
type Descriptor struct {
	Operation string
	User      string
	Params    map[string]string
}

// Key returns operation:user:hash where the hash covers the sorted parameter
// set (FNV-1a, hex encoded).
func (d Descriptor) Key() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(d.Operation))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(d.User))
	_, _ = h.Write([]byte("|"))

	if len(d.Params) > 0 {
		names := make([]string, 0, len(d.Params))
		for name := range d.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = h.Write([]byte(name))
			_, _ = h.Write([]byte("="))
			_, _ = h.Write([]byte(d.Params[name]))
			_, _ = h.Write([]byte("|"))
		}
	}

	return Key(d.Operation, d.User, fmt.Sprintf("%016x", h.Sum64()))
}
