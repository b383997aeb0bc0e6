package metadata

import (
	"strings"
)

// Metadata is a multimap of call metadata. Keys are case-insensitive and stored lowercase.
type Metadata map[string][]string

func NewMetadata(m map[string]string) Metadata {
	md := make(Metadata, len(m))
	for k, val := range m {
		key := strings.ToLower(k)
		md[key] = append(md[key], val)
	}
	return md
}

// FromMultiMap copies a transport multimap, lowercasing every key.
func FromMultiMap(m map[string][]string) Metadata {
	md := make(Metadata, len(m))
	for k, vals := range m {
		md.Append(k, vals...)
	}
	return md
}

func (md Metadata) Copy() Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = copyOf(v)
	}
	return out
}

// Get obtains the values for a given key.
//
// k is converted to lowercase before searching in md.
func (md Metadata) Get(k string) []string {
	return md[strings.ToLower(k)]
}

// First returns the first value stored under k, or "" if there is none.
func (md Metadata) First(k string) string {
	if vals := md.Get(k); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Set sets the value of a given key with a slice of values.
//
// k is converted to lowercase before storing in md.
func (md Metadata) Set(k string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	md[strings.ToLower(k)] = vals
}

// Append adds the values to key k, not overwriting what was already stored at
// that key.
//
// k is converted to lowercase before storing in md.
func (md Metadata) Append(k string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	k = strings.ToLower(k)
	md[k] = append(md[k], vals...)
}

// Delete removes the values for a given key k which is converted to lowercase
// before removing it from md.
func (md Metadata) Delete(k string) {
	delete(md, strings.ToLower(k))
}

func copyOf(v []string) []string {
	vals := make([]string, len(v))
	copy(vals, v)
	return vals
}
