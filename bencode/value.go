// Package bencode implements the bencoding format used by .torrent files
// and the HTTP tracker wire protocol: byte strings, signed integers, lists,
// and dictionaries with a canonical (byte-lexicographic) key ordering on
// encode, so that SHA-1 over a re-encoded dictionary is stable.
package bencode

import "sort"

// Kind tags the four bencoded value shapes.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindList
	KindDict
)

// Value is any decoded bencode value: ByteString, Integer, List, or Dict.
type Value interface {
	Kind() Kind
	Encode() []byte
}

// ByteString is a bencoded byte string. It is not necessarily valid UTF-8.
type ByteString []byte

func (ByteString) Kind() Kind { return KindString }

// Integer is a bencoded signed 64-bit integer.
type Integer int64

func (Integer) Kind() Kind { return KindInteger }

// List is an ordered sequence of bencoded values.
type List []Value

func (List) Kind() Kind { return KindList }

// Dict is a bencoded dictionary. Values live in a Go map keyed by the
// dictionary key, with a separate keys slice recording insertion order.
// That order never leaks into Encode: Encode always sorts keys
// byte-lexicographically before emitting them, which is what makes
// info_hash stable regardless of how the dictionary was built.
type Dict struct {
	keys   []string
	values map[string]Value
}

func (*Dict) Kind() Kind { return KindDict }

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]Value)}
}

// Set inserts or replaces the value for key.
func (d *Dict) Set(key string, v Value) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the dictionary's keys in ascending byte-lexicographic order,
// independent of insertion order.
func (d *Dict) Keys() []string {
	keys := make([]string, len(d.keys))
	copy(keys, d.keys)
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries in the dictionary.
func (d *Dict) Len() int {
	return len(d.keys)
}
