package bencode

import (
	"bytes"
	"strconv"
)

// Encode serializes v back into its bencoded form. Dict keys are always
// emitted in ascending byte-lexicographic order regardless of insertion
// order (spec §4.1, §9): this is what makes info_hash stable.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v Value) {
	switch val := v.(type) {
	case ByteString:
		buf.WriteString(strconv.Itoa(len(val)))
		buf.WriteByte(':')
		buf.Write(val)
	case Integer:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		buf.WriteByte('e')
	case List:
		buf.WriteByte('l')
		for _, item := range val {
			encodeInto(buf, item)
		}
		buf.WriteByte('e')
	case *Dict:
		buf.WriteByte('d')
		for _, key := range val.Keys() {
			encodeInto(buf, ByteString(key))
			v, _ := val.Get(key)
			encodeInto(buf, v)
		}
		buf.WriteByte('e')
	}
}

// (ByteString).Encode etc. satisfy the Value interface for convenience call
// sites that have a concrete type in hand.
func (s ByteString) Encode() []byte { return Encode(s) }
func (i Integer) Encode() []byte    { return Encode(i) }
func (l List) Encode() []byte       { return Encode(l) }
func (d *Dict) Encode() []byte      { return Encode(d) }
