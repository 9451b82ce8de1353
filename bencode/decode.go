package bencode

import (
	"strconv"

	"github.com/pkg/errors"
)

// Decode consumes a single bencoded value from the front of data and
// returns it along with the unconsumed remainder.
func Decode(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return nil, nil, errors.Wrap(ErrFormat, "empty input")
	}
	switch {
	case data[0] == 'i':
		return decodeInteger(data)
	case data[0] == 'l':
		return decodeList(data)
	case data[0] == 'd':
		return decodeDict(data)
	case data[0] >= '0' && data[0] <= '9':
		return decodeString(data)
	default:
		return nil, nil, errors.Wrapf(ErrFormat, "unexpected leading byte %q", data[0])
	}
}

// decodeString parses "<len>:<bytes>". len is ASCII digits with no leading
// zero, except that "0" itself is the length of an empty string.
func decodeString(data []byte) (Value, []byte, error) {
	i := 0
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if i == 0 {
		return nil, nil, errors.Wrap(ErrFormat, "expected byte string length")
	}
	digits := data[:i]
	if len(digits) > 1 && digits[0] == '0' {
		return nil, nil, errors.Wrapf(ErrNumber, "leading zero in string length %q", digits)
	}
	if i >= len(data) || data[i] != ':' {
		return nil, nil, errors.Wrap(ErrFormat, "expected ':' after string length")
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil || n < 0 {
		return nil, nil, errors.Wrapf(ErrNumber, "invalid string length %q", digits)
	}
	rest := data[i+1:]
	if int64(len(rest)) < n {
		return nil, nil, errors.Wrapf(ErrLength, "want %d bytes, have %d", n, len(rest))
	}
	s := make([]byte, n)
	copy(s, rest[:n])
	return ByteString(s), rest[n:], nil
}

// decodeInteger parses "i<digits>e". Rejects "-0" and any leading zero other
// than the single digit "0".
func decodeInteger(data []byte) (Value, []byte, error) {
	if len(data) < 3 || data[0] != 'i' {
		return nil, nil, errors.Wrap(ErrFormat, "expected 'i'")
	}
	end := indexByte(data[1:], 'e')
	if end < 0 {
		return nil, nil, errors.Wrap(ErrFormat, "unterminated integer")
	}
	digits := data[1 : 1+end]
	if len(digits) == 0 {
		return nil, nil, errors.Wrap(ErrNumber, "empty integer")
	}
	neg := digits[0] == '-'
	unsigned := digits
	if neg {
		unsigned = digits[1:]
	}
	if len(unsigned) == 0 {
		return nil, nil, errors.Wrap(ErrNumber, "bare '-'")
	}
	if unsigned[0] == '0' && len(unsigned) > 1 {
		return nil, nil, errors.Wrapf(ErrNumber, "leading zero in integer %q", digits)
	}
	if neg && unsigned[0] == '0' {
		return nil, nil, errors.Wrapf(ErrNumber, "negative zero %q", digits)
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrNumber, "invalid integer %q", digits)
	}
	return Integer(n), data[1+end+1:], nil
}

// decodeList parses "l<values>e".
func decodeList(data []byte) (Value, []byte, error) {
	if len(data) < 2 || data[0] != 'l' {
		return nil, nil, errors.Wrap(ErrFormat, "expected 'l'")
	}
	rest := data[1:]
	list := List{}
	for {
		if len(rest) == 0 {
			return nil, nil, errors.Wrap(ErrFormat, "unterminated list")
		}
		if rest[0] == 'e' {
			return list, rest[1:], nil
		}
		v, next, err := Decode(rest)
		if err != nil {
			return nil, nil, err
		}
		list = append(list, v)
		rest = next
	}
}

// decodeDict parses "d(<key><value>)*e". Keys must be byte strings. The Dict
// records keys in input order, but Encode ignores that order and always
// sorts, so input with non-canonical key order does not round-trip bytewise.
func decodeDict(data []byte) (Value, []byte, error) {
	if len(data) < 2 || data[0] != 'd' {
		return nil, nil, errors.Wrap(ErrFormat, "expected 'd'")
	}
	rest := data[1:]
	dict := NewDict()
	for {
		if len(rest) == 0 {
			return nil, nil, errors.Wrap(ErrFormat, "unterminated dict")
		}
		if rest[0] == 'e' {
			return dict, rest[1:], nil
		}
		keyVal, next, err := decodeString(rest)
		if err != nil {
			return nil, nil, errors.Wrap(err, "dict key")
		}
		key := string(keyVal.(ByteString))
		v, next2, err := Decode(next)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "dict value for key %q", key)
		}
		dict.Set(key, v)
		rest = next2
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
