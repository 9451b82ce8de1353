// Package urlencode percent-encodes raw byte sequences for tracker GET
// query parameters, generalizing the teacher's ad-hoc percentEncode helper
// (torrent/torrent.go) into a spec-exact unreserved-set implementation.
package urlencode

const hexDigits = "0123456789abcdef"

// unreserved reports whether b may appear literally, unescaped, in the
// output (spec §4.2): '-', '.', '_', '~', and alphanumerics.
func unreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	default:
		return false
	}
}

// Encode percent-encodes every byte in b outside the unreserved set as
// "%XX" with lowercase hex digits. The output is pure ASCII.
func Encode(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if unreserved(c) {
			out = append(out, c)
			continue
		}
		out = append(out, '%', hexDigits[c>>4], hexDigits[c&0x0f])
	}
	return string(out)
}
