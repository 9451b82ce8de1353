package bencode

import "github.com/pkg/errors"

// Sentinel error kinds per the bencode grammar (spec §4.1). Wrap these with
// errors.Wrap/Wrapf at the call site; callers match with errors.Is.
var (
	// ErrFormat indicates the input does not start with a recognizable
	// bencode value tag (string length digit, 'i', 'l', or 'd').
	ErrFormat = errors.New("bencode: malformed value")

	// ErrLength indicates a byte-string's declared length exceeds the
	// remaining input.
	ErrLength = errors.New("bencode: string longer than input remainder")

	// ErrNumber indicates a malformed integer: non-digit characters,
	// a leading zero (other than the literal "0"), or "-0".
	ErrNumber = errors.New("bencode: malformed integer")
)
