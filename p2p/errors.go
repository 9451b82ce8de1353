package p2p

import "github.com/pkg/errors"

// Sentinel error kinds for the peer wire protocol decoder (spec §4.4).
var (
	// ErrByteAmount indicates a message's post-prefix byte count disagrees
	// with its declared length_prefix.
	ErrByteAmount = errors.New("p2p: byte count disagrees with length prefix")

	// ErrInvalidID indicates an unrecognized message id byte.
	ErrInvalidID = errors.New("p2p: unknown message id")

	// ErrHandshake indicates a handshake whose pstrlen or pstr does not
	// match the canonical BitTorrent protocol constants.
	ErrHandshake = errors.New("p2p: malformed handshake")
)
