package p2p

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// protocolString is the canonical pstr (spec §4.4).
const protocolString = "BitTorrent protocol"

// HandshakeLen is the exact wire size of a handshake message.
const HandshakeLen = 1 + len(protocolString) + 8 + 20 + 20 // 68

// Handshake is the distinct, unframed 68-byte opening exchange.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a handshake for the given info hash and peer id.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{InfoHash: infoHash, PeerID: peerID}
}

// Serialize returns the 68-byte wire encoding:
// <pstrlen=19><pstr><8 reserved bytes=0><info_hash><peer_id>.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, HandshakeLen)
	cursor := 0
	buf[cursor] = byte(len(protocolString))
	cursor++
	cursor += copy(buf[cursor:], protocolString)
	cursor += 8 // reserved, left zero
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and validates a handshake from r. It rejects any
// pstrlen or pstr that doesn't match the canonical constants (spec §8
// scenario 4: a leading byte of 20 must be refused).
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrap(err, "p2p: read handshake pstrlen")
	}
	pstrlen := int(lenBuf[0])
	if pstrlen != len(protocolString) {
		return nil, errors.Wrapf(ErrHandshake, "unexpected pstrlen %d", pstrlen)
	}

	rest := make([]byte, pstrlen+8+20+20)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, errors.Wrap(err, "p2p: read handshake body")
	}

	pstr := rest[:pstrlen]
	if !bytes.Equal(pstr, []byte(protocolString)) {
		return nil, errors.Wrapf(ErrHandshake, "unexpected pstr %q", pstr)
	}

	cursor := pstrlen + 8
	var h Handshake
	copy(h.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], rest[cursor:cursor+20])

	return &h, nil
}
