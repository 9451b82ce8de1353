// Package p2p implements the BitTorrent peer wire protocol's bit-exact
// framing: the handshake and the twelve message kinds (spec §4.4). It
// generalizes the teacher's message package (message/message.go,
// peer/peer.go) from four handled message kinds to all ten keyed messages
// plus KeepAlive and the handshake.
package p2p

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MessageKind is the one-byte id that follows a message's length prefix.
// KeepAlive has no id; it is represented as a nil *Message.
type MessageKind uint8

const (
	MsgChoke         MessageKind = 0
	MsgUnchoke       MessageKind = 1
	MsgInterested    MessageKind = 2
	MsgNotInterested MessageKind = 3
	MsgHave          MessageKind = 4
	MsgBitfield      MessageKind = 5
	MsgRequest       MessageKind = 6
	MsgPiece         MessageKind = 7
	MsgCancel        MessageKind = 8
	MsgPort          MessageKind = 9
)

func (k MessageKind) String() string {
	switch k {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not_interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	case MsgPort:
		return "port"
	default:
		return "unknown"
	}
}

// BlockBytes is the default block size requested per spec §3.
const BlockBytes = 16384 // 2^14

// MaxBlockBytes is the inclusive hard cap a sender enforces on Request
// lengths and Piece payload sizes (spec §3).
const MaxBlockBytes = 131072 // 2^17

// Message is a single framed peer-wire message. A nil *Message denotes
// KeepAlive.
type Message struct {
	Kind    MessageKind
	Payload []byte
}

// Serialize returns the wire bytes for m: <length_prefix:4><id:1?><payload>.
// A nil receiver serializes to the 4-byte zero length prefix (KeepAlive).
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.Kind)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one framed message from r. It returns (nil, nil) for
// KeepAlive. Unknown ids surface ErrInvalidID.
func ReadMessage(r io.Reader) (*Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, errors.Wrap(err, "p2p: read length prefix")
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "p2p: read message body")
	}

	kind := MessageKind(body[0])
	payload := body[1:]

	if err := validatePayloadLength(kind, payload); err != nil {
		return nil, err
	}

	return &Message{Kind: kind, Payload: payload}, nil
}

// validatePayloadLength enforces the fixed payload sizes from the message
// table in spec §4.4 (Have, Request, Cancel, Port have exact sizes; Piece
// has a minimum; Bitfield and the zero-payload messages are unconstrained
// or exactly empty).
func validatePayloadLength(kind MessageKind, payload []byte) error {
	switch kind {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
		if len(payload) != 0 {
			return errors.Wrapf(ErrByteAmount, "%s expects empty payload, got %d bytes", kind, len(payload))
		}
	case MsgHave:
		if len(payload) != 4 {
			return errors.Wrapf(ErrByteAmount, "have expects 4 byte payload, got %d", len(payload))
		}
	case MsgBitfield:
		// length is the bitfield size; any length is valid.
	case MsgRequest, MsgCancel:
		if len(payload) != 12 {
			return errors.Wrapf(ErrByteAmount, "%s expects 12 byte payload, got %d", kind, len(payload))
		}
	case MsgPiece:
		if len(payload) < 8 {
			return errors.Wrapf(ErrByteAmount, "piece expects at least 8 byte payload, got %d", len(payload))
		}
	case MsgPort:
		if len(payload) != 2 {
			return errors.Wrapf(ErrByteAmount, "port expects 2 byte payload, got %d", len(payload))
		}
	default:
		return errors.Wrapf(ErrInvalidID, "id %d", kind)
	}
	return nil
}

// --- typed constructors, generalizing the teacher's formatHave/formatRequest pair ---

func NewChoke() *Message         { return &Message{Kind: MsgChoke} }
func NewUnchoke() *Message       { return &Message{Kind: MsgUnchoke} }
func NewInterested() *Message    { return &Message{Kind: MsgInterested} }
func NewNotInterested() *Message { return &Message{Kind: MsgNotInterested} }

func NewHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{Kind: MsgHave, Payload: payload}
}

func NewBitfield(bits []byte) *Message {
	payload := make([]byte, len(bits))
	copy(payload, bits)
	return &Message{Kind: MsgBitfield, Payload: payload}
}

func NewRequest(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{Kind: MsgRequest, Payload: payload}
}

func NewPiece(index, begin uint32, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return &Message{Kind: MsgPiece, Payload: payload}
}

func NewCancel(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{Kind: MsgCancel, Payload: payload}
}

func NewPort(port uint16) *Message {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, port)
	return &Message{Kind: MsgPort, Payload: payload}
}

// ParseHave returns the piece index carried by a Have message.
func ParseHave(m *Message) (uint32, error) {
	if m.Kind != MsgHave {
		return 0, errors.Errorf("p2p: expected have, got %s", m.Kind)
	}
	return binary.BigEndian.Uint32(m.Payload), nil
}

// ParseRequest returns the (index, begin, length) carried by a Request or
// Cancel message.
func ParseRequest(m *Message) (index, begin, length uint32, err error) {
	if m.Kind != MsgRequest && m.Kind != MsgCancel {
		return 0, 0, 0, errors.Errorf("p2p: expected request/cancel, got %s", m.Kind)
	}
	index = binary.BigEndian.Uint32(m.Payload[0:4])
	begin = binary.BigEndian.Uint32(m.Payload[4:8])
	length = binary.BigEndian.Uint32(m.Payload[8:12])
	return index, begin, length, nil
}

// ParsePiece returns the (index, begin, block) carried by a Piece message.
func ParsePiece(m *Message) (index, begin uint32, block []byte, err error) {
	if m.Kind != MsgPiece {
		return 0, 0, nil, errors.Errorf("p2p: expected piece, got %s", m.Kind)
	}
	index = binary.BigEndian.Uint32(m.Payload[0:4])
	begin = binary.BigEndian.Uint32(m.Payload[4:8])
	return index, begin, m.Payload[8:], nil
}

// ParsePort returns the listen port carried by a Port message.
func ParsePort(m *Message) (uint16, error) {
	if m.Kind != MsgPort {
		return 0, errors.Errorf("p2p: expected port, got %s", m.Kind)
	}
	return binary.BigEndian.Uint16(m.Payload), nil
}
