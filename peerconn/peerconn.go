// Package peerconn implements the per-socket peer wire protocol state
// machine: handshake sequencing, the message loop, and client-role request
// scheduling (spec §4.8). It generalizes the teacher's peer.Client
// (Client-role only, four handled message kinds) into a role-agnostic
// connection handling all ten message kinds and the full loop-exit table.
package peerconn

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gorent/gorent/metainfo"
	"github.com/gorent/gorent/p2p"
	"github.com/gorent/gorent/pstore"
	"github.com/gorent/gorent/status"
)

// readDeadline is the per-read timeout enforced on every message-loop
// iteration (spec §4.8).
const readDeadline = 120 * time.Second

const handshakeDeadline = 5 * time.Second

// Role distinguishes which side of the handshake a Conn plays.
type Role int

const (
	RoleClient Role = iota // we initiated the connection
	RoleServer              // we accepted it
)

var (
	// ErrRecoverable marks a peer-local error: malformed message, unexpected
	// ordering, read timeout, or disconnect (spec §4.8, §7).
	ErrRecoverable = errors.New("peerconn: recoverable peer error")

	// ErrUnrecoverable marks a torrent-level error: local I/O failure,
	// inability to assemble (spec §4.8, §7).
	ErrUnrecoverable = errors.New("peerconn: unrecoverable torrent error")
)

// ExitKind is the loop-exit variant a Conn.Run call returns (spec §4.8).
type ExitKind int

const (
	ExitSecureGlobalShutDown ExitKind = iota
	ExitSecureLocalShutDown
	ExitFinishInteraction
	ExitLookForAnotherPeer
	ExitRecoverable
	ExitUnrecoverable
)

func (k ExitKind) String() string {
	switch k {
	case ExitSecureGlobalShutDown:
		return "secure_global_shutdown"
	case ExitSecureLocalShutDown:
		return "secure_local_shutdown"
	case ExitFinishInteraction:
		return "finish_interaction"
	case ExitLookForAnotherPeer:
		return "look_for_another_peer"
	case ExitRecoverable:
		return "recoverable"
	case ExitUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Exit is the result of a Conn.Run call.
type Exit struct {
	Kind ExitKind
	Err  error
}

// Conn is one peer wire-protocol connection, bound to a single torrent's
// shared status and piece store.
type Conn struct {
	conn     net.Conn
	role     Role
	peerID   [20]byte
	infoHash [20]byte

	peerChoking    bool
	peerInterested bool
	amChoking      bool
	amInterested   bool

	peerBitfield     p2p.Bitfield
	seenFirstMessage bool

	status *status.Status
	store  *pstore.Store
	info   metainfo.Info

	downloadDir string
	torrentName string

	logger *logrus.Logger
}

// log returns the per-torrent logger this Conn was built with, falling
// back to the standard logger for Conns built directly in tests.
func (c *Conn) log() *logrus.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logrus.StandardLogger()
}

// Dial opens a Client-role connection: send Handshake, receive Handshake,
// verify info_hash, record the peer's id (spec §4.8). logger is the
// per-torrent logger (spec §6) every log line from this connection goes
// through.
func Dial(addr string, myPeerID, infoHash [20]byte, st *status.Status, store *pstore.Store, info metainfo.Info, downloadDir, torrentName string, logger *logrus.Logger) (*Conn, error) {
	netConn, err := net.DialTimeout("tcp", addr, handshakeDeadline)
	if err != nil {
		return nil, errors.Wrap(err, "peerconn: dial")
	}

	c := &Conn{
		conn:        netConn,
		role:        RoleClient,
		infoHash:    infoHash,
		peerChoking: true,
		amChoking:   true,
		status:      st,
		store:       store,
		info:        info,
		downloadDir: downloadDir,
		torrentName: torrentName,
		logger:      logger,
	}

	if err := c.clientHandshake(myPeerID); err != nil {
		netConn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) clientHandshake(myPeerID [20]byte) error {
	c.conn.SetDeadline(time.Now().Add(handshakeDeadline))
	defer c.conn.SetDeadline(time.Time{})

	hs := p2p.NewHandshake(c.infoHash, myPeerID)
	if _, err := c.conn.Write(hs.Serialize()); err != nil {
		return errors.Wrap(err, "peerconn: send handshake")
	}

	resp, err := p2p.ReadHandshake(c.conn)
	if err != nil {
		return errors.Wrap(err, "peerconn: read handshake")
	}
	if resp.InfoHash != c.infoHash {
		return errors.Wrap(p2p.ErrHandshake, "peerconn: info_hash mismatch")
	}
	c.peerID = resp.PeerID
	return nil
}

// Accept takes an already-accepted net.Conn and runs the Server-role
// handshake: receive Handshake, verify, record, send Handshake back, send
// our Bitfield (spec §4.8). logger is the per-torrent logger (spec §6)
// every log line from this connection goes through.
func Accept(netConn net.Conn, myPeerID, infoHash [20]byte, st *status.Status, store *pstore.Store, info metainfo.Info, downloadDir, torrentName string, logger *logrus.Logger) (*Conn, error) {
	c := &Conn{
		conn:        netConn,
		role:        RoleServer,
		infoHash:    infoHash,
		peerChoking: true,
		amChoking:   true,
		status:      st,
		store:       store,
		info:        info,
		downloadDir: downloadDir,
		torrentName: torrentName,
		logger:      logger,
	}

	c.conn.SetDeadline(time.Now().Add(handshakeDeadline))
	defer c.conn.SetDeadline(time.Time{})

	req, err := p2p.ReadHandshake(c.conn)
	if err != nil {
		return nil, errors.Wrap(err, "peerconn: read handshake")
	}
	if req.InfoHash != infoHash {
		return nil, errors.Wrap(p2p.ErrHandshake, "peerconn: info_hash mismatch")
	}
	c.peerID = req.PeerID

	hs := p2p.NewHandshake(infoHash, myPeerID)
	if _, err := c.conn.Write(hs.Serialize()); err != nil {
		return nil, errors.Wrap(err, "peerconn: send handshake")
	}

	bf := st.Bitfield()
	msg := p2p.NewBitfield(bf)
	if _, err := c.conn.Write(msg.Serialize()); err != nil {
		return nil, errors.Wrap(err, "peerconn: send bitfield")
	}

	return c, nil
}

// PeerID returns the remote peer's id recorded at handshake.
func (c *Conn) PeerID() [20]byte { return c.peerID }

// Run drives the message loop until one of the loop-exit variants applies
// (spec §4.8). ctx carries the global shutdown signal; localShutdown is
// this torrent's per-process flag, asserted by any worker that decides the
// torrent is done or unrecoverably broken.
func (c *Conn) Run(ctx context.Context, localShutdown *atomic.Bool) Exit {
	defer c.conn.Close()

	for {
		if ctx.Err() != nil {
			return Exit{Kind: ExitSecureGlobalShutDown}
		}
		if localShutdown.Load() {
			if err := c.store.Clear(); err != nil {
				c.log().WithError(err).Warn("peerconn: clear working directory on local shutdown")
			}
			return Exit{Kind: ExitSecureLocalShutDown}
		}

		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		msg, err := p2p.ReadMessage(c.conn)
		if err != nil {
			c.status.SetAllPiecesAsNotRequested()
			return Exit{Kind: ExitRecoverable, Err: errors.Wrap(ErrRecoverable, err.Error())}
		}

		if msg != nil {
			if err := c.applyTransition(msg); err != nil {
				c.status.SetAllPiecesAsNotRequested()
				if errors.Is(err, ErrUnrecoverable) {
					c.store.Clear()
					localShutdown.Store(true)
					return Exit{Kind: ExitUnrecoverable, Err: err}
				}
				return Exit{Kind: ExitRecoverable, Err: err}
			}
			c.seenFirstMessage = true
		}

		if c.status.IsComplete() {
			path, err := pstore.Assemble(c.info, c.store, c.downloadDir, c.torrentName)
			if err != nil && !errors.Is(err, pstore.ErrMultiFileUnsupported) {
				localShutdown.Store(true)
				return Exit{Kind: ExitUnrecoverable, Err: errors.Wrap(err, "peerconn: assemble")}
			}
			if err == nil {
				c.log().WithField("path", path).Info("[END] peerconn: torrent assembled")
			}
			localShutdown.Store(true)
			return Exit{Kind: ExitFinishInteraction}
		}

		if c.role == RoleClient {
			if exit, cont := c.scheduleRequest(); !cont {
				return exit
			}
		}
	}
}

// applyTransition dispatches one received message to its per-kind handler
// (spec §4.8 transition table).
func (c *Conn) applyTransition(msg *p2p.Message) error {
	if msg.Kind == p2p.MsgBitfield && c.seenFirstMessage {
		return errors.Wrap(ErrRecoverable, "peerconn: bitfield received after first message")
	}

	switch msg.Kind {
	case p2p.MsgChoke:
		c.peerChoking = true
	case p2p.MsgUnchoke:
		c.peerChoking = false
	case p2p.MsgInterested:
		c.peerInterested = true
	case p2p.MsgNotInterested:
		c.peerInterested = false
	case p2p.MsgHave:
		index, err := p2p.ParseHave(msg)
		if err != nil {
			return errors.Wrap(ErrRecoverable, err.Error())
		}
		c.peerBitfield.Set(int(index))
	case p2p.MsgBitfield:
		c.peerBitfield = p2p.Bitfield(msg.Payload)
	case p2p.MsgRequest:
		return c.handleRequest(msg)
	case p2p.MsgPiece:
		return c.handlePiece(msg)
	case p2p.MsgCancel:
		// No pending-request queue is kept on the serving side: each
		// Request is answered as soon as it is read, so there is nothing
		// for Cancel to remove and it is accepted and ignored.
	case p2p.MsgPort:
		// no DHT
	}
	return nil
}

func (c *Conn) handleRequest(msg *p2p.Message) error {
	index, begin, length, err := p2p.ParseRequest(msg)
	if err != nil {
		return errors.Wrap(ErrRecoverable, err.Error())
	}
	if length > p2p.MaxBlockBytes {
		return errors.Wrapf(ErrRecoverable, "peerconn: request length %d exceeds max block size", length)
	}
	if c.amChoking {
		return nil
	}

	block, err := c.store.ReadRange(int(index), int64(begin), int64(length))
	if err != nil {
		return errors.Wrap(ErrRecoverable, err.Error())
	}

	reply := p2p.NewPiece(index, begin, block)
	if _, err := c.conn.Write(reply.Serialize()); err != nil {
		return errors.Wrap(ErrRecoverable, err.Error())
	}
	c.status.AddUploaded(int64(length))
	return nil
}

func (c *Conn) handlePiece(msg *p2p.Message) error {
	index, begin, block, err := p2p.ParsePiece(msg)
	if err != nil {
		return errors.Wrap(ErrRecoverable, err.Error())
	}

	c.status.Lock()
	piece := c.status.PieceAtLocked(int(index))
	if !piece.Requested {
		c.status.Unlock()
		return errors.Wrapf(ErrRecoverable, "peerconn: unsolicited piece %d", index)
	}
	expectedBegin, err := c.status.CalculateBeginningByteIndex(int(index))
	if err != nil || int64(begin) != expectedBegin {
		c.status.Unlock()
		return errors.Wrapf(ErrRecoverable, "peerconn: piece %d begin mismatch", index)
	}

	if err := c.store.StoreBlock(block, int(index)); err != nil {
		c.status.Unlock()
		return errors.Wrap(ErrUnrecoverable, err.Error())
	}

	if err := c.status.UpdatePieceStatus(int(index), int64(begin), int64(len(block))); err != nil {
		c.status.Unlock()
		return errors.Wrap(ErrRecoverable, err.Error())
	}
	becameValid := c.status.PieceAtLocked(int(index)).State == status.ValidAndAvailable
	c.status.Unlock()

	if becameValid {
		expected, err := c.info.ExpectedHash(int(index))
		if err != nil {
			return errors.Wrap(ErrUnrecoverable, err.Error())
		}
		ok, err := c.store.VerifyPiece(int(index), expected)
		if err != nil {
			return errors.Wrap(ErrUnrecoverable, err.Error())
		}
		if !ok {
			c.status.Lock()
			c.status.ResetPiece(int(index))
			c.status.Unlock()
			if err := c.store.TruncatePiece(int(index)); err != nil {
				return errors.Wrap(ErrUnrecoverable, err.Error())
			}
			return nil
		}

		c.log().WithFields(logrus.Fields{
			"piece":     index,
			"available": c.status.AvailableCount(),
			"total":     c.status.PieceCount(),
		}).Debug("peerconn: piece verified")
	}

	return nil
}

// scheduleRequest implements Client-role request scheduling (spec §4.8):
// under the write lock, look for a missing piece the peer has; if none,
// become not-interested and signal LookForAnotherPeer; else mark the piece
// requested, drop the lock, and send Request. Returns (exit, false) when
// the loop should stop, or (Exit{}, true) to keep iterating.
func (c *Conn) scheduleRequest() (Exit, bool) {
	c.status.Lock()

	idx, ok := c.status.LookForMissingPiece(c.peerBitfield)
	if !ok {
		c.amInterested = false
		c.status.Unlock()
		msg := p2p.NewNotInterested()
		c.conn.Write(msg.Serialize())
		return Exit{Kind: ExitLookForAnotherPeer}, false
	}

	c.amInterested = true
	if c.peerChoking {
		c.status.Unlock()
		msg := p2p.NewInterested()
		if _, err := c.conn.Write(msg.Serialize()); err != nil {
			return Exit{Kind: ExitRecoverable, Err: errors.Wrap(ErrRecoverable, err.Error())}, false
		}
		return Exit{}, true
	}

	if err := c.status.SetPieceAsRequested(idx); err != nil {
		c.status.Unlock()
		return Exit{Kind: ExitRecoverable, Err: errors.Wrap(ErrRecoverable, err.Error())}, false
	}
	begin, err := c.status.CalculateBeginningByteIndex(idx)
	if err != nil {
		c.status.Unlock()
		return Exit{Kind: ExitRecoverable, Err: errors.Wrap(ErrRecoverable, err.Error())}, false
	}
	amount := c.status.CalculateAmountOfBytes(idx, begin)
	c.status.Unlock()

	req := p2p.NewRequest(uint32(idx), uint32(begin), uint32(amount))
	if _, err := c.conn.Write(req.Serialize()); err != nil {
		return Exit{Kind: ExitRecoverable, Err: errors.Wrap(ErrRecoverable, err.Error())}, false
	}
	return Exit{}, true
}
