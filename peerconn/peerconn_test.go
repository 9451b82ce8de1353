package peerconn

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorent/gorent/metainfo"
	"github.com/gorent/gorent/p2p"
	"github.com/gorent/gorent/pstore"
	"github.com/gorent/gorent/status"
)

func onePieceInfo() metainfo.Info {
	return metainfo.Info{PieceLength: 4, Length: 4}
}

func TestAcceptPerformsServerHandshakeAndSendsBitfield(t *testing.T) {
	serverLn, clientConn := pipeListener(t)
	defer serverLn.Close()

	infoHash := [20]byte{1}
	serverID := [20]byte{2}
	clientID := [20]byte{3}

	st := status.New(onePieceInfo())
	store := pstore.New(t.TempDir(), "demo")

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, _ := serverLn.Accept()
		serverConnCh <- conn
	}()

	// drive the client side of the handshake by hand
	clientConn.SetDeadline(time.Now().Add(2 * time.Second))
	hs := p2p.NewHandshake(infoHash, clientID)
	_, err := clientConn.Write(hs.Serialize())
	require.NoError(t, err)

	serverNetConn := <-serverConnCh
	c, err := Accept(serverNetConn, serverID, infoHash, st, store, onePieceInfo(), t.TempDir(), "demo", logrus.New())
	require.NoError(t, err)
	assert.Equal(t, clientID, c.PeerID())

	resp, err := p2p.ReadHandshake(clientConn)
	require.NoError(t, err)
	assert.Equal(t, serverID, resp.PeerID)
	assert.Equal(t, infoHash, resp.InfoHash)

	msg, err := p2p.ReadMessage(clientConn)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, p2p.MsgBitfield, msg.Kind)
}

func TestRunExitsOnGlobalShutdown(t *testing.T) {
	serverLn, clientConn := pipeListener(t)
	defer serverLn.Close()
	defer clientConn.Close()

	infoHash := [20]byte{1}
	st := status.New(onePieceInfo())
	store := pstore.New(t.TempDir(), "demo")

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, _ := serverLn.Accept()
		serverConnCh <- conn
	}()

	clientConn.SetDeadline(time.Now().Add(2 * time.Second))
	hs := p2p.NewHandshake(infoHash, [20]byte{3})
	clientConn.Write(hs.Serialize())

	serverNetConn := <-serverConnCh
	c, err := Accept(serverNetConn, [20]byte{2}, infoHash, st, store, onePieceInfo(), t.TempDir(), "demo", logrus.New())
	require.NoError(t, err)

	p2p.ReadHandshake(clientConn)
	p2p.ReadMessage(clientConn) // drain bitfield

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var localShutdown atomic.Bool
	exit := c.Run(ctx, &localShutdown)
	assert.Equal(t, ExitSecureGlobalShutDown, exit.Kind)
}

func TestApplyTransitionRejectsLateBitfield(t *testing.T) {
	st := status.New(onePieceInfo())
	store := pstore.New(t.TempDir(), "demo")
	c := &Conn{status: st, store: store, info: onePieceInfo(), seenFirstMessage: true}

	msg := p2p.NewBitfield([]byte{0xFF})
	err := c.applyTransition(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecoverable)
}

func TestApplyTransitionChokeUnchoke(t *testing.T) {
	st := status.New(onePieceInfo())
	store := pstore.New(t.TempDir(), "demo")
	c := &Conn{status: st, store: store, info: onePieceInfo()}

	require.NoError(t, c.applyTransition(p2p.NewChoke()))
	assert.True(t, c.peerChoking)

	require.NoError(t, c.applyTransition(p2p.NewUnchoke()))
	assert.False(t, c.peerChoking)
}

// pipeListener returns a loopback TCP listener plus an already-connected
// client-side net.Conn.
func pipeListener(t *testing.T) (net.Listener, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	return ln, clientConn
}
