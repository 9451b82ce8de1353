package swarm

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorent/gorent/metainfo"
	"github.com/gorent/gorent/trackerclient"
)

func TestSplitPeersEvenOdd(t *testing.T) {
	peers := []trackerclient.Peer{
		{IP: net.ParseIP("10.0.0.1"), Port: 1},
		{IP: net.ParseIP("10.0.0.2"), Port: 2},
		{IP: net.ParseIP("10.0.0.3"), Port: 3},
		{IP: net.ParseIP("10.0.0.4"), Port: 4},
		{IP: net.ParseIP("10.0.0.5"), Port: 5},
	}

	even, odd := splitPeers(peers)
	require.Len(t, even, 3)
	require.Len(t, odd, 2)
	assert.EqualValues(t, 1, even[0].Port)
	assert.EqualValues(t, 3, even[1].Port)
	assert.EqualValues(t, 5, even[2].Port)
	assert.EqualValues(t, 2, odd[0].Port)
	assert.EqualValues(t, 4, odd[1].Port)
}

func TestRunExitsPromptlyOnCancelledContext(t *testing.T) {
	info := metainfo.Info{PieceLength: 4, Length: 4}
	workRoot := t.TempDir()
	downloadDir := t.TempDir()

	// no peers, so the client workers start with empty queues and the
	// acceptor is left as the only loop; cancelling ctx up front must make
	// every worker return quickly.
	co := New(info, [20]byte{1}, [20]byte{2}, freePort(t), workRoot, downloadDir, "demo", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- co.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not exit promptly after ctx cancellation")
	}
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}
