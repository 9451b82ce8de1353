package tracker

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorent/gorent/bencode"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServerRunServesAnnounceAnd404(t *testing.T) {
	swarm := NewSwarm()
	hash := [20]byte{1}
	swarm.Register(hash)

	snapPath := filepath.Join(t.TempDir(), "database.json")
	snap, err := LoadSnapshot(snapPath)
	require.NoError(t, err)

	port := freeTCPPort(t)
	s := NewServer(swarm, snap, &Counters{}, 2, port, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)

	waitForPort(t, port)

	announceResp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + announceURL(hash, [20]byte{2}, 6881, 100, "started", true))
	require.NoError(t, err)
	announceBody, err := io.ReadAll(announceResp.Body)
	announceResp.Body.Close()
	require.NoError(t, err)
	val, _, err := bencode.Decode(announceBody)
	require.NoError(t, err)
	_, ok := val.(*bencode.Dict).Get("interval")
	assert.True(t, ok)

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "404")
}

func TestServerRunServesDatabaseJSON(t *testing.T) {
	swarm := NewSwarm()
	snapPath := filepath.Join(t.TempDir(), "database.json")
	snap, err := LoadSnapshot(snapPath)
	require.NoError(t, err)

	port := freeTCPPort(t)
	s := NewServer(swarm, snap, &Counters{}, 1, port, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitForPort(t, port)

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/database.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "times")
}

func TestListenWithRetryFindsFreePortAfterCollision(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	ln, got, err := listenWithRetry(port, 5)
	require.NoError(t, err)
	defer ln.Close()
	assert.NotEqual(t, port, got)
}

func waitForPort(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never started listening on port %d", port)
}
