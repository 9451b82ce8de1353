package trackerclient

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorent/gorent/bencode"
)

// fakeTracker starts a single-shot TCP listener that replies with body to
// the first connection it accepts, then closes.
func fakeTracker(t *testing.T, body []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()

		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil || strings.TrimSpace(line) == "" {
				break
			}
		}

		resp := fmt.Sprintf("HTTP/1.0 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
		conn.Write([]byte(resp))
	}()

	return ln.Addr().String()
}

func announceParams() AnnounceParams {
	return AnnounceParams{
		InfoHash: [20]byte{1, 2, 3},
		PeerID:   [20]byte{4, 5, 6},
		IP:       "127.0.0.1",
		Port:     6881,
		Left:     1000,
		Event:    "started",
	}
}

func TestAnnounceParsesCompactPeers(t *testing.T) {
	// spec §8 scenario 5: peers P1(127.0.0.1:6881) and P2(127.0.0.1:6883).
	dict := bencode.NewDict()
	dict.Set("interval", bencode.Integer(1800))
	dict.Set("complete", bencode.Integer(1))
	dict.Set("incomplete", bencode.Integer(1))
	dict.Set("peers", bencode.ByteString([]byte{127, 0, 0, 1, 0x1A, 0xE3}))
	body := bencode.Encode(dict)

	addr := fakeTracker(t, body)
	c := New()
	resp, err := c.Announce("http://"+addr+"/announce", announceParams())
	require.NoError(t, err)

	assert.Equal(t, 1800, resp.Interval)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "127.0.0.1", resp.Peers[0].IP.String())
	assert.EqualValues(t, 6883, resp.Peers[0].Port)
	assert.Nil(t, resp.Peers[0].PeerID)
}

func TestAnnounceParsesNonCompactPeers(t *testing.T) {
	peerDict := bencode.NewDict()
	peerDict.Set("peer id", bencode.ByteString(bytes20('x')))
	peerDict.Set("ip", bencode.ByteString([]byte("10.0.0.5")))
	peerDict.Set("port", bencode.Integer(51413))

	dict := bencode.NewDict()
	dict.Set("interval", bencode.Integer(900))
	dict.Set("peers", bencode.List{peerDict})
	body := bencode.Encode(dict)

	addr := fakeTracker(t, body)
	c := New()
	resp, err := c.Announce("http://"+addr+"/announce", announceParams())
	require.NoError(t, err)

	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "10.0.0.5", resp.Peers[0].IP.String())
	assert.EqualValues(t, 51413, resp.Peers[0].Port)
	require.NotNil(t, resp.Peers[0].PeerID)
}

func TestAnnounceRejectsNon2xxStatus(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()
		bufio.NewReader(conn).ReadString('\n')
		conn.Write([]byte("HTTP/1.0 500 Internal Server Error\r\n\r\n"))
	}()

	c := New()
	_, err = c.Announce("http://"+ln.Addr().String()+"/announce", announceParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestAnnounceRejectsUnsupportedScheme(t *testing.T) {
	c := New()
	_, err := c.Announce("udp://127.0.0.1:80/announce", announceParams())
	require.Error(t, err)
}

func bytes20(b byte) []byte {
	out := make([]byte, 20)
	for i := range out {
		out[i] = b
	}
	return out
}
