package tracker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwarmRegistersReservedBrowserDebugInfoHash(t *testing.T) {
	s := NewSwarm()
	assert.True(t, s.Known(ReservedBrowserDebugInfoHash))
}

func TestSwarmUpsertAndPeersExcludesRequester(t *testing.T) {
	s := NewSwarm()
	hash := [20]byte{1}
	s.Register(hash)

	p1 := PeerInfo{PeerID: [20]byte{1}, IP: net.ParseIP("127.0.0.1"), Port: 6881, Left: 100}
	p2 := PeerInfo{PeerID: [20]byte{2}, IP: net.ParseIP("127.0.0.1"), Port: 6883, Left: 0}

	s.Upsert(hash, p1)
	s.Upsert(hash, p2)

	peers := s.Peers(hash, p1.PeerID)
	require.Len(t, peers, 1)
	assert.Equal(t, p2.PeerID, peers[0].PeerID)
}

func TestSwarmPeersExcludesStopped(t *testing.T) {
	s := NewSwarm()
	hash := [20]byte{1}
	s.Register(hash)

	s.Upsert(hash, PeerInfo{PeerID: [20]byte{1}, IP: net.ParseIP("127.0.0.1"), Port: 6881})
	s.Upsert(hash, PeerInfo{PeerID: [20]byte{2}, IP: net.ParseIP("127.0.0.1"), Port: 6882, Event: "stopped"})

	peers := s.Peers(hash, [20]byte{99})
	require.Len(t, peers, 1)
	assert.Equal(t, [20]byte{1}, peers[0].PeerID)
}

func TestSwarmCountCompleteIncomplete(t *testing.T) {
	s := NewSwarm()
	hash := [20]byte{1}
	s.Register(hash)

	s.Upsert(hash, PeerInfo{PeerID: [20]byte{1}, Left: 0})                 // seeder
	s.Upsert(hash, PeerInfo{PeerID: [20]byte{2}, Left: 10})                // leecher
	s.Upsert(hash, PeerInfo{PeerID: [20]byte{3}, Event: "completed"})      // seeder via event
	s.Upsert(hash, PeerInfo{PeerID: [20]byte{4}, Left: 5, Event: "stopped"}) // excluded

	complete, incomplete := s.CountCompleteIncomplete(hash)
	assert.Equal(t, 2, complete)
	assert.Equal(t, 1, incomplete)
}

func TestCountersSnapshot(t *testing.T) {
	var c Counters
	c.IncConnections()
	c.IncConnections()
	c.IncCompleted()

	connections, completed := c.Snapshot()
	assert.EqualValues(t, 2, connections)
	assert.EqualValues(t, 1, completed)
}
