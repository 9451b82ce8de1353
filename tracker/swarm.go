// Package tracker implements the HTTP tracker server: the swarm map,
// announce handling, JSON persistence, and static asset routing (spec
// §4.10). It is grounded on the chihaya lineage's announce/model split
// (other_examples' chihaya-chihaya http-announce.go and models.go), adapted
// from chihaya's pluggable storage driver down to a single in-process
// sync.RWMutex-guarded map, since the spec names only one tracker process
// with no external storage backend.
package tracker

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ReservedBrowserDebugInfoHash is always a known torrent, independent of
// the configured torrents directory (spec §4.10).
var ReservedBrowserDebugInfoHash = [20]byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T'}

// PeerInfo is one swarm member's tracker-side bookkeeping (spec §3 Swarm).
type PeerInfo struct {
	PeerID     [20]byte
	IP         net.IP
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      string // "started", "completed", "stopped", or ""
	LastSeen   time.Time
}

// Complete reports whether this peer counts toward the seeder count.
func (p PeerInfo) Complete() bool {
	return p.Left == 0 || p.Event == "completed"
}

// Stopped reports whether this peer's last event was "stopped".
func (p PeerInfo) Stopped() bool {
	return p.Event == "stopped"
}

// torrentEntry is one info_hash's swarm: the peer map keyed by raw 20-byte
// peer id.
type torrentEntry struct {
	peers map[[20]byte]*PeerInfo
}

// Swarm is the tracker's one-way info_hash -> peer_id -> PeerInfo index
// (spec §3 Swarm, §9 "Three shared stores").
type Swarm struct {
	mu       sync.RWMutex
	torrents map[[20]byte]*torrentEntry
}

// NewSwarm returns an empty swarm with the reserved browser-debug
// info_hash already registered.
func NewSwarm() *Swarm {
	s := &Swarm{torrents: make(map[[20]byte]*torrentEntry)}
	s.Register(ReservedBrowserDebugInfoHash)
	return s
}

// Register makes infoHash a known torrent with an empty peer map, unless
// it already exists.
func (s *Swarm) Register(infoHash [20]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.torrents[infoHash]; !ok {
		s.torrents[infoHash] = &torrentEntry{peers: make(map[[20]byte]*PeerInfo)}
	}
}

// Known reports whether infoHash is a recognized torrent.
func (s *Swarm) Known(infoHash [20]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.torrents[infoHash]
	return ok
}

// Upsert inserts or replaces the peer's bookkeeping for infoHash,
// registering the torrent if it is somehow missing (defensive; callers
// validate infoHash is known before calling Upsert).
func (s *Swarm) Upsert(infoHash [20]byte, p PeerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.torrents[infoHash]
	if !ok {
		entry = &torrentEntry{peers: make(map[[20]byte]*PeerInfo)}
		s.torrents[infoHash] = entry
	}
	cp := p
	entry.peers[p.PeerID] = &cp
}

// Peers returns every non-stopped peer for infoHash except excludePeerID.
func (s *Swarm) Peers(infoHash [20]byte, excludePeerID [20]byte) []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.torrents[infoHash]
	if !ok {
		return nil
	}
	out := make([]PeerInfo, 0, len(entry.peers))
	for id, p := range entry.peers {
		if id == excludePeerID || p.Stopped() {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// CountCompleteIncomplete returns the seeder/leecher counts for infoHash
// (spec §4.10: complete = left==0 or event=Completed, incomplete =
// everyone else excluding stopped peers).
func (s *Swarm) CountCompleteIncomplete(infoHash [20]byte) (complete, incomplete int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.torrents[infoHash]
	if !ok {
		return 0, 0
	}
	for _, p := range entry.peers {
		if p.Stopped() {
			continue
		}
		if p.Complete() {
			complete++
		} else {
			incomplete++
		}
	}
	return complete, incomplete
}

// Counters is the tracker's cumulative connection/completion tally, used
// both as the only metric surface and as the persisted snapshot's data
// source (spec §4.10 "(added) Metrics").
type Counters struct {
	connections atomic.Int64
	completed   atomic.Int64
}

// IncConnections records one more sampled announce.
func (c *Counters) IncConnections() { c.connections.Add(1) }

// IncCompleted records one more announce carrying event=completed.
func (c *Counters) IncCompleted() { c.completed.Add(1) }

// Snapshot returns the current cumulative totals.
func (c *Counters) Snapshot() (connections, completed int64) {
	return c.connections.Load(), c.completed.Load()
}
