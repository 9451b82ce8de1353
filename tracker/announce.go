package tracker

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorent/gorent/bencode"
)

// announceInterval is seconds between re-announces advertised to peers.
const announceInterval = 1800

const (
	minListenPort = 6881
	maxListenPort = 6889
)

// handleAnnounce implements GET /announce (spec §4.10 Announce handling).
func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	s.counters.IncConnections()

	q := r.URL.Query()

	infoHash, ip, peerID, port, uploaded, downloaded, left, event, compact, failReason := parseAnnounceQuery(q, r)
	if failReason != "" {
		writeFailure(w, failReason)
		return
	}

	if !s.swarm.Known(infoHash) {
		writeFailure(w, "unknown info_hash")
		return
	}

	if event == "completed" {
		s.counters.IncCompleted()
	}

	s.swarm.Upsert(infoHash, PeerInfo{
		PeerID:     peerID,
		IP:         ip,
		Port:       port,
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Left:       left,
		Event:      event,
		LastSeen:   time.Now(),
	})

	complete, incomplete := s.swarm.CountCompleteIncomplete(infoHash)
	peers := s.swarm.Peers(infoHash, peerID)

	resp := bencode.NewDict()
	resp.Set("interval", bencode.Integer(announceInterval))
	resp.Set("complete", bencode.Integer(int64(complete)))
	resp.Set("incomplete", bencode.Integer(int64(incomplete)))
	if compact {
		resp.Set("peers", bencode.ByteString(compactPeers(peers)))
	} else {
		resp.Set("peers", nonCompactPeers(peers))
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write(bencode.Encode(resp))
}

// parseAnnounceQuery validates the announce query per spec §4.10, returning
// a non-empty failReason on the first violation found.
func parseAnnounceQuery(q map[string][]string, r *http.Request) (infoHash [20]byte, ip net.IP, peerID [20]byte, port uint16, uploaded, downloaded, left int64, event string, compact bool, failReason string) {
	infoHashStr := first(q, "info_hash")
	if len(infoHashStr) != 20 {
		return infoHash, ip, peerID, port, 0, 0, 0, "", false, "info_hash must be 20 bytes"
	}
	copy(infoHash[:], infoHashStr)

	peerIDStr := first(q, "peer_id")
	if len(peerIDStr) != 20 {
		return infoHash, ip, peerID, port, 0, 0, 0, "", false, "peer_id must be 20 bytes"
	}
	copy(peerID[:], peerIDStr)

	portVal, err := strconv.Atoi(first(q, "port"))
	if err != nil || portVal < minListenPort || portVal > maxListenPort {
		return infoHash, ip, peerID, port, 0, 0, 0, "", false, fmt.Sprintf("port must be in [%d, %d]", minListenPort, maxListenPort)
	}
	port = uint16(portVal)

	uploaded, err = strconv.ParseInt(first(q, "uploaded"), 10, 64)
	if err != nil {
		return infoHash, ip, peerID, port, 0, 0, 0, "", false, "uploaded must be a number"
	}
	downloaded, err = strconv.ParseInt(first(q, "downloaded"), 10, 64)
	if err != nil {
		return infoHash, ip, peerID, port, 0, 0, 0, "", false, "downloaded must be a number"
	}
	left, err = strconv.ParseInt(first(q, "left"), 10, 64)
	if err != nil {
		return infoHash, ip, peerID, port, 0, 0, 0, "", false, "left must be a number"
	}

	event = first(q, "event")
	compact = first(q, "compact") == "1"

	ip = remoteIP(r, first(q, "ip"))

	return infoHash, ip, peerID, port, uploaded, downloaded, left, event, compact, ""
}

func first(q map[string][]string, key string) string {
	vals := q[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// remoteIP prefers the connection's remote address, falling back to the
// query's declared ip= param (spec §4.10 "replace the sender's socket
// port with the announced port" implies the socket-observed IP is
// authoritative; the declared ip is used when the socket address can't be
// parsed, e.g. in tests against net/http/httptest).
func remoteIP(r *http.Request, declared string) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return net.ParseIP(declared)
}

func writeFailure(w http.ResponseWriter, reason string) {
	d := bencode.NewDict()
	d.Set("failure reason", bencode.ByteString([]byte(reason)))
	w.Header().Set("Content-Type", "text/plain")
	w.Write(bencode.Encode(d))
}

func compactPeers(peers []PeerInfo) []byte {
	out := make([]byte, 0, len(peers)*6)
	for _, p := range peers {
		ipv4 := p.IP.To4()
		if ipv4 == nil {
			continue
		}
		out = append(out, ipv4...)
		out = append(out, byte(p.Port>>8), byte(p.Port))
	}
	return out
}

func nonCompactPeers(peers []PeerInfo) bencode.List {
	out := make(bencode.List, 0, len(peers))
	for _, p := range peers {
		d := bencode.NewDict()
		d.Set("peer id", bencode.ByteString(p.PeerID[:]))
		d.Set("ip", bencode.ByteString([]byte(p.IP.String())))
		d.Set("port", bencode.Integer(int64(p.Port)))
		out = append(out, d)
	}
	return out
}
