// Package trackerclient builds and sends the tracker announce GET and
// parses the bencoded response, both compact and non-compact peer list
// encodings (spec §4.7). It generalizes the teacher's requestPeers and
// buildTrackerURL (torrent/torrent.go), which only handled the compact
// form over net/http.Get.
package trackerclient

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gorent/gorent/bencode"
	"github.com/gorent/gorent/urlencode"
)

// ErrProtocol is wrapped with the specific tracker protocol violation
// (non-2xx status, malformed body, missing interval/peers) per spec §7.
var ErrProtocol = errors.New("trackerclient: tracker protocol error")

// Peer is one entry of a TrackerResponse's peer list.
type Peer struct {
	PeerID *[20]byte // nil for compact responses, which carry no peer id
	IP     net.IP
	Port   uint16
}

func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Response is the normalized tracker announce response (spec §4.7).
type Response struct {
	Interval   int
	Complete   int
	Incomplete int
	Peers      []Peer
}

// wireResponse decodes the announce response's scalar fields via
// jackpal/bencode-go struct-tag reflection (bencode.UnmarshalStruct).
type wireResponse struct {
	Interval   int64 `bencode:"interval"`
	Complete   int64 `bencode:"complete"`
	Incomplete int64 `bencode:"incomplete"`
}

// Client issues tracker announces over a raw socket, following the
// spec's literal request/response recipe rather than net/http.
type Client struct {
	Timeout time.Duration
}

// New returns a Client with a sane default timeout.
func New() *Client {
	return &Client{Timeout: 15 * time.Second}
}

// AnnounceParams carries the fields of one announce GET (spec §4.7).
type AnnounceParams struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	IP         string
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      string // "started", "completed", "stopped", or ""
	Compact    bool
}

// Announce builds the GET query, dials the tracker (TCP for http, TLS for
// https), writes the request, reads until EOF, and parses the bencoded
// response body.
func (c *Client) Announce(announceURL string, p AnnounceParams) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, errors.Wrap(err, "trackerclient: parse announce url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("trackerclient: unsupported scheme %q (only http/https)", u.Scheme)
	}

	reqURL := buildRequestURL(u, p)

	host := u.Host
	if !strings.Contains(host, ":") {
		if u.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	conn, err := dial(u.Scheme, host, c.Timeout)
	if err != nil {
		return nil, errors.Wrap(err, "trackerclient: dial tracker")
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.Timeout))

	request := fmt.Sprintf("GET %s HTTP/1.0\r\nHost: %s\r\n\r\n", reqURL.RequestURI(), u.Host)
	if _, err := conn.Write([]byte(request)); err != nil {
		return nil, errors.Wrap(err, "trackerclient: write request")
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, errors.Wrap(err, "trackerclient: read response")
	}

	return parseResponse(raw)
}

func dial(scheme, host string, timeout time.Duration) (net.Conn, error) {
	if scheme == "https" {
		d := &net.Dialer{Timeout: timeout}
		return tls.DialWithDialer(d, "tcp", host, nil)
	}
	return net.DialTimeout("tcp", host, timeout)
}

func buildRequestURL(u *url.URL, p AnnounceParams) *url.URL {
	out := *u
	q := url.Values{}
	q.Set("ip", p.IP)
	q.Set("port", strconv.Itoa(int(p.Port)))
	q.Set("uploaded", strconv.FormatInt(p.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(p.Downloaded, 10))
	q.Set("left", strconv.FormatInt(p.Left, 10))
	if p.Event != "" {
		q.Set("event", p.Event)
	}
	if p.Compact {
		q.Set("compact", "1")
	}
	out.RawQuery = q.Encode() + "&info_hash=" + urlencode.Encode(p.InfoHash[:]) + "&peer_id=" + urlencode.Encode(p.PeerID[:])
	return &out
}

// parseResponse splits the raw HTTP/1.x reply on the header/body boundary,
// validates the status line is 2xx, and bencode-decodes the body.
func parseResponse(raw []byte) (*Response, error) {
	sep := bytes.Index(raw, []byte("\r\n\r\n"))
	if sep < 0 {
		return nil, errors.Wrap(ErrProtocol, "no header/body boundary found")
	}
	header := raw[:sep]
	body := raw[sep+4:]

	statusLine, err := bufio.NewReader(bytes.NewReader(header)).ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(ErrProtocol, "malformed status line")
	}
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return nil, errors.Wrap(ErrProtocol, "malformed status line")
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 200 || code >= 300 {
		reason := strings.TrimSpace(strings.Join(fields[2:], " "))
		return nil, errors.Wrapf(ErrProtocol, "non-2xx status %s %s", fields[1], reason)
	}

	// Scalar fields decode through the upstream struct-tag reflection
	// codec (jackpal/bencode-go), same idiom the teacher used for
	// bencodeInfo/bencodeTorrent; canonical key ordering doesn't matter
	// here since nothing is hashed, so Dict/Decode isn't needed for these.
	var wire wireResponse
	if err := bencode.UnmarshalStruct(bytes.NewReader(body), &wire); err != nil {
		return nil, errors.Wrap(ErrProtocol, "malformed bencoded body")
	}
	if wire.Interval <= 0 {
		return nil, errors.Wrap(ErrProtocol, "missing interval")
	}

	// peers is a union type (compact byte string or a list of dicts) that
	// the struct-tag codec can't express, so it's pulled from the
	// general-purpose Dict decode instead.
	val, _, err := bencode.Decode(body)
	if err != nil {
		return nil, errors.Wrap(ErrProtocol, "malformed bencoded body")
	}
	dict, ok := val.(*bencode.Dict)
	if !ok {
		return nil, errors.Wrap(ErrProtocol, "response body is not a dictionary")
	}

	resp := &Response{
		Interval:   int(wire.Interval),
		Complete:   int(wire.Complete),
		Incomplete: int(wire.Incomplete),
	}

	peersVal, ok := dict.Get("peers")
	if !ok {
		return nil, errors.Wrap(ErrProtocol, "missing peers")
	}

	switch v := peersVal.(type) {
	case bencode.ByteString:
		peers, err := parseCompactPeers([]byte(v))
		if err != nil {
			return nil, err
		}
		resp.Peers = peers
	case bencode.List:
		peers, err := parseNonCompactPeers(v)
		if err != nil {
			return nil, err
		}
		resp.Peers = peers
	default:
		return nil, errors.Wrap(ErrProtocol, "peers has unexpected shape")
	}

	return resp, nil
}

func parseCompactPeers(raw []byte) ([]Peer, error) {
	const peerSize = 6
	if len(raw)%peerSize != 0 {
		return nil, errors.Wrapf(ErrProtocol, "compact peers length %d not a multiple of %d", len(raw), peerSize)
	}
	n := len(raw) / peerSize
	peers := make([]Peer, n)
	for i := 0; i < n; i++ {
		off := i * peerSize
		peers[i] = Peer{
			IP:   net.IPv4(raw[off], raw[off+1], raw[off+2], raw[off+3]),
			Port: uint16(raw[off+4])<<8 | uint16(raw[off+5]),
		}
	}
	return peers, nil
}

func parseNonCompactPeers(list bencode.List) ([]Peer, error) {
	peers := make([]Peer, 0, len(list))
	for _, item := range list {
		dict, ok := item.(*bencode.Dict)
		if !ok {
			return nil, errors.Wrap(ErrProtocol, "non-compact peer entry is not a dict")
		}
		var peer Peer

		if idVal, ok := dict.Get("peer id"); ok {
			if s, ok := idVal.(bencode.ByteString); ok && len(s) == 20 {
				var id [20]byte
				copy(id[:], s)
				peer.PeerID = &id
			}
		}

		ipVal, ok := dict.Get("ip")
		if !ok {
			return nil, errors.Wrap(ErrProtocol, "non-compact peer missing ip")
		}
		ipStr, ok := ipVal.(bencode.ByteString)
		if !ok {
			return nil, errors.Wrap(ErrProtocol, "non-compact peer ip is not a string")
		}
		peer.IP = net.ParseIP(string(ipStr))
		if peer.IP == nil {
			return nil, errors.Wrapf(ErrProtocol, "invalid ip %q", ipStr)
		}

		portVal, ok := dict.Get("port")
		if !ok {
			return nil, errors.Wrap(ErrProtocol, "non-compact peer missing port")
		}
		port, ok := portVal.(bencode.Integer)
		if !ok {
			return nil, errors.Wrap(ErrProtocol, "non-compact peer port is not an integer")
		}
		peer.Port = uint16(port)

		peers = append(peers, peer)
	}
	return peers, nil
}
