// Package swarm is the per-torrent coordinator: it owns the shared status
// and piece store, spawns one acceptor worker plus two client workers split
// over the tracker's peer list, and joins them before returning (spec
// §4.9). It generalizes the teacher's Torrent.Download worker-pool (one
// role, one peer list, channel-fed) into the three-worker, dual-role
// topology the spec describes.
package swarm

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gorent/gorent/metainfo"
	"github.com/gorent/gorent/peerconn"
	"github.com/gorent/gorent/pstore"
	"github.com/gorent/gorent/status"
	"github.com/gorent/gorent/trackerclient"
)

// acceptPollInterval is how often the acceptor worker's non-blocking
// accept loop re-checks the shutdown flags (spec §4.9).
const acceptPollInterval = time.Second

// Coordinator runs one torrent's full peer-swarm lifecycle.
type Coordinator struct {
	Info        metainfo.Info
	InfoHash    [20]byte
	MyPeerID    [20]byte
	Port        uint16
	DownloadDir string
	TorrentName string

	Status *status.Status
	Store  *pstore.Store

	Peers []trackerclient.Peer

	// Logger is the per-torrent logger (spec §6) every log line this
	// coordinator or the peer connections it spawns produces goes through.
	Logger *logrus.Logger
}

// New builds a Coordinator with a fresh Status and Store for this torrent.
// logger is the per-torrent logger built by logging.NewTorrentLogger; every
// recoverable/unrecoverable/assembly log line from this torrent's swarm and
// peer connections is written through it (spec §6, §7).
func New(info metainfo.Info, infoHash, myPeerID [20]byte, port uint16, workRoot, downloadDir, torrentName string, peers []trackerclient.Peer, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		Info:        info,
		InfoHash:    infoHash,
		MyPeerID:    myPeerID,
		Port:        port,
		DownloadDir: downloadDir,
		TorrentName: torrentName,
		Status:      status.New(info),
		Store:       pstore.New(workRoot, torrentName),
		Peers:       peers,
		Logger:      logger,
	}
}

// log returns the per-torrent logger this Coordinator was built with,
// falling back to the standard logger for Coordinators built directly in
// tests.
func (co *Coordinator) log() *logrus.Logger {
	if co.Logger != nil {
		return co.Logger
	}
	return logrus.StandardLogger()
}

// Run spawns the acceptor and the two client workers, and blocks until all
// three exit (either because of ctx cancellation, the torrent completing,
// or an unrecoverable error asserting local shutdown). An unrecoverable
// error from either client worker is returned as the torrent's terminal
// status. Errors on the acceptor side (a failed listen, or an unrecoverable
// error on an accepted connection) are logged and are not returned.
func (co *Coordinator) Run(ctx context.Context) error {
	var localShutdown atomic.Bool
	var unrecoverable atomic.Value // stores error

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		co.runAcceptor(ctx, &localShutdown)
	}()

	even, odd := splitPeers(co.Peers)
	go func() {
		defer wg.Done()
		co.runClientWorker(ctx, &localShutdown, even, &unrecoverable)
	}()
	go func() {
		defer wg.Done()
		co.runClientWorker(ctx, &localShutdown, odd, &unrecoverable)
	}()

	wg.Wait()

	if err, ok := unrecoverable.Load().(error); ok {
		return err
	}
	return nil
}

// splitPeers partitions peers into an even-indexed half and an odd-indexed
// half (spec §4.9).
func splitPeers(peers []trackerclient.Peer) (even, odd []trackerclient.Peer) {
	for i, p := range peers {
		if i%2 == 0 {
			even = append(even, p)
		} else {
			odd = append(odd, p)
		}
	}
	return even, odd
}

// runAcceptor binds the configured port in non-blocking mode, polling
// accept every second so it can observe shutdown flags promptly (spec
// §4.9). Each accepted connection is handed off to its own Server-role
// peer connection.
func (co *Coordinator) runAcceptor(ctx context.Context, localShutdown *atomic.Bool) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", co.Port))
	if err != nil {
		co.log().WithError(err).Error("[ERROR] swarm: acceptor listen failed")
		localShutdown.Store(true)
		return
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		co.log().Error("[ERROR] swarm: acceptor listener is not TCP")
		return
	}

	for {
		if ctx.Err() != nil || localShutdown.Load() {
			return
		}

		tcpLn.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := tcpLn.Accept()
		if err != nil {
			continue // timeout is expected; keep polling shutdown flags
		}

		go co.serveAccepted(ctx, localShutdown, conn)
	}
}

func (co *Coordinator) serveAccepted(ctx context.Context, localShutdown *atomic.Bool, conn net.Conn) {
	c, err := peerconn.Accept(conn, co.MyPeerID, co.InfoHash, co.Status, co.Store, co.Info, co.DownloadDir, co.TorrentName, co.Logger)
	if err != nil {
		co.log().WithError(err).Debug("swarm: server-role handshake failed")
		conn.Close()
		return
	}

	exit := c.Run(ctx, localShutdown)
	switch exit.Kind {
	case peerconn.ExitRecoverable:
		co.log().WithError(exit.Err).Debug("swarm: accepted connection ended recoverably")
	case peerconn.ExitUnrecoverable:
		co.log().WithError(exit.Err).Error("[ERROR] swarm: accepted connection hit unrecoverable error")
	}
}

// runClientWorker iterates its half of the tracker peer list, dialing each
// one in turn and acting on the connection's loop-exit variant (spec §4.9).
func (co *Coordinator) runClientWorker(ctx context.Context, localShutdown *atomic.Bool, peers []trackerclient.Peer, unrecoverable *atomic.Value) {
	queue := append([]trackerclient.Peer(nil), peers...)

	for len(queue) > 0 {
		if ctx.Err() != nil || localShutdown.Load() {
			return
		}

		p := queue[0]
		queue = queue[1:]

		conn, err := peerconn.Dial(p.String(), co.MyPeerID, co.InfoHash, co.Status, co.Store, co.Info, co.DownloadDir, co.TorrentName, co.Logger)
		if err != nil {
			co.log().WithError(err).WithField("peer", p.String()).Debug("swarm: dial failed")
			continue
		}

		exit := conn.Run(ctx, localShutdown)
		switch exit.Kind {
		case peerconn.ExitSecureGlobalShutDown, peerconn.ExitSecureLocalShutDown, peerconn.ExitFinishInteraction:
			return
		case peerconn.ExitLookForAnotherPeer:
			queue = append(queue, p)
		case peerconn.ExitRecoverable:
			co.log().WithError(exit.Err).WithField("peer", p.String()).Debug("swarm: recoverable peer error")
		case peerconn.ExitUnrecoverable:
			co.log().WithError(exit.Err).Error("[ERROR] swarm: unrecoverable torrent error")
			unrecoverable.Store(exit.Err)
			return
		}
	}
}
