// Command gorent-client downloads one or more .torrent files. It takes no
// flags: each positional argument is either a .torrent file or a directory
// to scan for .torrent files (spec §6 client entry point). Port, download
// directory, and logs directory come from config.txt in the working
// directory. At most two torrents run concurrently (spec §4.9).
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gorent/gorent/internal/config"
	"github.com/gorent/gorent/internal/logging"
	"github.com/gorent/gorent/metainfo"
	"github.com/gorent/gorent/swarm"
	"github.com/gorent/gorent/trackerclient"
)

const maxConcurrentTorrents = 2

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gorent-client <.torrent path or directory>...")
		os.Exit(1)
	}

	cfg, err := config.ParseClientConfig("config.txt")
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	paths, err := expandTorrentPaths(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "fatal: no .torrent files found")
		os.Exit(1)
	}

	myPeerID, err := generatePeerID()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	semaphore := make(chan struct{}, maxConcurrentTorrents)
	var wg sync.WaitGroup
	for _, path := range paths {
		path := path
		semaphore <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()
			runTorrent(ctx, cfg, myPeerID, path)
		}()
	}
	wg.Wait()
}

// expandTorrentPaths turns a mix of file and directory arguments into a flat
// list of .torrent file paths.
func expandTorrentPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".torrent") {
				out = append(out, filepath.Join(arg, e.Name()))
			}
		}
	}
	return out, nil
}

// generatePeerID produces an Azureus-style peer id: "-GR0001-" followed by
// twelve random bytes.
func generatePeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], "-GR0001-")
	if _, err := rand.Read(id[8:]); err != nil {
		return id, err
	}
	return id, nil
}

func runTorrent(ctx context.Context, cfg *config.ClientConfig, myPeerID [20]byte, path string) {
	f, err := os.Open(path)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Error("open torrent file")
		return
	}
	mi, err := metainfo.Read(f)
	f.Close()
	if err != nil {
		logrus.WithError(err).WithField("path", path).Error("parse torrent file")
		return
	}

	torrentName := mi.Info.Name
	logger, closeLog, err := logging.NewTorrentLogger(cfg.LogsDir, torrentName)
	if err != nil {
		logrus.WithError(err).WithField("torrent", torrentName).Error("open torrent logger")
		return
	}
	defer closeLog()

	tc := trackerclient.New()
	resp, err := tc.Announce(mi.Announce, trackerclient.AnnounceParams{
		InfoHash: mi.InfoHash,
		PeerID:   myPeerID,
		IP:       "0.0.0.0",
		Port:     uint16(cfg.Port),
		Left:     mi.Info.TotalLength(),
		Event:    "started",
		Compact:  true,
	})
	if err != nil {
		logger.WithError(err).Error("[ERROR] tracker announce failed")
		return
	}

	co := swarm.New(mi.Info, mi.InfoHash, myPeerID, uint16(cfg.Port), cfg.DownloadDir, cfg.DownloadDir, torrentName, resp.Peers, logger)

	logger.WithField("peers", len(resp.Peers)).Info("starting download")
	if err := co.Run(ctx); err != nil {
		logger.WithError(err).Error("[ERROR] torrent coordinator exited with error")
		return
	}
	logger.Info("[END] download complete")
}
