// Command gorent-tracker runs the HTTP tracker. It takes no arguments:
// config.txt in the working directory names the thread pool size and the
// directory of .torrent files to seed the swarm registry with (spec §6
// tracker entry point). Typing "q" followed by Enter on stdin shuts the
// tracker down gracefully, persisting database.json first.
package main

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gorent/gorent/internal/config"
	"github.com/gorent/gorent/internal/logging"
	"github.com/gorent/gorent/metainfo"
	"github.com/gorent/gorent/tracker"
)

const (
	startPort        = 6969
	portRetryCeiling = 20
	databaseFile     = "database.json"
)

func main() {
	logger := logging.NewTrackerLogger()

	cfg, err := config.ParseTrackerConfig("config.txt")
	if err != nil {
		logger.WithError(err).Fatal("load config.txt")
	}

	swarm := tracker.NewSwarm()
	if err := loadTorrents(swarm, cfg.TorrentsPath); err != nil {
		logger.WithError(err).Fatal("load torrents directory")
	}

	snap, err := tracker.LoadSnapshot(databaseFile)
	if err != nil {
		logger.WithError(err).Fatal("load database.json")
	}

	counters := &tracker.Counters{}
	server := tracker.NewServer(swarm, snap, counters, cfg.NumberOfThreads, startPort, portRetryCeiling)

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx) }()

	waitForShutdownSignal(logger)
	cancel()

	if err := <-serverErr; err != nil {
		logger.WithError(err).Error("tracker server exited")
	}
	if err := snap.Save(); err != nil {
		logger.WithError(err).Error("save database.json")
	}
	logger.Info("[END] tracker shut down")
}

// loadTorrents registers every .torrent file's info_hash with the swarm so
// announces against it are accepted.
func loadTorrents(swarm *tracker.Swarm, torrentsPath string) error {
	entries, err := os.ReadDir(torrentsPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".torrent") {
			continue
		}
		f, err := os.Open(filepath.Join(torrentsPath, e.Name()))
		if err != nil {
			return err
		}
		mi, err := metainfo.Read(f)
		f.Close()
		if err != nil {
			return err
		}
		swarm.Register(mi.InfoHash)
	}
	return nil
}

// waitForShutdownSignal blocks until stdin delivers a line reading "q", or
// stdin is closed.
func waitForShutdownSignal(logger *logrus.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "q" {
			logger.Info("shutdown requested")
			return
		}
	}
}
