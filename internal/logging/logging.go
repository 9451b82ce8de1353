// Package logging sets up per-torrent logrus loggers that write to both
// stderr and a per-torrent log file (spec §6), generalizing the teacher's
// bare `debugLog = log.New(...)` global into the structured logger used
// throughout the rest of the pack (TatuMon-bittorrent-client's
// sirupsen/logrus usage).
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewTorrentLogger opens (creating if necessary)
// <logsDir>/<torrentName>-logs.txt and returns a *logrus.Logger that writes
// every entry to both that file and stderr, using logrus's TextFormatter
// with full timestamps (spec §6 persisted state layout).
func NewTorrentLogger(logsDir, torrentName string) (*logrus.Logger, func() error, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "logging: create logs directory")
	}

	path := filepath.Join(logsDir, torrentName+"-logs.txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "logging: open %s", path)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(io.MultiWriter(os.Stderr, f))

	return logger, f.Close, nil
}

// NewTrackerLogger returns the tracker process's single stderr-only logger.
func NewTrackerLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)
	return logger
}
