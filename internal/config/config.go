// Package config parses the plain-text `key value`-per-line configuration
// files used by both binaries (spec §6). It stays on bufio.Scanner rather
// than a structured-config library: the grammar is a single fixed set of
// bare key/value pairs with no nesting, sections, or types beyond strings
// and integers, which every library in the pack (viper, envconfig, etc. —
// none of which appear anywhere in the corpus) would be overkill for; the
// teacher itself has no config file at all, so this is grounded on the
// spec's literal grammar rather than any one example file.
package config

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMissingKey is returned when a required key is absent.
var ErrMissingKey = errors.New("config: missing required key")

// Parse reads `key value` pairs (one per line, blank lines ignored) from r
// into a map. The key ends at the first space character; the rest of the
// line, trimmed, is the value. A line with no space is malformed.
func Parse(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, errors.Errorf("config: malformed line %q", line)
		}
		values[fields[0]] = strings.TrimSpace(fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "config: scan")
	}
	return values, nil
}

// ParseFile opens path and parses it, wrapping os errors for a readable
// fatal-on-error startup message.
func ParseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: open %s", path)
	}
	defer f.Close()
	return Parse(f)
}

func requireKey(values map[string]string, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", errors.Wrapf(ErrMissingKey, "key %q", key)
	}
	return v, nil
}

func requireInt(values map[string]string, key string) (int, error) {
	raw, err := requireKey(values, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "config: key %q is not an integer", key)
	}
	return n, nil
}

// ClientConfig is the client binary's config.txt: keys port, download,
// logs (spec §6).
type ClientConfig struct {
	Port        int
	DownloadDir string
	LogsDir     string
}

// ParseClientConfig validates all three client keys are present.
func ParseClientConfig(path string) (*ClientConfig, error) {
	values, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	port, err := requireInt(values, "port")
	if err != nil {
		return nil, err
	}
	download, err := requireKey(values, "download")
	if err != nil {
		return nil, err
	}
	logs, err := requireKey(values, "logs")
	if err != nil {
		return nil, err
	}

	return &ClientConfig{Port: port, DownloadDir: download, LogsDir: logs}, nil
}

// TrackerConfig is the tracker binary's config.txt: keys
// number_of_threads, torrents_path (spec §6).
type TrackerConfig struct {
	NumberOfThreads int
	TorrentsPath    string
}

// ParseTrackerConfig validates both tracker keys are present.
func ParseTrackerConfig(path string) (*TrackerConfig, error) {
	values, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	threads, err := requireInt(values, "number_of_threads")
	if err != nil {
		return nil, err
	}
	torrentsPath, err := requireKey(values, "torrents_path")
	if err != nil {
		return nil, err
	}

	return &TrackerConfig{NumberOfThreads: threads, TorrentsPath: torrentsPath}, nil
}
