// Package pstore is the per-torrent piece/block store: an append-only file
// per piece under a working directory, hash-verified on completion and
// concatenated into the final output file (spec §4.5). It generalizes the
// teacher's in-memory pieceProgress buffer (torrent/torrent.go) into
// on-disk storage, matching the spec's "temp/<torrent_name>/piece_<index>"
// layout.
package pstore

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gorent/gorent/metainfo"
)

// ErrMultiFileUnsupported is returned by Assemble for multi-file metainfo
// (spec §9 open question: the source accepts multi-file metainfo at parse
// time but only assembles single-file torrents; this implementation refuses
// multi-file assembly outright rather than guessing at per-file slicing).
var ErrMultiFileUnsupported = errors.New("pstore: assembly of multi-file torrents is not implemented")

// verifyStreamThreshold is the piece size above which VerifyPiece hashes
// via a streaming io.Copy into sha1.New() instead of reading the whole
// piece into memory first; below it, the common case matches the teacher's
// single sha1.Sum([]byte) call.
const verifyStreamThreshold = 4 << 20 // 4 MiB

// Store manages one torrent's working directory of per-piece files.
type Store struct {
	dir string // temp/<torrent_name>
}

// New returns a Store rooted at filepath.Join(workRoot, "temp", torrentName).
// The directory is created lazily on first StoreBlock.
func New(workRoot, torrentName string) *Store {
	return &Store{dir: filepath.Join(workRoot, "temp", torrentName)}
}

func (s *Store) piecePath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("piece_%d", index))
}

// StoreBlock appends block to piece_<pieceIndex>. At-most-once semantics
// per piece across workers is enforced by the caller via the status
// package's requested flag, not here (spec §4.5).
func (s *Store) StoreBlock(block []byte, pieceIndex int) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "pstore: create working directory")
	}
	f, err := os.OpenFile(s.piecePath(pieceIndex), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "pstore: open piece %d", pieceIndex)
	}
	defer f.Close()
	if _, err := f.Write(block); err != nil {
		return errors.Wrapf(err, "pstore: write piece %d", pieceIndex)
	}
	return nil
}

// VerifyPiece reads piece_<pieceIndex>, computes its SHA-1, and compares it
// to expectedHash. On mismatch the file is deleted; the caller is
// responsible for resetting the piece's status to Missing{requested:false}
// (spec §4.5).
func (s *Store) VerifyPiece(pieceIndex int, expectedHash [20]byte) (bool, error) {
	path := s.piecePath(pieceIndex)
	info, err := os.Stat(path)
	if err != nil {
		return false, errors.Wrapf(err, "pstore: stat piece %d", pieceIndex)
	}

	var actual [20]byte
	if info.Size() > verifyStreamThreshold {
		actual, err = streamingSHA1(path)
	} else {
		actual, err = bufferedSHA1(path)
	}
	if err != nil {
		return false, err
	}

	if actual != expectedHash {
		if rmErr := os.Remove(path); rmErr != nil {
			return false, errors.Wrapf(rmErr, "pstore: remove mismatched piece %d", pieceIndex)
		}
		return false, nil
	}
	return true, nil
}

func bufferedSHA1(path string) ([20]byte, error) {
	var out [20]byte
	data, err := os.ReadFile(path)
	if err != nil {
		return out, errors.Wrap(err, "pstore: read piece")
	}
	return sha1.Sum(data), nil
}

func streamingSHA1(path string) ([20]byte, error) {
	var out [20]byte
	f, err := os.Open(path)
	if err != nil {
		return out, errors.Wrap(err, "pstore: open piece for streaming verify")
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return out, errors.Wrap(err, "pstore: hash piece")
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

// TruncatePiece removes a piece file outright, used after a completed piece
// fails hash verification so no partial data is left behind. A piece file
// that is already gone (VerifyPiece deletes it on mismatch) is not an error.
func (s *Store) TruncatePiece(pieceIndex int) error {
	err := os.Remove(s.piecePath(pieceIndex))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "pstore: truncate piece %d", pieceIndex)
	}
	return nil
}

// ReadRange reads length bytes of piece pieceIndex starting at begin, for
// servicing a Request message from a peer we are not choking (spec §4.8).
func (s *Store) ReadRange(pieceIndex int, begin, length int64) ([]byte, error) {
	f, err := os.Open(s.piecePath(pieceIndex))
	if err != nil {
		return nil, errors.Wrapf(err, "pstore: open piece %d for read", pieceIndex)
	}
	defer f.Close()
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, begin); err != nil {
		return nil, errors.Wrapf(err, "pstore: read piece %d range", pieceIndex)
	}
	return buf, nil
}

// Clear removes the entire working directory, used on unrecoverable error
// or after successful assembly (spec §4.8 loop-exit handling).
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.Wrap(err, "pstore: clear working directory")
	}
	return nil
}

// Assemble concatenates piece_0..piece_{N-1} into
// downloadDir/<torrent_name>, refusing multi-file metainfo outright
// (spec §9 open question). torrentName is the output file's base name.
func Assemble(info metainfo.Info, store *Store, downloadDir, torrentName string) (string, error) {
	if info.IsMultiFile() {
		return "", ErrMultiFileUnsupported
	}

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return "", errors.Wrap(err, "pstore: create download directory")
	}

	outPath := filepath.Join(downloadDir, torrentName)
	out, err := os.Create(outPath)
	if err != nil {
		return "", errors.Wrap(err, "pstore: create output file")
	}
	defer out.Close()

	for i := 0; i < info.PieceCount(); i++ {
		pieceFile, err := os.Open(store.piecePath(i))
		if err != nil {
			return "", errors.Wrapf(err, "pstore: open piece %d for assembly", i)
		}
		_, err = io.Copy(out, pieceFile)
		pieceFile.Close()
		if err != nil {
			return "", errors.Wrapf(err, "pstore: copy piece %d", i)
		}
	}

	return outPath, nil
}
