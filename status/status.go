// Package status tracks one torrent's per-piece download state
// (spec §3 PieceStatus, TorrentStatus) behind a reader/writer lock, as the
// one data structure every peer connection worker shares (spec §3
// Ownership, §5).
package status

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/willf/bitset"

	"github.com/gorent/gorent/metainfo"
	"github.com/gorent/gorent/p2p"
)

// State is the PieceStatus tag (spec §3).
type State int

const (
	Missing State = iota
	PartiallyDownloaded
	ValidAndAvailable
)

// Event is the torrent-level lifecycle event reported to the tracker.
type Event int

const (
	Started Event = iota
	Completed
	Stopped
)

func (e Event) String() string {
	switch e {
	case Started:
		return "started"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Piece is one entry of pieces_availability: a tagged variant carrying only
// the fields relevant to its State.
type Piece struct {
	State           State
	DownloadedBytes int64 // valid when State == PartiallyDownloaded
	Requested       bool  // valid when State != ValidAndAvailable
}

var (
	// ErrAlreadyValid is returned when an operation that only makes sense
	// on an incomplete piece is applied to one that is ValidAndAvailable.
	ErrAlreadyValid = errors.New("status: piece is already valid and available")

	// ErrInvalidTransition is returned when update_piece_status observes a
	// begin offset that does not match the piece's recorded download
	// cursor.
	ErrInvalidTransition = errors.New("status: begin does not match recorded download cursor")
)

// Status is one torrent's mutable download/upload bookkeeping. Callers hold
// the embedded RWMutex themselves: read-only accessors lock internally, but
// the LookForMissingPiece + SetPieceAsRequested critical section (spec §5)
// requires the caller to hold the write lock across both calls so that two
// connections can never claim the same piece.
type Status struct {
	sync.RWMutex

	info   metainfo.Info
	pieces []Piece

	// available mirrors which pieces are ValidAndAvailable as a bitset, so
	// AvailableCount (used for progress reporting) doesn't have to scan the
	// full pieces slice on every call.
	available *bitset.BitSet

	uploaded   int64
	downloaded int64
	left       int64
	event      Event
}

// New builds a Status with every piece Missing{requested:false} and
// left == total_length (spec §3 invariant: downloaded + left == total_length).
func New(info metainfo.Info) *Status {
	count := info.PieceCount()
	pieces := make([]Piece, count)
	return &Status{
		info:      info,
		pieces:    pieces,
		available: bitset.New(uint(count)),
		left:      info.TotalLength(),
		event:     Started,
	}
}

// AvailableCount returns how many pieces are currently ValidAndAvailable.
func (s *Status) AvailableCount() int {
	s.RLock()
	defer s.RUnlock()
	return int(s.available.Count())
}

// Uploaded, Downloaded, Left, and EventState are read-locked snapshots.
func (s *Status) Uploaded() int64 {
	s.RLock()
	defer s.RUnlock()
	return s.uploaded
}

func (s *Status) Downloaded() int64 {
	s.RLock()
	defer s.RUnlock()
	return s.downloaded
}

func (s *Status) Left() int64 {
	s.RLock()
	defer s.RUnlock()
	return s.left
}

func (s *Status) EventState() Event {
	s.RLock()
	defer s.RUnlock()
	return s.event
}

// PieceCount returns the number of pieces in the torrent.
func (s *Status) PieceCount() int {
	return len(s.pieces)
}

// PieceAt returns a read-locked copy of piece i's state.
func (s *Status) PieceAt(i int) Piece {
	s.RLock()
	defer s.RUnlock()
	return s.pieces[i]
}

// PieceAtLocked returns piece i's state without locking; caller must
// already hold the read or write lock (used inside the same critical
// section as SetPieceAsRequested/UpdatePieceStatus).
func (s *Status) PieceAtLocked(i int) Piece {
	return s.pieces[i]
}

// Bitfield returns a read-locked snapshot of our own availability, suitable
// for a Server-role connection's post-handshake Bitfield message.
func (s *Status) Bitfield() p2p.Bitfield {
	s.RLock()
	defer s.RUnlock()
	available := make([]bool, len(s.pieces))
	for i, p := range s.pieces {
		available[i] = p.State == ValidAndAvailable
	}
	return p2p.NewBitfield(available)
}

// IsComplete reports whether every piece is ValidAndAvailable.
func (s *Status) IsComplete() bool {
	s.RLock()
	defer s.RUnlock()
	return s.isCompleteLocked()
}

func (s *Status) isCompleteLocked() bool {
	for _, p := range s.pieces {
		if p.State != ValidAndAvailable {
			return false
		}
	}
	return true
}

// LookForMissingPiece returns the first piece index that is Missing or
// PartiallyDownloaded with requested == false, and that the peer (per its
// bitfield) holds ValidAndAvailable. Caller must hold the write lock; this
// together with SetPieceAsRequested forms one atomic critical section
// (spec §5).
func (s *Status) LookForMissingPiece(peerBitfield p2p.Bitfield) (int, bool) {
	for i, p := range s.pieces {
		if p.Requested {
			continue
		}
		if p.State != Missing && p.State != PartiallyDownloaded {
			continue
		}
		if peerBitfield.Has(i) {
			return i, true
		}
	}
	return 0, false
}

// SetPieceAsRequested flips requested:true on a Missing/Partially piece.
// Caller must hold the write lock (see LookForMissingPiece).
func (s *Status) SetPieceAsRequested(i int) error {
	p := &s.pieces[i]
	if p.State == ValidAndAvailable {
		return errors.Wrapf(ErrAlreadyValid, "piece %d", i)
	}
	p.Requested = true
	return nil
}

// CalculateBeginningByteIndex returns downloaded_bytes for a Partially
// piece, 0 for Missing; fails on ValidAndAvailable. Caller must hold at
// least the read lock (it is normally called inside the same write-locked
// section as SetPieceAsRequested/UpdatePieceStatus).
func (s *Status) CalculateBeginningByteIndex(i int) (int64, error) {
	p := s.pieces[i]
	switch p.State {
	case PartiallyDownloaded:
		return p.DownloadedBytes, nil
	case Missing:
		return 0, nil
	default:
		return 0, errors.Wrapf(ErrAlreadyValid, "piece %d", i)
	}
}

// CalculateAmountOfBytes returns min(BlockBytes, piece_length(i) - begin).
func (s *Status) CalculateAmountOfBytes(i int, begin int64) int64 {
	pieceLen := s.info.PieceLengthAt(i)
	remaining := pieceLen - begin
	if remaining > p2p.BlockBytes {
		return p2p.BlockBytes
	}
	return remaining
}

// UpdatePieceStatus is the post-Piece-message hook (spec §4.6):
// Missing -> Valid if amount == piece_length(i), else Partially;
// Partially -> Valid if begin+amount == piece_length(i), else Partially
// with an updated byte cursor. Increments downloaded, decrements left,
// and sets event = Completed when every piece is Valid. Caller must hold
// the write lock.
func (s *Status) UpdatePieceStatus(i int, begin, amount int64) error {
	p := &s.pieces[i]
	pieceLen := s.info.PieceLengthAt(i)

	switch p.State {
	case Missing:
		if begin != 0 {
			return errors.Wrapf(ErrInvalidTransition, "piece %d: missing piece must start at 0, got %d", i, begin)
		}
	case PartiallyDownloaded:
		if begin != p.DownloadedBytes {
			return errors.Wrapf(ErrInvalidTransition, "piece %d: begin %d != downloaded cursor %d", i, begin, p.DownloadedBytes)
		}
	case ValidAndAvailable:
		return errors.Wrapf(ErrAlreadyValid, "piece %d", i)
	}

	newDownloaded := begin + amount
	if newDownloaded == pieceLen {
		p.State = ValidAndAvailable
		p.Requested = false
		p.DownloadedBytes = 0
		s.available.Set(uint(i))
	} else {
		p.State = PartiallyDownloaded
		p.DownloadedBytes = newDownloaded
		p.Requested = false
	}

	s.downloaded += amount
	s.left -= amount

	if s.isCompleteLocked() {
		s.event = Completed
	}

	return nil
}

// ResetPiece erases a piece back to Missing{requested:false}, used when
// verify_piece detects a hash mismatch (spec §3 invariant b).
func (s *Status) ResetPiece(i int) {
	s.pieces[i] = Piece{State: Missing}
	s.available.Clear(uint(i))
}

// SetAllPiecesAsNotRequested clears every requested flag; invoked when a
// peer connection ends abnormally so other workers can re-acquire those
// pieces (spec §4.6).
func (s *Status) SetAllPiecesAsNotRequested() {
	s.Lock()
	defer s.Unlock()
	for i := range s.pieces {
		s.pieces[i].Requested = false
	}
}

// AddUploaded increments the uploaded counter (spec §4.8 Request handling).
func (s *Status) AddUploaded(amount int64) {
	s.Lock()
	defer s.Unlock()
	s.uploaded += amount
}

// SetEvent forces the lifecycle event (for example to Stopped). Nothing in
// this module calls it; UpdatePieceStatus sets Completed on its own.
func (s *Status) SetEvent(e Event) {
	s.Lock()
	defer s.Unlock()
	s.event = e
}
