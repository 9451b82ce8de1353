// Package metainfo reads .torrent files: bencoded dictionaries describing
// one torrent's tracker URL(s) and piece layout. It generalizes the
// teacher's torrentFile/bencodeTorrent pair (torrent/torrent.go) to support
// multi-file metainfo and an announce-list, while keeping the same
// info_hash derivation (SHA-1 of the canonical bencoded info sub-dict).
package metainfo

import (
	"crypto/sha1"
	"io"

	"github.com/pkg/errors"

	"github.com/gorent/gorent/bencode"
)

// ErrNotFound is wrapped with the missing section name.
var ErrNotFound = errors.New("metainfo: required field missing")

// ErrFormat is wrapped with the offending section name.
var ErrFormat = errors.New("metainfo: field has wrong type or shape")

const hashLen = 20

// FileEntry is one entry of a multi-file torrent's info.files list.
type FileEntry struct {
	Length int64
	Path   []string
}

// Info is the decoded info sub-dictionary.
type Info struct {
	PieceLength int64
	Pieces      []byte // concatenation of 20-byte SHA-1 digests, one per piece
	Name        string
	Length      int64       // single-file torrents only; 0 for multi-file
	Files       []FileEntry // multi-file torrents only; nil for single-file
}

// IsMultiFile reports whether this info dictionary describes a multi-file
// torrent (info.files present) rather than a single-file torrent
// (info.length present).
func (i Info) IsMultiFile() bool {
	return i.Files != nil
}

// TotalLength returns total_length per spec §3: Length for single-file
// torrents, the sum of all file lengths for multi-file torrents.
func (i Info) TotalLength() int64 {
	if i.IsMultiFile() {
		var total int64
		for _, f := range i.Files {
			total += f.Length
		}
		return total
	}
	return i.Length
}

// PieceCount returns ceil(total_length / piece_length).
func (i Info) PieceCount() int {
	total := i.TotalLength()
	if i.PieceLength == 0 {
		return 0
	}
	count := total / i.PieceLength
	if total%i.PieceLength != 0 {
		count++
	}
	return int(count)
}

// PieceLengthAt returns the length of piece index, accounting for a
// shorter final piece (spec §3).
func (i Info) PieceLengthAt(index int) int64 {
	count := i.PieceCount()
	if index < 0 || index >= count {
		return 0
	}
	if index == count-1 {
		return i.TotalLength() - int64(count-1)*i.PieceLength
	}
	return i.PieceLength
}

// ExpectedHash returns the expected 20-byte SHA-1 digest for piece index.
func (i Info) ExpectedHash(index int) ([hashLen]byte, error) {
	var h [hashLen]byte
	start := index * hashLen
	if start < 0 || start+hashLen > len(i.Pieces) {
		return h, errors.Errorf("metainfo: piece index %d out of range", index)
	}
	copy(h[:], i.Pieces[start:start+hashLen])
	return h, nil
}

// Metainfo is a fully parsed .torrent file.
type Metainfo struct {
	Announce     string
	AnnounceList [][]string // BEP 12 tiers; not used for tracker fallback (out of scope)
	Info         Info
	InfoHash     [20]byte

	raw *bencode.Dict // the original decoded top-level dict, kept for Dump
}

// Dump re-encodes the top-level dictionary this Metainfo was decoded from.
// Because the codec's Encode always emits keys in ascending order (§3, §9
// open question), this round-trips bytewise for any .torrent file whose own
// encoder already produced canonical key ordering.
func (m *Metainfo) Dump() []byte {
	return bencode.Encode(m.raw)
}

// Read decodes a .torrent file from r.
func Read(r io.Reader) (*Metainfo, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: read")
	}
	top, rest, err := bencode.Decode(raw)
	if err != nil {
		return nil, errors.Wrap(ErrFormat, err.Error())
	}
	_ = rest
	topDict, ok := top.(*bencode.Dict)
	if !ok {
		return nil, errors.Wrap(ErrFormat, "top-level value is not a dictionary")
	}

	announceVal, ok := topDict.Get("announce")
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "announce")
	}
	announceStr, ok := announceVal.(bencode.ByteString)
	if !ok {
		return nil, errors.Wrap(ErrFormat, "announce")
	}

	var announceList [][]string
	if alVal, ok := topDict.Get("announce-list"); ok {
		outer, ok := alVal.(bencode.List)
		if !ok {
			return nil, errors.Wrap(ErrFormat, "announce-list")
		}
		for _, tierVal := range outer {
			tierList, ok := tierVal.(bencode.List)
			if !ok {
				return nil, errors.Wrap(ErrFormat, "announce-list tier")
			}
			var tier []string
			for _, urlVal := range tierList {
				s, ok := urlVal.(bencode.ByteString)
				if !ok {
					return nil, errors.Wrap(ErrFormat, "announce-list url")
				}
				tier = append(tier, string(s))
			}
			announceList = append(announceList, tier)
		}
	}

	infoVal, ok := topDict.Get("info")
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "info")
	}
	infoDict, ok := infoVal.(*bencode.Dict)
	if !ok {
		return nil, errors.Wrap(ErrFormat, "info")
	}

	info, err := parseInfo(infoDict)
	if err != nil {
		return nil, err
	}

	infoHash := sha1.Sum(bencode.Encode(infoDict))

	return &Metainfo{
		Announce:     string(announceStr),
		AnnounceList: announceList,
		Info:         info,
		InfoHash:     infoHash,
		raw:          topDict,
	}, nil
}

func parseInfo(d *bencode.Dict) (Info, error) {
	var info Info

	plVal, ok := d.Get("piece length")
	if !ok {
		return info, errors.Wrap(ErrNotFound, "info.piece length")
	}
	pl, ok := plVal.(bencode.Integer)
	if !ok {
		return info, errors.Wrap(ErrFormat, "info.piece length")
	}
	info.PieceLength = int64(pl)

	piecesVal, ok := d.Get("pieces")
	if !ok {
		return info, errors.Wrap(ErrNotFound, "info.pieces")
	}
	pieces, ok := piecesVal.(bencode.ByteString)
	if !ok {
		return info, errors.Wrap(ErrFormat, "info.pieces")
	}
	if len(pieces)%hashLen != 0 {
		return info, errors.Wrapf(ErrFormat, "info.pieces length %d not a multiple of %d", len(pieces), hashLen)
	}
	info.Pieces = []byte(pieces)

	nameVal, ok := d.Get("name")
	if !ok {
		return info, errors.Wrap(ErrNotFound, "info.name")
	}
	name, ok := nameVal.(bencode.ByteString)
	if !ok {
		return info, errors.Wrap(ErrFormat, "info.name")
	}
	info.Name = string(name)

	lengthVal, hasLength := d.Get("length")
	filesVal, hasFiles := d.Get("files")

	switch {
	case hasFiles:
		filesList, ok := filesVal.(bencode.List)
		if !ok {
			return info, errors.Wrap(ErrFormat, "info.files")
		}
		for _, fv := range filesList {
			fd, ok := fv.(*bencode.Dict)
			if !ok {
				return info, errors.Wrap(ErrFormat, "info.files entry")
			}
			entry, err := parseFileEntry(fd)
			if err != nil {
				return info, err
			}
			info.Files = append(info.Files, entry)
		}
	case hasLength:
		length, ok := lengthVal.(bencode.Integer)
		if !ok {
			return info, errors.Wrap(ErrFormat, "info.length")
		}
		info.Length = int64(length)
	default:
		return info, errors.Wrap(ErrNotFound, "info.length or info.files")
	}

	return info, nil
}

func parseFileEntry(d *bencode.Dict) (FileEntry, error) {
	var entry FileEntry

	lengthVal, ok := d.Get("length")
	if !ok {
		return entry, errors.Wrap(ErrNotFound, "info.files[].length")
	}
	length, ok := lengthVal.(bencode.Integer)
	if !ok {
		return entry, errors.Wrap(ErrFormat, "info.files[].length")
	}
	entry.Length = int64(length)

	pathVal, ok := d.Get("path")
	if !ok {
		return entry, errors.Wrap(ErrNotFound, "info.files[].path")
	}
	pathList, ok := pathVal.(bencode.List)
	if !ok {
		return entry, errors.Wrap(ErrFormat, "info.files[].path")
	}
	for _, segVal := range pathList {
		seg, ok := segVal.(bencode.ByteString)
		if !ok {
			return entry, errors.Wrap(ErrFormat, "info.files[].path segment")
		}
		entry.Path = append(entry.Path, string(seg))
	}

	return entry, nil
}
