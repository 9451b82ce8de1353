package bencode

import (
	"io"

	upstream "github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
)

// UnmarshalStruct decodes bencoded data from r into v using struct tags
// (`bencode:"..."`), the same idiom the teacher repo used for
// bencodeInfo/bencodeTorrent. Used by trackerclient.parseResponse for the
// announce response's scalar fields; use Decode/Encode directly when
// canonical key ordering matters (info_hash computation, tracker-server
// responses, and the response's own union-typed peers field).
func UnmarshalStruct(r io.Reader, v interface{}) error {
	if err := upstream.Unmarshal(r, v); err != nil {
		return errors.Wrap(err, "bencode: struct unmarshal")
	}
	return nil
}
