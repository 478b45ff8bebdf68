/*
Package ingest reads the raw source files: the sales CSV export and the
master/enrollment workbook.

PURPOSE (decode.go):
  Sales exports arrive in whichever encoding the upstream system felt like
  that day. DecodeText normalizes any of the three encodings seen in the
  wild into UTF-8. Valid UTF-8 passes through; otherwise both Shift-JIS and
  EUC-JP candidates are decoded and scored, because EUC-JP bytes frequently
  decode "successfully" under Shift-JIS as a run of half-width katakana.
  A byte-order mark is stripped.

SEE ALSO:
  - csv.go: Consumes the decoded text
*/
package ingest

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText converts raw file bytes to UTF-8 using the fallback chain
// UTF-8, Shift-JIS, EUC-JP. Returns an error only when no candidate
// decodes cleanly.
func DecodeText(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw, nil
	}

	var best []byte
	bestScore := -1
	for _, enc := range []encoding.Encoding{japanese.ShiftJIS, japanese.EUCJP} {
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil || !utf8.Valid(decoded) {
			continue
		}
		score, ok := decodeScore(decoded)
		if !ok {
			continue
		}
		if score > bestScore {
			best = decoded
			bestScore = score
		}
	}
	if best == nil {
		return nil, fmt.Errorf("file is not UTF-8, Shift-JIS, or EUC-JP")
	}
	return best, nil
}

// decodeScore rates a decode candidate. Replacement runes disqualify it;
// half-width katakana count against it, since a mis-decoded EUC-JP file
// shows up as long katakana runs.
func decodeScore(decoded []byte) (int, bool) {
	score := 0
	for _, r := range string(decoded) {
		switch {
		case r == utf8.RuneError:
			return 0, false
		case r >= 0xFF61 && r <= 0xFF9F: // half-width katakana block
			score--
		}
	}
	return score, true
}
