package validation

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

// HexHashSize is the length of a hex encoded SHA-256 code hash.
const HexHashSize = 64

// ReplyMagic starts every routing marker.
var ReplyMagic = []byte("REPLY01")

// RoutingMarkerSize is magic(7) || u64_be(sub_msg_id) || hex code hash.
const RoutingMarkerSize = 7 + 8 + HexHashSize

// IDSegment is one piece of a reply id or routing suffix: a RoutingMarker
// or the final NumericID.
type IDSegment interface {
	idSegment()
}

// RoutingMarker records one sub-message hop of a reply. CodeHash is the hex
// code hash of the contract that should receive the reply.
type RoutingMarker struct {
	SubMsgID uint64
	CodeHash [HexHashSize]byte
}

// NumericID is the contract-visible reply id.
type NumericID uint64

func (RoutingMarker) idSegment() {}
func (NumericID) idSegment()     {}

// Bytes encodes the marker to its wire form.
func (m RoutingMarker) Bytes() []byte {
	out := make([]byte, 0, RoutingMarkerSize)
	out = append(out, ReplyMagic...)
	out = binary.BigEndian.AppendUint64(out, m.SubMsgID)
	out = append(out, m.CodeHash[:]...)
	return out
}

// splitRoutingMarkers consumes routing markers from the front of b. A
// marker that starts with the magic but is truncated is an error.
func splitRoutingMarkers(b []byte) ([]RoutingMarker, []byte, error) {
	var markers []RoutingMarker
	for bytes.HasPrefix(b, ReplyMagic) {
		if len(b) < RoutingMarkerSize {
			return nil, nil, fmt.Errorf("%w: truncated routing marker", ErrParse)
		}
		b = b[len(ReplyMagic):]

		var m RoutingMarker
		m.SubMsgID = binary.BigEndian.Uint64(b[:8])
		copy(m.CodeHash[:], b[8:8+HexHashSize])
		markers = append(markers, m)

		b = b[8+HexHashSize:]
	}
	return markers, b, nil
}

// ParseIDSegments walks b as zero or more routing markers followed by an
// ASCII decimal id. The last segment is always a NumericID.
func ParseIDSegments(b []byte) ([]IDSegment, error) {
	markers, rest, err := splitRoutingMarkers(b)
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseUint(string(rest), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: reply id is not a decimal number", ErrParse)
	}

	segments := make([]IDSegment, 0, len(markers)+1)
	for _, m := range markers {
		segments = append(segments, m)
	}
	return append(segments, NumericID(id)), nil
}

// ParseReplyID splits the decrypted id of an encrypted reply:
//
//	hex_code_hash(64) || RoutingMarker* || decimal id
//
// dataForValidation is everything before the decimal id, which is
// 64 + N*RoutingMarkerSize bytes for N markers.
func ParseReplyID(decrypted []byte) (id uint64, dataForValidation []byte, err error) {
	if len(decrypted) < HexHashSize {
		return 0, nil, fmt.Errorf("%w: reply id shorter than code hash", ErrParse)
	}

	segments, err := ParseIDSegments(decrypted[HexHashSize:])
	if err != nil {
		return 0, nil, err
	}

	dataForValidation = append([]byte{}, decrypted[:HexHashSize+(len(segments)-1)*RoutingMarkerSize]...)
	return uint64(segments[len(segments)-1].(NumericID)), dataForValidation, nil
}

// EncodeReplyID is the inverse of ParseReplyID.
func EncodeReplyID(codeHash [HexHashSize]byte, markers []RoutingMarker, id uint64) []byte {
	out := make([]byte, 0, HexHashSize+len(markers)*RoutingMarkerSize+20)
	out = append(out, codeHash[:]...)
	for _, m := range markers {
		out = append(out, m.Bytes()...)
	}
	return strconv.AppendUint(out, id, 10)
}
