// Package wire implements the byte-exact, zero-copy framing used on the
// mesh's shared L2 segment: a fixed 16-byte header (destination, source,
// protocol tag, kind, subkind) followed by a kind-specific body.
//
// Parsing borrows the input slice — none of the fixed-width fields are
// copied out of place except into small value types (mac.Addr, uint32,
// uint64); a Data body's payload is returned as a sub-slice of the input.
package wire

import (
	"encoding/binary"
	"fmt"
)

// ProtoTag is the fixed 2-byte protocol tag carried by every message.
// The codec is length-driven: an unexpected tag value is not a parse
// error, it is simply reported back to the caller via Header.Tag.
var ProtoTag = [2]byte{0x30, 0x30}

// Packet kinds.
const (
	KindControl uint8 = 0
	KindData    uint8 = 1
)

// Control subkinds.
const (
	SubkindHeartbeat      uint8 = 0
	SubkindHeartbeatReply uint8 = 1
)

// Data subkinds.
const (
	SubkindUpstream   uint8 = 0
	SubkindDownstream uint8 = 1
)

// HeaderLen is the size of the fixed envelope preceding the body.
const HeaderLen = 16

// ParseError reports that a field's slice fell outside the buffer.
type ParseError struct {
	Expected int
	Actual   int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: buffer too short: expected at least %d bytes, got %d", e.Expected, e.Actual)
}

func bufferTooShort(b []byte, expected int) error {
	return &ParseError{Expected: expected, Actual: len(b)}
}

func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getU32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }
