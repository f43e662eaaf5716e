package wire

import (
	"encoding/binary"

	"github.com/cvsouth/vanet-mesh/mac"
)

// HeartbeatBodyLen is the fixed size of a Heartbeat body on the wire:
// duration(16) + id(4) + hops(4) + source(6).
const HeartbeatBodyLen = 30

// HeartbeatReplyBodyLen is HeartbeatBodyLen plus a 6-byte sender.
const HeartbeatReplyBodyLen = HeartbeatBodyLen + 6

// HeartbeatBody is the RSU beacon body. DurationMillis is the
// milliseconds elapsed since RSU boot; the wire field is a 16-byte
// big-endian integer, but no mesh runs long enough to exceed a uint64 of
// milliseconds, so the low 8 bytes carry the value and the high 8 bytes
// are always zero both on the wire and in memory.
type HeartbeatBody struct {
	DurationMillis uint64
	ID             uint32
	Hops           uint32
	Source         mac.Addr
}

// HeartbeatReplyBody is a HeartbeatBody plus the MAC of the node that
// first observed the matching heartbeat and originated this reply.
type HeartbeatReplyBody struct {
	HeartbeatBody
	Sender mac.Addr
}

func parseHeartbeatBody(b []byte) (HeartbeatBody, error) {
	if len(b) < HeartbeatBodyLen {
		return HeartbeatBody{}, bufferTooShort(b, HeartbeatBodyLen)
	}
	source, err := mac.Parse(b[24:30])
	if err != nil {
		return HeartbeatBody{}, err
	}
	return HeartbeatBody{
		DurationMillis: binary.BigEndian.Uint64(b[8:16]),
		ID:             getU32(b[16:20]),
		Hops:           getU32(b[20:24]),
		Source:         source,
	}, nil
}

func parseHeartbeatReplyBody(b []byte) (HeartbeatReplyBody, error) {
	if len(b) < HeartbeatReplyBodyLen {
		return HeartbeatReplyBody{}, bufferTooShort(b, HeartbeatReplyBodyLen)
	}
	hb, err := parseHeartbeatBody(b[:HeartbeatBodyLen])
	if err != nil {
		return HeartbeatReplyBody{}, err
	}
	sender, err := mac.Parse(b[30:36])
	if err != nil {
		return HeartbeatReplyBody{}, err
	}
	return HeartbeatReplyBody{HeartbeatBody: hb, Sender: sender}, nil
}

// encodeHeartbeatBody writes the fixed 30-byte body, using hopsOnWire
// rather than b.Hops. Every Heartbeat serialization increments the hop
// count by one — that is a property of serialization, not of the stored
// value, so callers pass b.Hops+1 explicitly via SerializeHeartbeat.
func encodeHeartbeatBody(out []byte, b HeartbeatBody, hopsOnWire uint32) {
	binary.BigEndian.PutUint64(out[8:16], b.DurationMillis)
	putU32(out[16:20], b.ID)
	putU32(out[20:24], hopsOnWire)
	copy(out[24:30], b.Source[:])
}

// SerializeHeartbeat encodes a Heartbeat message addressed to `to` from
// `from`, writing b.Hops+1 on the wire (the forwarding step). This is the
// only transformation the codec ever applies: bodies are otherwise
// reproduced byte-exact.
func SerializeHeartbeat(to, from mac.Addr, b HeartbeatBody) []byte {
	out := make([]byte, HeaderLen+HeartbeatBodyLen)
	writeHeader(out, to, from, KindControl, SubkindHeartbeat)
	encodeHeartbeatBody(out[HeaderLen:], b, b.Hops+1)
	return out
}

// SerializeHeartbeatReply encodes a HeartbeatReply message. The embedded
// heartbeat body's hop count is carried through unchanged: only a fresh
// Heartbeat rebroadcast increments hops, never a reply relay.
func SerializeHeartbeatReply(to, from mac.Addr, b HeartbeatReplyBody) []byte {
	out := make([]byte, HeaderLen+HeartbeatReplyBodyLen)
	writeHeader(out, to, from, KindControl, SubkindHeartbeatReply)
	encodeHeartbeatBody(out[HeaderLen:HeaderLen+HeartbeatBodyLen], b.HeartbeatBody, b.Hops)
	copy(out[HeaderLen+HeartbeatBodyLen:], b.Sender[:])
	return out
}
