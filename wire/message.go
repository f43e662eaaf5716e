package wire

import (
	"fmt"

	"github.com/cvsouth/vanet-mesh/mac"
)

// Header holds the fixed 16-byte envelope common to every message.
type Header struct {
	To      mac.Addr
	From    mac.Addr
	Tag     [2]byte
	Kind    uint8
	Subkind uint8
}

// Message is a parsed wire frame, tagged by kind/subkind. Exactly one of
// Heartbeat, HeartbeatReply, Upstream, or Downstream is non-nil, selected
// by Header.Kind/Header.Subkind. A Data body's Payload field is a
// sub-slice of the buffer originally passed to Parse.
type Message struct {
	Header

	Heartbeat      *HeartbeatBody
	HeartbeatReply *HeartbeatReplyBody
	Upstream       *DataUpstreamBody
	Downstream     *DataDownstreamBody
}

// Parse decodes a wire frame from b. The returned Message borrows b for
// any Data payload; the caller must not reuse b until done with the
// Message. Parse is length-driven: a mismatched ProtoTag is not a parse
// failure. It fails with a BufferTooShort (via ParseError) when a field
// falls outside b, and with a plain error for an unknown kind/subkind.
func Parse(b []byte) (Message, error) {
	if len(b) < HeaderLen {
		return Message{}, bufferTooShort(b, HeaderLen)
	}
	to, err := mac.Parse(b[0:6])
	if err != nil {
		return Message{}, err
	}
	from, err := mac.Parse(b[6:12])
	if err != nil {
		return Message{}, err
	}
	hdr := Header{
		To:      to,
		From:    from,
		Tag:     [2]byte{b[12], b[13]},
		Kind:    b[14],
		Subkind: b[15],
	}
	body := b[HeaderLen:]

	msg := Message{Header: hdr}
	switch {
	case hdr.Kind == KindControl && hdr.Subkind == SubkindHeartbeat:
		hb, err := parseHeartbeatBody(body)
		if err != nil {
			return Message{}, err
		}
		msg.Heartbeat = &hb
	case hdr.Kind == KindControl && hdr.Subkind == SubkindHeartbeatReply:
		hbr, err := parseHeartbeatReplyBody(body)
		if err != nil {
			return Message{}, err
		}
		msg.HeartbeatReply = &hbr
	case hdr.Kind == KindData && hdr.Subkind == SubkindUpstream:
		up, err := parseDataUpstreamBody(body)
		if err != nil {
			return Message{}, err
		}
		msg.Upstream = &up
	case hdr.Kind == KindData && hdr.Subkind == SubkindDownstream:
		down, err := parseDataDownstreamBody(body)
		if err != nil {
			return Message{}, err
		}
		msg.Downstream = &down
	default:
		return Message{}, fmt.Errorf("wire: unknown kind/subkind %d/%d", hdr.Kind, hdr.Subkind)
	}
	return msg, nil
}

func writeHeader(out []byte, to, from mac.Addr, kind, subkind uint8) {
	copy(out[0:6], to[:])
	copy(out[6:12], from[:])
	out[12], out[13] = ProtoTag[0], ProtoTag[1]
	out[14] = kind
	out[15] = subkind
}
