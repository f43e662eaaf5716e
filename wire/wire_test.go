package wire

import (
	"bytes"
	"testing"

	"github.com/cvsouth/vanet-mesh/mac"
)

func macN(n byte) mac.Addr {
	var a mac.Addr
	for i := range a {
		a[i] = n
	}
	return a
}

func TestHeartbeatRoundTrip(t *testing.T) {
	to, from := mac.Broadcast, macN(0x01)
	body := HeartbeatBody{DurationMillis: 1234, ID: 7, Hops: 2, Source: macN(0xAA)}

	raw := SerializeHeartbeat(to, from, body)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Kind != KindControl || msg.Subkind != SubkindHeartbeat {
		t.Fatalf("kind/subkind = %d/%d", msg.Kind, msg.Subkind)
	}
	if msg.To != to || msg.From != from {
		t.Fatalf("to/from mismatch")
	}
	if msg.Heartbeat == nil {
		t.Fatal("Heartbeat body missing")
	}
	// Serialization increments hops by one on the wire.
	want := body
	want.Hops = body.Hops + 1
	if *msg.Heartbeat != want {
		t.Fatalf("Heartbeat = %+v, want %+v", *msg.Heartbeat, want)
	}
}

func TestHeartbeatReplyRoundTrip(t *testing.T) {
	to, from := macN(0x02), macN(0x01)
	body := HeartbeatReplyBody{
		HeartbeatBody: HeartbeatBody{DurationMillis: 99, ID: 3, Hops: 5, Source: macN(0xAA)},
		Sender:        macN(0xBB),
	}
	raw := SerializeHeartbeatReply(to, from, body)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.HeartbeatReply == nil {
		t.Fatal("HeartbeatReply body missing")
	}
	// Unlike Heartbeat, a reply's hop count is never incremented by the codec.
	if *msg.HeartbeatReply != body {
		t.Fatalf("HeartbeatReply = %+v, want %+v", *msg.HeartbeatReply, body)
	}
}

func TestDataUpstreamRoundTrip(t *testing.T) {
	to, from := macN(0x02), macN(0x01)
	body := DataUpstreamBody{Origin: macN(0x0A), Payload: []byte("hello mesh")}
	raw := SerializeUpstream(to, from, body)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Upstream == nil {
		t.Fatal("Upstream body missing")
	}
	if msg.Upstream.Origin != body.Origin || !bytes.Equal(msg.Upstream.Payload, body.Payload) {
		t.Fatalf("Upstream = %+v, want %+v", *msg.Upstream, body)
	}
}

func TestDataDownstreamRoundTrip(t *testing.T) {
	to, from := macN(0x02), macN(0x01)
	body := DataDownstreamBody{Origin: macN(0x0A), Destination: macN(0x0B), Payload: []byte("payload")}
	raw := SerializeDownstream(to, from, body)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Downstream == nil {
		t.Fatal("Downstream body missing")
	}
	if msg.Downstream.Origin != body.Origin || msg.Downstream.Destination != body.Destination ||
		!bytes.Equal(msg.Downstream.Payload, body.Payload) {
		t.Fatalf("Downstream = %+v, want %+v", *msg.Downstream, body)
	}
}

func TestParseBufferTooShort(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	var pe *ParseError
	if err == nil {
		t.Fatal("expected error")
	}
	if !asParseError(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Expected != HeaderLen || pe.Actual != 10 {
		t.Fatalf("ParseError = %+v", pe)
	}
}

func TestParseTruncatedHeartbeatBody(t *testing.T) {
	raw := SerializeHeartbeat(macN(0x02), macN(0x01), HeartbeatBody{Source: macN(0xAA)})
	_, err := Parse(raw[:HeaderLen+10])
	if err == nil {
		t.Fatal("expected BufferTooShort for truncated heartbeat body")
	}
}

func TestParseIgnoresMismatchedProtoTag(t *testing.T) {
	raw := SerializeHeartbeat(macN(0x02), macN(0x01), HeartbeatBody{Source: macN(0xAA)})
	raw[12], raw[13] = 0x00, 0x00
	if _, err := Parse(raw); err != nil {
		t.Fatalf("a mismatched proto tag must not be a parse error: %v", err)
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func FuzzParse(f *testing.F) {
	f.Add(SerializeHeartbeat(macN(0x02), macN(0x01), HeartbeatBody{Source: macN(0xAA)}))
	f.Add(SerializeUpstream(macN(0x02), macN(0x01), DataUpstreamBody{Origin: macN(0x0A), Payload: []byte("x")}))
	f.Fuzz(func(t *testing.T, b []byte) {
		// Parse must never panic on arbitrary input.
		_, _ = Parse(b)
	})
}
