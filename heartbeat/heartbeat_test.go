package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cvsouth/vanet-mesh/mac"
	"github.com/cvsouth/vanet-mesh/routing"
	"github.com/cvsouth/vanet-mesh/wire"
)

func macN(n byte) mac.Addr {
	var a mac.Addr
	for i := range a {
		a[i] = n
	}
	return a
}

func newTestTable(t *testing.T) *routing.RoutingTable {
	t.Helper()
	rt, err := routing.New(routing.Options{HelloHistory: 8, Candidates: 3})
	if err != nil {
		t.Fatalf("routing.New: %v", err)
	}
	return rt
}

func TestEngineNextIncrementsCounterAndSeedsTable(t *testing.T) {
	rsu := macN(0x01)
	rt := newTestTable(t)
	e := NewEngine(rt, rsu, time.Second, nil)

	raw0 := e.Next()
	msg0, err := wire.Parse(raw0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg0.Heartbeat == nil || msg0.Heartbeat.ID != 0 {
		t.Fatalf("first beacon id = %+v, want 0", msg0.Heartbeat)
	}
	if msg0.To != mac.Broadcast || msg0.From != rsu {
		t.Fatalf("first beacon to/from = %v/%v, want broadcast/%v", msg0.To, msg0.From, rsu)
	}

	raw1 := e.Next()
	msg1, err := wire.Parse(raw1)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg1.Heartbeat.ID != 1 {
		t.Fatalf("second beacon id = %d, want 1", msg1.Heartbeat.ID)
	}

	// A reply tracing id=0 back to the RSU must resolve: Next seeded the
	// table entry so HandleHeartbeatReply doesn't reject it as unknown.
	neighbor := macN(0x02)
	replyRaw := wire.SerializeHeartbeatReply(rsu, neighbor, wire.HeartbeatReplyBody{
		HeartbeatBody: wire.HeartbeatBody{ID: 0, Hops: 1, Source: rsu},
		Sender:        neighbor,
	})
	replyMsg, err := wire.Parse(replyRaw)
	if err != nil {
		t.Fatalf("Parse reply: %v", err)
	}
	if _, err := rt.HandleHeartbeatReply(replyMsg, rsu); err != nil {
		t.Fatalf("HandleHeartbeatReply on seeded entry: %v", err)
	}
}

func TestEngineRunStopsOnContextCancel(t *testing.T) {
	rsu := macN(0x01)
	rt := newTestTable(t)
	e := NewEngine(rt, rsu, 2*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sent := make(chan []byte, 8)
	done := make(chan struct{})
	go func() {
		e.Run(ctx, func(raw []byte) { sent <- raw })
		close(done)
	}()

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("Run never invoked send")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestDispatchHeartbeatForwardsToTable(t *testing.T) {
	rsu, obu := macN(0x01), macN(0x02)
	rt := newTestTable(t)

	raw := wire.SerializeHeartbeat(mac.Broadcast, rsu, wire.HeartbeatBody{ID: 1, Hops: 0, Source: rsu})
	msg, err := wire.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := Dispatch(rt, msg, obu, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

func TestDispatchReplyGatedForRSU(t *testing.T) {
	rsu, other, observer := macN(0x01), macN(0x02), macN(0x03)
	rt := newTestTable(t)

	// A reply tracing back to a source that is not this RSU's own MAC:
	// the RSU gate silently drops it, no error.
	raw := wire.SerializeHeartbeatReply(rsu, observer, wire.HeartbeatReplyBody{
		HeartbeatBody: wire.HeartbeatBody{ID: 1, Hops: 1, Source: other},
		Sender:        observer,
	})
	msg, err := wire.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := Dispatch(rt, msg, rsu, true)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out != nil {
		t.Fatalf("gated reply produced output: %+v", out)
	}
}

func TestDispatchReplyUngatedForOBU(t *testing.T) {
	rsu, obu, downstream := macN(0x01), macN(0x02), macN(0x03)
	rt := newTestTable(t)

	hbRaw := wire.SerializeHeartbeat(mac.Broadcast, rsu, wire.HeartbeatBody{ID: 1, Hops: 0, Source: rsu})
	hbMsg, err := wire.Parse(hbRaw)
	if err != nil {
		t.Fatalf("Parse heartbeat: %v", err)
	}
	if _, err := Dispatch(rt, hbMsg, obu, false); err != nil {
		t.Fatalf("Dispatch heartbeat: %v", err)
	}

	replyRaw := wire.SerializeHeartbeatReply(obu, downstream, wire.HeartbeatReplyBody{
		HeartbeatBody: wire.HeartbeatBody{ID: 1, Hops: 1, Source: rsu},
		Sender:        downstream,
	})
	replyMsg, err := wire.Parse(replyRaw)
	if err != nil {
		t.Fatalf("Parse reply: %v", err)
	}
	out, err := Dispatch(rt, replyMsg, obu, false)
	if err != nil {
		t.Fatalf("Dispatch reply: %v", err)
	}
	if len(out) != 1 || out[0].To != rsu {
		t.Fatalf("out = %+v, want forward to %v", out, rsu)
	}
}

func TestDispatchPropagatesLoopError(t *testing.T) {
	rsu, obu := macN(0x01), macN(0x02)
	rt := newTestTable(t)

	hbRaw := wire.SerializeHeartbeat(mac.Broadcast, rsu, wire.HeartbeatBody{ID: 1, Hops: 0, Source: rsu})
	hbMsg, _ := wire.Parse(hbRaw)
	if _, err := Dispatch(rt, hbMsg, obu, false); err != nil {
		t.Fatalf("Dispatch heartbeat: %v", err)
	}

	// Reply whose sender equals our recorded next-upstream bounces.
	bounceRaw := wire.SerializeHeartbeatReply(obu, rsu, wire.HeartbeatReplyBody{
		HeartbeatBody: wire.HeartbeatBody{ID: 1, Hops: 0, Source: rsu},
		Sender:        rsu,
	})
	bounceMsg, _ := wire.Parse(bounceRaw)
	if _, err := Dispatch(rt, bounceMsg, obu, false); !errors.Is(err, routing.ErrLoopDetected) {
		t.Fatalf("err = %v, want ErrLoopDetected", err)
	}
}
