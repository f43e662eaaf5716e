package node

import (
	"context"
	"testing"
	"time"

	"github.com/cvsouth/vanet-mesh/iotap"
	"github.com/cvsouth/vanet-mesh/mac"
)

func macN(n byte) mac.Addr {
	var a mac.Addr
	for i := range a {
		a[i] = n
	}
	return a
}

func newNode(t *testing.T, cfg Config, medium *iotap.SimMedium, tap *iotap.SimTap) *Node {
	t.Helper()
	if cfg.HelloHistory == 0 {
		cfg.HelloHistory = 8
	}
	if cfg.Candidates == 0 {
		cfg.Candidates = 3
	}
	n, err := New(cfg, medium.Attach(16), tap, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestRSUBeaconReachesOBUAndPopulatesRoute(t *testing.T) {
	medium := iotap.NewSimMedium()
	rsu, obu := macN(0x01), macN(0x02)

	rsuNode := newNode(t, Config{OurMAC: rsu, IsRSU: true, HeartbeatPeriod: 20 * time.Millisecond}, medium, iotap.NewSimTap(4))
	obuNode := newNode(t, Config{OurMAC: obu}, medium, iotap.NewSimTap(4))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go rsuNode.Run(ctx)
	go obuNode.Run(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if stats := obuNode.Stats(); stats.Routing.CachedPrimary != nil && *stats.Routing.CachedPrimary == rsu {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("obu never learned a route to the rsu via beacons")
}

func TestOBUTapFrameForwardsUpstreamAcrossMesh(t *testing.T) {
	medium := iotap.NewSimMedium()
	rsu, obu := macN(0x01), macN(0x02)
	rsuTap := iotap.NewSimTap(4)
	obuTap := iotap.NewSimTap(4)

	rsuNode := newNode(t, Config{OurMAC: rsu, IsRSU: true, HeartbeatPeriod: 20 * time.Millisecond}, medium, rsuTap)
	obuNode := newNode(t, Config{OurMAC: obu}, medium, obuTap)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go rsuNode.Run(ctx)
	go obuNode.Run(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if stats := obuNode.Stats(); stats.Routing.CachedPrimary != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	inner := make([]byte, 0, 12+5)
	inner = append(inner, mac.Broadcast[:]...)
	inner = append(inner, obu[:]...)
	inner = append(inner, []byte("hello")...)
	obuTap.Inject(inner)

	select {
	case frame := <-rsuTap.Sent():
		if string(frame[12:]) != "hello" {
			t.Fatalf("rsu tap payload = %q, want hello suffix", frame)
		}
	case <-time.After(800 * time.Millisecond):
		t.Fatal("timed out waiting for rsu to receive the forwarded frame on its tap")
	}
}
