// Package node wires the routing, heartbeat, forwarding, and client-cache
// packages into a single running mesh participant: a cooperative set of
// tasks reading from the wire and the local TAP, dispatching into the
// mesh core, and writing results back out.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cvsouth/vanet-mesh/aead"
	"github.com/cvsouth/vanet-mesh/clientcache"
	"github.com/cvsouth/vanet-mesh/forward"
	"github.com/cvsouth/vanet-mesh/heartbeat"
	"github.com/cvsouth/vanet-mesh/mac"
	"github.com/cvsouth/vanet-mesh/routing"
	"github.com/cvsouth/vanet-mesh/wire"
)

// WireIO is the mesh's shared-medium transport: every node on the
// segment observes every frame any node sends, addressed or not — the
// routing and forwarding logic is what actually discards frames not
// meant for this node. Implemented by package iotap.
type WireIO interface {
	// ReadFrame blocks until a frame arrives or ctx is canceled, returning
	// a slice valid until the next ReadFrame call.
	ReadFrame(ctx context.Context) ([]byte, error)
	// WriteFrame sends raw as a single frame on the wire. The frame
	// itself carries the destination MAC; WireIO does not address at the
	// transport layer beyond what the medium requires.
	WriteFrame(raw []byte) error
	Close() error
}

// TapIO is the node's local virtual Ethernet interface, bridging to the
// host's network stack. Implemented by package iotap.
type TapIO interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(raw []byte) error
	Close() error
}

// Config is the subset of a loaded node configuration the core needs,
// decoupled from the config package's YAML shape.
type Config struct {
	OurMAC          mac.Addr
	IsRSU           bool
	HelloHistory    int
	Candidates      int
	MaxHops         uint32
	HeartbeatPeriod time.Duration
}

// Node is one running mesh participant.
type Node struct {
	cfg    Config
	rt     *routing.RoutingTable
	cache  *clientcache.Cache
	plane  *forward.Plane
	beacon *heartbeat.Engine
	wireIO WireIO
	tapIO  TapIO
	logger *slog.Logger

	// sent/dropped/failed are touched concurrently by the wire-reader,
	// TAP-reader, and beacon-tick tasks, and read by Stats from any
	// goroutine; all access goes through sync/atomic.
	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New constructs a Node. cipher may be nil (encryption disabled). wireIO
// and tapIO are owned by the caller, which remains responsible for
// closing them after Run returns.
func New(cfg Config, wireIO WireIO, tapIO TapIO, cipher aead.Cipher, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt, err := routing.New(routing.Options{
		HelloHistory: cfg.HelloHistory,
		Candidates:   cfg.Candidates,
		MaxHops:      cfg.MaxHops,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("node: construct routing table: %w", err)
	}
	var cache *clientcache.Cache
	if cfg.IsRSU {
		cache = clientcache.New(0, 0)
	}
	plane := forward.New(rt, cache, cipher, cfg.OurMAC, cfg.IsRSU, logger)

	n := &Node{cfg: cfg, rt: rt, cache: cache, plane: plane, wireIO: wireIO, tapIO: tapIO, logger: logger}
	if cfg.IsRSU {
		n.beacon = heartbeat.NewEngine(rt, cfg.OurMAC, cfg.HeartbeatPeriod, logger)
	}
	return n, nil
}

// Stats is a point-in-time snapshot of the node's activity, the minimal
// internal status surface this package exposes — no HTTP endpoint or
// TUI, just a value a caller (e.g. a signal handler, or a future admin
// socket) can read and log.
type Stats struct {
	Routing routing.Stats
	Sent    uint64
	Dropped uint64
	Failed  uint64
}

// Stats snapshots the node's routing table and send/drop counters.
func (n *Node) Stats() Stats {
	return Stats{
		Routing: n.rt.Stats(),
		Sent:    n.sent.Load(),
		Dropped: n.dropped.Load(),
		Failed:  n.failed.Load(),
	}
}

func (n *Node) sendWire(to mac.Addr, raw []byte) {
	if err := n.wireIO.WriteFrame(raw); err != nil {
		n.failed.Add(1)
		n.plane.HandleSendFailure(to)
		n.logger.Warn("wire send failed", "to", to, "error", err)
		return
	}
	n.sent.Add(1)
}

func (n *Node) sendOutbound(out []routing.Outbound) {
	for _, o := range out {
		n.sendWire(o.To, o.Raw)
	}
}

func (n *Node) sendFrames(frames []forward.WireFrame) {
	for _, f := range frames {
		n.sendWire(f.To, f.Raw)
	}
}

// Run blocks, driving the wire-reader, TAP-reader, and (on an RSU) the
// heartbeat-tick task concurrently until ctx is canceled. It returns nil
// on clean cancellation.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- n.runWireReader(ctx) }()
	go func() { errCh <- n.runTapReader(ctx) }()
	if n.beacon != nil {
		go func() {
			n.beacon.Run(ctx, func(raw []byte) { n.sendWire(mac.Broadcast, raw) })
			errCh <- nil
		}()
	} else {
		errCh <- nil
	}

	var firstErr error
	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func (n *Node) runWireReader(ctx context.Context) error {
	for {
		raw, err := n.wireIO.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("node: wire read: %w", err)
		}
		n.handleWireFrame(raw)
	}
}

func (n *Node) handleWireFrame(raw []byte) {
	msg, err := wire.Parse(raw)
	if err != nil {
		n.dropped.Add(1)
		n.logger.Debug("dropped unparseable wire frame", "error", err)
		return
	}
	if msg.From == n.cfg.OurMAC {
		return
	}

	switch {
	case msg.Heartbeat != nil:
		out, err := heartbeat.Dispatch(n.rt, msg, n.cfg.OurMAC, n.cfg.IsRSU)
		if err != nil {
			n.dropped.Add(1)
			n.logger.Debug("heartbeat dispatch error", "error", err)
			return
		}
		n.sendOutbound(out)

	case msg.HeartbeatReply != nil && msg.To == n.cfg.OurMAC:
		out, err := heartbeat.Dispatch(n.rt, msg, n.cfg.OurMAC, n.cfg.IsRSU)
		if err != nil {
			n.dropped.Add(1)
			n.logger.Debug("heartbeat dispatch error", "error", err)
			return
		}
		n.sendOutbound(out)

	case msg.Upstream != nil && msg.To == n.cfg.OurMAC && n.cfg.IsRSU:
		tapPayload, frames, err := n.plane.RSUUpstream(msg)
		if err != nil {
			n.dropped.Add(1)
			n.logger.Debug("rsu upstream error", "error", err)
			return
		}
		if tapPayload != nil {
			n.writeTap(tapPayload)
		}
		n.sendFrames(frames)

	case msg.Upstream != nil && msg.To == n.cfg.OurMAC:
		wf, ok, err := n.plane.OBURelayUpstream(msg)
		if err != nil {
			n.dropped.Add(1)
			n.logger.Debug("obu relay upstream error", "error", err)
			return
		}
		if ok {
			n.sendWire(wf.To, wf.Raw)
		} else {
			n.dropped.Add(1)
		}

	case msg.Downstream != nil && !n.cfg.IsRSU:
		tapPayload, wf, shouldForward, err := n.plane.OBUDownstream(msg)
		if err != nil {
			n.dropped.Add(1)
			n.logger.Debug("obu downstream error", "error", err)
			return
		}
		if tapPayload != nil {
			n.writeTap(tapPayload)
		} else if shouldForward {
			n.sendWire(wf.To, wf.Raw)
		} else {
			n.dropped.Add(1)
		}
	}
}

func (n *Node) runTapReader(ctx context.Context) error {
	for {
		raw, err := n.tapIO.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("node: tap read: %w", err)
		}
		n.handleTapFrame(raw)
	}
}

func (n *Node) handleTapFrame(raw []byte) {
	if n.cfg.IsRSU {
		frames, err := n.plane.RSUDownstreamFromTap(raw)
		if err != nil {
			n.dropped.Add(1)
			n.logger.Debug("rsu downstream from tap error", "error", err)
			return
		}
		n.sendFrames(frames)
		return
	}
	wf, ok, err := n.plane.OBUUpstreamFromTap(raw)
	if err != nil {
		n.dropped.Add(1)
		n.logger.Debug("obu upstream from tap error", "error", err)
		return
	}
	if !ok {
		n.dropped.Add(1)
		return
	}
	n.sendWire(wf.To, wf.Raw)
}

func (n *Node) writeTap(payload []byte) {
	if err := n.tapIO.WriteFrame(payload); err != nil {
		n.dropped.Add(1)
		n.logger.Warn("tap write failed", "error", err)
	}
}
