// Package heartbeat implements the RSU's periodic beacon emitter and the
// shared Heartbeat/HeartbeatReply dispatch both roles use to feed the
// routing table from parsed wire messages.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/cvsouth/vanet-mesh/mac"
	"github.com/cvsouth/vanet-mesh/routing"
	"github.com/cvsouth/vanet-mesh/wire"
)

// Engine emits periodic RSU beacons, a monotonically increasing sequence
// counter starting at 0 and a duration measured from the engine's own
// construction (RSU boot).
type Engine struct {
	rt       *routing.RoutingTable
	ourMAC   mac.Addr
	interval time.Duration
	boot     time.Time
	counter  uint32
	logger   *slog.Logger
}

// NewEngine constructs an RSU heartbeat engine. interval is the
// hello_periodicity configured for this node.
func NewEngine(rt *routing.RoutingTable, ourMAC mac.Addr, interval time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rt: rt, ourMAC: ourMAC, interval: interval, boot: time.Now(), logger: logger}
}

// Next builds the next outbound Heartbeat frame, seeding the routing
// table's own entry for its (source, id) first so that a self-addressed
// HeartbeatReply tracing this beacon back will later find an entry to
// attach its latency sample to.
func (e *Engine) Next() []byte {
	id := e.counter
	e.counter++
	duration := time.Since(e.boot)
	e.rt.SeedOwnHeartbeat(e.ourMAC, id)

	raw := wire.SerializeHeartbeat(mac.Broadcast, e.ourMAC, wire.HeartbeatBody{
		DurationMillis: uint64(duration.Milliseconds()),
		ID:             id,
		Hops:           0,
		Source:         e.ourMAC,
	})
	e.logger.Debug("emitting heartbeat", "id", id, "duration", duration)
	return raw
}

// Run blocks, invoking send with each beacon's wire bytes once per
// interval until ctx is canceled.
func (e *Engine) Run(ctx context.Context, send func([]byte)) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send(e.Next())
		}
	}
}
