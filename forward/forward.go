// Package forward implements the mesh's data plane: moving
// Ethernet frames between a node's local TAP and its mesh wire neighbors,
// decapsulating/encapsulating the Upstream and Downstream Data bodies and
// consulting the routing table and, on an RSU, the client cache.
package forward

import (
	"fmt"
	"log/slog"

	"github.com/cvsouth/vanet-mesh/aead"
	"github.com/cvsouth/vanet-mesh/clientcache"
	"github.com/cvsouth/vanet-mesh/mac"
	"github.com/cvsouth/vanet-mesh/routing"
	"github.com/cvsouth/vanet-mesh/wire"
)

// innerHeaderLen is the Ethernet destination+source prefix an RSU reads
// out of a decrypted Upstream payload, and an OBU or RSU reads out of a
// TAP frame before deciding how to route it.
const innerHeaderLen = 2 * mac.Len

// WireFrame is an outbound message this package asks the caller to send
// on the mesh's shared wire medium.
type WireFrame struct {
	To  mac.Addr
	Raw []byte
}

// Plane is the per-node forwarding state: the routing table it consults,
// an RSU's client cache (nil on an OBU), and an optional cipher applied
// at the Data payload boundary.
type Plane struct {
	rt     *routing.RoutingTable
	cache  *clientcache.Cache
	cipher aead.Cipher
	ourMAC mac.Addr
	isRSU  bool
	logger *slog.Logger
}

// New constructs a Plane. cache must be non-nil when isRSU is true and is
// ignored otherwise. cipher may be nil, meaning encryption is disabled.
func New(rt *routing.RoutingTable, cache *clientcache.Cache, cipher aead.Cipher, ourMAC mac.Addr, isRSU bool, logger *slog.Logger) *Plane {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plane{rt: rt, cache: cache, cipher: cipher, ourMAC: ourMAC, isRSU: isRSU, logger: logger}
}

func (p *Plane) seal(payload []byte) ([]byte, error) {
	if p.cipher == nil {
		return payload, nil
	}
	return p.cipher.Seal(payload)
}

func (p *Plane) open(payload []byte) ([]byte, error) {
	if p.cipher == nil {
		return payload, nil
	}
	return p.cipher.Open(payload)
}

// OBUUpstreamFromTap implements the OBU-upstream-from-TAP path: a frame
// admitted at the local TAP is encapsulated as Data/Upstream and sent
// toward the cached primary. Returns ok=false when there is no primary,
// meaning the frame should be dropped.
func (p *Plane) OBUUpstreamFromTap(payload []byte) (WireFrame, bool, error) {
	route, ok := p.rt.GetRouteTo(nil)
	if !ok {
		return WireFrame{}, false, nil
	}
	sealed, err := p.seal(payload)
	if err != nil {
		return WireFrame{}, false, fmt.Errorf("forward: seal upstream payload: %w", err)
	}
	raw := wire.SerializeUpstream(route.Via, p.ourMAC, wire.DataUpstreamBody{Origin: p.ourMAC, Payload: sealed})
	return WireFrame{To: route.Via, Raw: raw}, true, nil
}

// OBURelayUpstream re-emits a Data/Upstream frame received from the wire
// toward the cached primary, preserving the original source unchanged.
func (p *Plane) OBURelayUpstream(msg wire.Message) (WireFrame, bool, error) {
	route, ok := p.rt.GetRouteTo(nil)
	if !ok {
		return WireFrame{}, false, nil
	}
	raw := wire.SerializeUpstream(route.Via, p.ourMAC, *msg.Upstream)
	return WireFrame{To: route.Via, Raw: raw}, true, nil
}

// OBUDownstream implements the OBU-downstream path: a Data/Downstream
// frame arriving on the wire is delivered to the local TAP when it is
// addressed to us or is broadcast/multicast, or else forwarded toward
// the destination's recorded route. tapPayload is non-nil exactly when
// the frame should be delivered locally; forward is true exactly when it
// should be sent on as wf. Both are false/nil when there is no route and
// the frame is dropped.
func (p *Plane) OBUDownstream(msg wire.Message) (tapPayload []byte, wf WireFrame, forward bool, err error) {
	down := msg.Downstream
	if down.Destination == p.ourMAC || down.Destination.IsBroadcastOrMulticast() {
		opened, err := p.open(down.Payload)
		if err != nil {
			return nil, WireFrame{}, false, fmt.Errorf("forward: open downstream payload: %w", err)
		}
		return opened, WireFrame{}, false, nil
	}
	dest := down.Destination
	route, ok := p.rt.GetRouteTo(&dest)
	if !ok {
		return nil, WireFrame{}, false, nil
	}
	raw := wire.SerializeDownstream(route.Via, p.ourMAC, *down)
	return nil, WireFrame{To: route.Via, Raw: raw}, true, nil
}

// innerAddrs reads the destination and source MAC out of an inner
// Ethernet frame's first 12 bytes, the same layout a Data/Upstream
// payload carries once decrypted and a local TAP frame always carries.
func innerAddrs(frame []byte) (dest, src mac.Addr, err error) {
	if len(frame) < innerHeaderLen {
		return mac.Addr{}, mac.Addr{}, fmt.Errorf("forward: inner frame too short: %d bytes", len(frame))
	}
	dest, err = mac.Parse(frame[0:mac.Len])
	if err != nil {
		return mac.Addr{}, mac.Addr{}, err
	}
	src, err = mac.Parse(frame[mac.Len : 2*mac.Len])
	if err != nil {
		return mac.Addr{}, mac.Addr{}, err
	}
	return dest, src, nil
}

// RSUUpstream implements the RSU-upstream-from-wire path: the
// payload is decrypted, its inner Ethernet header read, the client cache
// updated, and the inner frame fanned out or unicast downstream
// depending on the inner destination.
func (p *Plane) RSUUpstream(msg wire.Message) (tapPayload []byte, frames []WireFrame, err error) {
	up := msg.Upstream
	ingress := msg.From

	inner, err := p.open(up.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("forward: open upstream payload: %w", err)
	}
	innerDest, innerSrc, err := innerAddrs(inner)
	if err != nil {
		return nil, nil, err
	}
	p.cache.Observe(innerSrc, ingress)

	if innerDest.IsBroadcastOrMulticast() {
		frames, err = p.fanOut(inner, innerSrc, ingress)
		return inner, frames, err
	}
	if innerDest == p.ourMAC {
		return inner, nil, nil
	}
	if via, ok := p.cache.Lookup(innerDest); ok {
		frame, err := p.unicastDownstream(inner, innerSrc, innerDest, via)
		if err != nil {
			return nil, nil, err
		}
		return nil, []WireFrame{frame}, nil
	}
	frames, err = p.fanOut(inner, innerSrc, ingress)
	return nil, frames, err
}

// RSUDownstreamFromTap implements the RSU-downstream-from-TAP path: a
// locally admitted frame is fanned out or unicast toward the client
// cache's recorded OBU, the same branching RSUUpstream uses once it has
// decapsulated an inner frame.
func (p *Plane) RSUDownstreamFromTap(frame []byte) ([]WireFrame, error) {
	dest, src, err := innerAddrs(frame)
	if err != nil {
		return nil, err
	}
	if dest.IsBroadcastOrMulticast() {
		return p.fanOut(frame, src, mac.Addr{})
	}
	if via, ok := p.cache.Lookup(dest); ok {
		wf, err := p.unicastDownstream(frame, src, dest, via)
		if err != nil {
			return nil, err
		}
		return []WireFrame{wf}, nil
	}
	return p.fanOut(frame, src, mac.Addr{})
}

// unicastDownstream seals frame for one recipient and wraps it as a
// Data/Downstream message addressed to via.
func (p *Plane) unicastDownstream(frame []byte, origin, destination, via mac.Addr) (WireFrame, error) {
	sealed, err := p.seal(frame)
	if err != nil {
		return WireFrame{}, fmt.Errorf("forward: seal downstream payload: %w", err)
	}
	raw := wire.SerializeDownstream(via, p.ourMAC, wire.DataDownstreamBody{
		Origin:      origin,
		Destination: destination,
		Payload:     sealed,
	})
	return WireFrame{To: via, Raw: raw}, nil
}

// fanOut sends frame to every neighbor this RSU has observed rebroadcast
// its own heartbeats, except exclude (the ingress OBU, when there is
// one), individually re-encrypting per recipient. innerSrc is the inner
// frame's original source, preserved as Origin the same way
// unicastDownstream does.
func (p *Plane) fanOut(frame []byte, innerSrc, exclude mac.Addr) ([]WireFrame, error) {
	neighbors := p.rt.Neighbors(p.ourMAC)
	out := make([]WireFrame, 0, len(neighbors))
	for _, n := range neighbors {
		if n == exclude {
			continue
		}
		sealed, err := p.seal(frame)
		if err != nil {
			return nil, fmt.Errorf("forward: seal fan-out payload for %v: %w", n, err)
		}
		raw := wire.SerializeDownstream(n, p.ourMAC, wire.DataDownstreamBody{
			Origin:      innerSrc,
			Destination: mac.Broadcast,
			Payload:     sealed,
		})
		out = append(out, WireFrame{To: n, Raw: raw})
	}
	return out, nil
}

// HandleSendFailure should be called exactly once immediately
// after a wire send to `to` fails. Failover triggers only when `to` was
// the currently cached primary; any other destination failing is the
// caller's concern (e.g. a stale client-cache entry), not this package's.
func (p *Plane) HandleSendFailure(to mac.Addr) {
	cp := p.rt.Stats().CachedPrimary
	if cp != nil && *cp == to {
		if next, ok := p.rt.FailoverCachedUpstream(); ok {
			p.logger.Info("failed over cached upstream", "from", to, "to", next)
		}
	}
}
