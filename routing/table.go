// Package routing implements the mesh's distributed routing fabric: a
// per-node table built from heartbeat traffic, next-hop selection under
// hysteresis, and N-best candidate caching with failover. It is the
// largest and most load-bearing component of the mesh core; every other
// component (heartbeat engine/handler, forwarding plane) is a thin
// wrapper dispatching into a RoutingTable.
package routing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/cvsouth/vanet-mesh/mac"
	"github.com/cvsouth/vanet-mesh/wire"
)

// DefaultMaxHops bounds heartbeat rebroadcast so a misconfigured mesh
// cannot flood forever.
const DefaultMaxHops = 32

// Clock reports elapsed time since node boot. Production code leaves it
// nil and RoutingTable falls back to a real time.Since(boot); tests
// inject a Clock to drive deterministic latency scenarios.
type Clock func() time.Duration

// Target is one sample recorded against a via-neighbor: the hop count
// and optional round-trip latency observed for reaching some source
// through that via.
type Target struct {
	Hops    uint32
	Via     mac.Addr
	Latency *time.Duration
}

// seqEntry is the per-(source, sequence ID) record.
type seqEntry struct {
	firstSeen    time.Duration
	nextUpstream mac.Addr
	hops         uint32
	downstream   map[mac.Addr][]Target
}

// sourceEntry is the insertion-ordered, capacity-bounded history kept per
// outer key (an RSU origin, or any neighbor observed as pkt.from).
type sourceEntry struct {
	order     []uint32
	seqs      map[uint32]*seqEntry
	neighbors map[mac.Addr]bool
}

func newSourceEntry() *sourceEntry {
	return &sourceEntry{seqs: make(map[uint32]*seqEntry), neighbors: make(map[mac.Addr]bool)}
}

func (se *sourceEntry) minID() (uint32, bool) {
	first := true
	var m uint32
	for id := range se.seqs {
		if first || id < m {
			m = id
			first = false
		}
	}
	return m, !first
}

// Outbound is one wire message a handler asks the caller to send.
type Outbound struct {
	To  mac.Addr
	Raw []byte
}

// RoutingTable is the per-node routing state. Reads dominate writes: the
// sources map is guarded by an RWMutex, while the cached primary,
// candidate list, and cached source are each an independently
// atomically-swappable slot so forwarding-plane readers never block on a
// control-message writer.
type RoutingTable struct {
	mu             sync.RWMutex
	sources        map[mac.Addr]*sourceEntry
	helloHistory   int
	candidateCount int
	maxHops        uint32
	boot           time.Time
	clock          Clock
	logger         *slog.Logger

	cachedPrimary    atomic.Pointer[mac.Addr]
	cachedCandidates atomic.Pointer[[]mac.Addr]
	cachedSource     atomic.Pointer[mac.Addr]
}

// Options configures a new RoutingTable.
type Options struct {
	HelloHistory int
	Candidates   int
	MaxHops      uint32
	Clock        Clock
	Logger       *slog.Logger
}

// New constructs a RoutingTable. HelloHistory must be >= 1.
func New(opts Options) (*RoutingTable, error) {
	if opts.HelloHistory < 1 {
		return nil, ErrHelloHistoryZero
	}
	if opts.Candidates < 1 {
		opts.Candidates = 3
	}
	if opts.MaxHops == 0 {
		opts.MaxHops = DefaultMaxHops
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RoutingTable{
		sources:        make(map[mac.Addr]*sourceEntry),
		helloHistory:   opts.HelloHistory,
		candidateCount: opts.Candidates,
		maxHops:        opts.MaxHops,
		boot:           time.Now(),
		clock:          opts.Clock,
		logger:         logger,
	}, nil
}

func (rt *RoutingTable) now() time.Duration {
	if rt.clock != nil {
		return rt.clock()
	}
	return time.Since(rt.boot)
}

func (rt *RoutingTable) sourceEntryLocked(addr mac.Addr) *sourceEntry {
	se, ok := rt.sources[addr]
	if !ok {
		se = newSourceEntry()
		rt.sources[addr] = se
	}
	return se
}

func (rt *RoutingTable) sourceHasDataLocked(addr mac.Addr) bool {
	se, ok := rt.sources[addr]
	return ok && len(se.seqs) > 0
}

// upsertSeq applies invariants 1 (capacity), 2 (rollback), and 3/4
// (duplicate suppression, next-upstream immutability). Caller holds mu.
func (rt *RoutingTable) upsertSeq(se *sourceEntry, id uint32, nextUpstream mac.Addr, hops uint32, now time.Duration) (entry *seqEntry, duplicate bool) {
	if existing, ok := se.seqs[id]; ok {
		return existing, true
	}
	if minID, ok := se.minID(); ok && id < minID {
		se.order = se.order[:0]
		se.seqs = make(map[uint32]*seqEntry)
	}
	if len(se.order) >= rt.helloHistory {
		oldest := se.order[0]
		se.order = se.order[1:]
		delete(se.seqs, oldest)
	}
	e := &seqEntry{firstSeen: now, nextUpstream: nextUpstream, hops: hops, downstream: make(map[mac.Addr][]Target)}
	se.seqs[id] = e
	se.order = append(se.order, id)
	return e, false
}

// HandleHeartbeat upserts the routing table from an
// observed Heartbeat and returns the rebroadcast + unicast reply to send,
// or nil on duplicate suppression.
func (rt *RoutingTable) HandleHeartbeat(msg wire.Message, ourMAC mac.Addr) ([]Outbound, error) {
	if msg.Heartbeat == nil {
		return nil, fmt.Errorf("routing: handle_heartbeat: message is not a heartbeat")
	}
	hb := msg.Heartbeat
	src, from, id, hops := hb.Source, msg.From, hb.ID, hb.Hops

	rt.mu.Lock()
	now := rt.now()
	srcWasReachable := rt.sourceHasDataLocked(src)

	se := rt.sourceEntryLocked(src)
	_, duplicate := rt.upsertSeq(se, id, from, hops, now)

	if from != src {
		se.neighbors[from] = true
		fe := rt.sourceEntryLocked(from)
		rt.upsertSeq(fe, id, from, 1, now)
	}

	if duplicate {
		rt.selectAndCacheUpstreamLocked(src)
		rt.mu.Unlock()
		rt.logger.Debug("duplicate heartbeat suppressed", "source", src, "id", id, "from", from)
		return nil, nil
	}

	if !srcWasReachable {
		rt.selectAndCacheUpstreamLocked(src)
	}
	rt.mu.Unlock()

	out := make([]Outbound, 0, 2)
	if hops < rt.maxHops {
		raw := wire.SerializeHeartbeat(mac.Broadcast, ourMAC, wire.HeartbeatBody{
			DurationMillis: hb.DurationMillis,
			ID:             hb.ID,
			Hops:           hb.Hops,
			Source:         hb.Source,
		})
		out = append(out, Outbound{To: mac.Broadcast, Raw: raw})
	}
	replyRaw := wire.SerializeHeartbeatReply(from, ourMAC, wire.HeartbeatReplyBody{
		HeartbeatBody: wire.HeartbeatBody{
			DurationMillis: hb.DurationMillis,
			ID:             hb.ID,
			Hops:           hb.Hops,
			Source:         hb.Source,
		},
		Sender: ourMAC,
	})
	out = append(out, Outbound{To: from, Raw: replyRaw})
	return out, nil
}

// HandleHeartbeatReply traces a reply back toward its originating
// heartbeat, recording latency samples and forwarding it upstream.
func (rt *RoutingTable) HandleHeartbeatReply(msg wire.Message, ourMAC mac.Addr) ([]Outbound, error) {
	if msg.HeartbeatReply == nil {
		return nil, fmt.Errorf("routing: handle_heartbeat_reply: message is not a heartbeat reply")
	}
	hbr := msg.HeartbeatReply
	src, id, sender, replyHops, from := hbr.Source, hbr.ID, hbr.Sender, hbr.Hops, msg.From

	rt.mu.Lock()
	se, ok := rt.sources[src]
	var entry *seqEntry
	if ok {
		entry = se.seqs[id]
	}
	if entry == nil {
		rt.mu.Unlock()
		return nil, ErrUnknownSource
	}
	nextUpstream := entry.nextUpstream

	if nextUpstream == sender {
		rt.mu.Unlock()
		rt.logger.Debug("loop detected on heartbeat reply", "source", src, "id", id, "sender", sender)
		return nil, ErrLoopDetected
	}
	forward := from != nextUpstream

	now := rt.now()
	latency := now - entry.firstSeen
	appendObservation(entry, sender, Target{Hops: replyHops, Via: from, Latency: &latency})
	appendObservation(entry, from, Target{Hops: 1, Via: from, Latency: nil})

	rt.selectAndCacheUpstreamLocked(src)
	rt.mu.Unlock()

	if !forward {
		return nil, nil
	}
	raw := wire.SerializeHeartbeatReply(nextUpstream, ourMAC, wire.HeartbeatReplyBody{
		HeartbeatBody: hbr.HeartbeatBody,
		Sender:        sender,
	})
	return []Outbound{{To: nextUpstream, Raw: raw}}, nil
}

func appendObservation(entry *seqEntry, key mac.Addr, t Target) {
	entry.downstream[key] = append(entry.downstream[key], t)
}

// SeedOwnHeartbeat records the table entry for a heartbeat this node is
// about to emit itself, under its own MAC as source with hops 0 and
// next_upstream equal to itself. An RSU never runs its own emitted
// heartbeat through HandleHeartbeat, so without this call a self-
// addressed HeartbeatReply arriving back at the RSU would find no (src,
// id) entry to attach its latency sample to and HandleHeartbeatReply
// would reject it as an unknown source.
func (rt *RoutingTable) SeedOwnHeartbeat(ourMAC mac.Addr, id uint32) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	se := rt.sourceEntryLocked(ourMAC)
	rt.upsertSeq(se, id, ourMAC, 0, rt.now())
}

// ClearCachedUpstream resets the cached primary, candidate list, and
// source to absent. Topology changes never do this implicitly; it exists
// for an operator-triggered reset (e.g. a config reload that changes
// cached_candidates).
func (rt *RoutingTable) ClearCachedUpstream() {
	rt.cachedPrimary.Store(nil)
	rt.cachedCandidates.Store(nil)
	rt.cachedSource.Store(nil)
}

// Neighbors returns the neighbor-forwarders recorded for source, used by
// failover candidate backfill and exposed here as a
// small read API for callers that want to introspect mesh adjacency.
func (rt *RoutingTable) Neighbors(source mac.Addr) []mac.Addr {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	se, ok := rt.sources[source]
	if !ok {
		return nil
	}
	out := make([]mac.Addr, 0, len(se.neighbors))
	for n := range se.neighbors {
		out = append(out, n)
	}
	sortMACs(out)
	return out
}

// Stats is a point-in-time snapshot used for status logging.
type Stats struct {
	SourceCount     int
	CachedPrimary   *mac.Addr
	CachedSource    *mac.Addr
	CachedUpstreams []mac.Addr
}

// Stats snapshots the table for observability; it does not mutate state.
func (rt *RoutingTable) Stats() Stats {
	rt.mu.RLock()
	n := len(rt.sources)
	rt.mu.RUnlock()

	var upstreams []mac.Addr
	if cp := rt.cachedCandidates.Load(); cp != nil {
		upstreams = append(upstreams, (*cp)...)
	}
	return Stats{
		SourceCount:     n,
		CachedPrimary:   rt.cachedPrimary.Load(),
		CachedSource:    rt.cachedSource.Load(),
		CachedUpstreams: upstreams,
	}
}
