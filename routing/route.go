package routing

import (
	"math"
	"sort"
	"time"

	"github.com/cvsouth/vanet-mesh/mac"
)

func sortMACs(addrs []mac.Addr) {
	sort.Slice(addrs, func(i, j int) bool { return mac.Less(addrs[i], addrs[j]) })
}

// Route is the outcome of a route lookup: the next hop, its hop count,
// and an average round-trip latency when one has been measured.
type Route struct {
	Hops    uint32
	Via     mac.Addr
	Latency *time.Duration
}

// latencyAgg accumulates every downstream-observation sample recorded for
// one via-neighbor: the lowest hop count seen plus running sum/count for
// the mean latency.
type latencyAgg struct {
	via     mac.Addr
	hops    uint32
	minUs   int64
	sumUs   int64
	count   int
}

// score is min_us + avg_us, the ordering key locked in by the design
// notes to preserve observed tie-break behavior; a via with no sample has
// no finite score.
func (a *latencyAgg) score() (float64, bool) {
	if a.count == 0 {
		return 0, false
	}
	return float64(a.minUs) + float64(a.sumUs)/float64(a.count), true
}

func (a *latencyAgg) avgLatency() *time.Duration {
	if a.count == 0 {
		return nil
	}
	d := time.Duration(a.sumUs/int64(a.count)) * time.Microsecond
	return &d
}

// collectGlobalObservationsLocked gathers every downstream-observation
// Target recorded anywhere in the table under the neighbor key obsKey ==
// target, regardless of which outer (source) entry or sequence it lives
// under. Used for both Case B and Case C: a reply chain files its
// samples keyed by the reply's sender/from, so the latency data about
// reaching some target, whether it is itself a heartbeat source or only
// ever seen as an observed neighbor, always lives under that target's
// own key across the whole table, never under its own outer entry.
func (rt *RoutingTable) collectGlobalObservationsLocked(target mac.Addr) []Target {
	var out []Target
	for _, outer := range rt.sources {
		for _, entry := range outer.seqs {
			for obsKey, targets := range entry.downstream {
				if obsKey != target {
					continue
				}
				out = append(out, targets...)
			}
		}
	}
	return out
}

func aggregateLatency(samples []Target) map[mac.Addr]*latencyAgg {
	aggs := make(map[mac.Addr]*latencyAgg)
	for _, s := range samples {
		a, ok := aggs[s.Via]
		if !ok {
			a = &latencyAgg{via: s.Via, hops: s.Hops}
			aggs[s.Via] = a
		} else if s.Hops < a.hops {
			a.hops = s.Hops
		}
		if s.Latency != nil {
			us := s.Latency.Microseconds()
			if a.count == 0 || us < a.minUs {
				a.minUs = us
			}
			a.sumUs += us
			a.count++
		}
	}
	return aggs
}

// sortLatencyCandidates orders aggregates by (score, hops, via) ascending,
// with unmeasured (score = +inf) candidates sorted last.
func sortLatencyCandidates(aggs map[mac.Addr]*latencyAgg) []*latencyAgg {
	out := make([]*latencyAgg, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		si, iok := out[i].score()
		sj, jok := out[j].score()
		if iok != jok {
			return iok
		}
		if iok && si != sj {
			return si < sj
		}
		if out[i].hops != out[j].hops {
			return out[i].hops < out[j].hops
		}
		return mac.Less(out[i].via, out[j].via)
	})
	return out
}

// fallbackHopsCandidatesLocked is used when target is a known source but
// no latency sample exists anywhere for it: a pure hops sort over every
// (seq, next_upstream, hops) tuple recorded under target's own outer
// entry, one candidate per distinct next-upstream at its best hop count.
func (rt *RoutingTable) fallbackHopsCandidatesLocked(target mac.Addr) []*latencyAgg {
	se, ok := rt.sources[target]
	if !ok {
		return nil
	}
	aggs := make(map[mac.Addr]*latencyAgg)
	for _, entry := range se.seqs {
		a, ok := aggs[entry.nextUpstream]
		if !ok || entry.hops < a.hops {
			aggs[entry.nextUpstream] = &latencyAgg{via: entry.nextUpstream, hops: entry.hops}
		}
	}
	out := make([]*latencyAgg, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].hops != out[j].hops {
			return out[i].hops < out[j].hops
		}
		return mac.Less(out[i].via, out[j].via)
	})
	return out
}

func toRoute(a *latencyAgg) Route {
	return Route{Hops: a.hops, Via: a.via, Latency: a.avgLatency()}
}

// pickWithHysteresisLocked applies hysteresis: the cached primary for
// target is kept unless the top-ranked candidate strictly outranks it.
// Hysteresis only applies when target is the node the cache was last
// computed for — a cached primary for some other source says nothing
// about this one. hopsOnly selects the "no latency data anywhere"
// threshold (switch only on strictly fewer hops) instead of the
// ~10%-improvement latency threshold.
func (rt *RoutingTable) pickWithHysteresisLocked(target mac.Addr, cands []*latencyAgg, hopsOnly bool) (Route, bool) {
	if len(cands) == 0 {
		return Route{}, false
	}
	best := cands[0]

	cs := rt.cachedSource.Load()
	if cs == nil || *cs != target {
		return toRoute(best), true
	}
	cp := rt.cachedPrimary.Load()
	if cp == nil || *cp == best.via {
		return toRoute(best), true
	}

	var cached *latencyAgg
	for _, c := range cands {
		if c.via == *cp {
			cached = c
			break
		}
	}
	if cached == nil {
		// Cached primary isn't among the measured candidates at all.
		return toRoute(best), true
	}
	if best.hops < cached.hops {
		return toRoute(best), true
	}
	if !hopsOnly {
		bestScore, bok := best.score()
		cachedScore, cok := cached.score()
		if bok && cok && bestScore*10 < cachedScore*9 {
			return toRoute(best), true
		}
	}
	return toRoute(cached), true
}

// caseBLocked handles the case where target is a known heartbeat/adjacency
// source. Scores every via by latency if any sample exists anywhere for
// it; otherwise falls back to a pure hops sort scoped to target's own
// recorded (seq, next_upstream, hops) tuples. Either way, hysteresis is
// applied against whatever is presently cached for target.
func (rt *RoutingTable) caseBLocked(target mac.Addr) (Route, bool) {
	samples := rt.collectGlobalObservationsLocked(target)
	aggs := aggregateLatency(samples)
	if len(aggs) > 0 {
		return rt.pickWithHysteresisLocked(target, sortLatencyCandidates(aggs), false)
	}
	hopsCands := rt.fallbackHopsCandidatesLocked(target)
	if len(hopsCands) == 0 {
		return Route{}, false
	}
	return rt.pickWithHysteresisLocked(target, hopsCands, true)
}

// caseCLocked handles the case where target is not a known source, only
// ever seen as a downstream-observation key. Unlike caseBLocked, samples are
// filtered down to the minimum hop count observed before scoring, and no
// hysteresis applies — there is no cached-primary concept for an
// arbitrary destination, only for upstream-bound sources.
func (rt *RoutingTable) caseCLocked(target mac.Addr) (Route, bool) {
	samples := rt.collectGlobalObservationsLocked(target)
	if len(samples) == 0 {
		return Route{}, false
	}
	minHops := uint32(math.MaxUint32)
	for _, s := range samples {
		if s.Hops < minHops {
			minHops = s.Hops
		}
	}
	filtered := make([]Target, 0, len(samples))
	for _, s := range samples {
		if s.Hops == minHops {
			filtered = append(filtered, s)
		}
	}
	aggs := aggregateLatency(filtered)
	cands := sortLatencyCandidates(aggs)
	if len(cands) == 0 {
		return Route{}, false
	}
	return toRoute(cands[0]), true
}

func (rt *RoutingTable) isKnownSourceLocked(target mac.Addr) bool {
	se, ok := rt.sources[target]
	return ok && len(se.seqs) > 0
}

// GetRouteTo resolves a route. A nil target is Case A: the cached
// primary, reported as a trivial one-hop route (the caller does not
// learn the real hop count of a route it isn't asking to recompute). A
// non-nil target dispatches to Case B when target is a known source, or
// Case C otherwise.
func (rt *RoutingTable) GetRouteTo(target *mac.Addr) (Route, bool) {
	if target == nil {
		if cp := rt.cachedPrimary.Load(); cp != nil {
			return Route{Hops: 1, Via: *cp}, true
		}
		return Route{}, false
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.isKnownSourceLocked(*target) {
		return rt.caseBLocked(*target)
	}
	return rt.caseCLocked(*target)
}

// buildCandidateListLocked implements the N-best candidate backfill: latency-
// scored vias first, then hops-sorted vias not yet present, then
// recorded neighbor-forwarders, then source itself as a last resort.
func (rt *RoutingTable) buildCandidateListLocked(source mac.Addr) []mac.Addr {
	seen := make(map[mac.Addr]bool)
	var out []mac.Addr
	add := func(v mac.Addr) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	samples := rt.collectGlobalObservationsLocked(source)
	for _, a := range sortLatencyCandidates(aggregateLatency(samples)) {
		add(a.via)
	}
	for _, a := range rt.fallbackHopsCandidatesLocked(source) {
		add(a.via)
	}
	if se, ok := rt.sources[source]; ok {
		neighbors := make([]mac.Addr, 0, len(se.neighbors))
		for n := range se.neighbors {
			neighbors = append(neighbors, n)
		}
		sortMACs(neighbors)
		for _, n := range neighbors {
			add(n)
		}
	}
	add(source)

	if rt.candidateCount > 0 && len(out) > rt.candidateCount {
		out = out[:rt.candidateCount]
	}
	return out
}

// selectAndCacheUpstreamLocked recomputes the Case B route to source,
// caches it as primary, and refreshes the N-best candidate list. Caller
// holds mu for writing.
func (rt *RoutingTable) selectAndCacheUpstreamLocked(source mac.Addr) {
	best, ok := rt.caseBLocked(source)
	if !ok {
		return
	}
	candidates := rt.buildCandidateListLocked(source)

	s, v := source, best.Via
	rt.cachedSource.Store(&s)
	rt.cachedPrimary.Store(&v)
	rt.cachedCandidates.Store(&candidates)
}

// SelectAndCacheUpstream forces a fresh route computation and candidate
// refresh for source. The heartbeat handlers call the unexported locked
// form directly while already holding the write lock; this is the entry
// point for callers outside the package, such as a periodic refresh task.
func (rt *RoutingTable) SelectAndCacheUpstream(source mac.Addr) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.selectAndCacheUpstreamLocked(source)
}

// FailoverCachedUpstream rotates the cached candidate
// list left by one and promotes the new head to primary. If fewer than
// two candidates are cached, it attempts to rebuild the list from the
// cached source before rotating. Meant to be called exactly once by the
// forwarding plane immediately after a send to the current primary
// fails, never on a timer.
func (rt *RoutingTable) FailoverCachedUpstream() (mac.Addr, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	cc := rt.cachedCandidates.Load()
	if cc == nil || len(*cc) < 2 {
		cs := rt.cachedSource.Load()
		if cs == nil {
			return mac.Addr{}, false
		}
		rebuilt := rt.buildCandidateListLocked(*cs)
		rt.cachedCandidates.Store(&rebuilt)
		cc = &rebuilt
	}
	cands := *cc
	if len(cands) < 2 {
		if len(cands) == 1 {
			v := cands[0]
			rt.cachedPrimary.Store(&v)
			return v, true
		}
		return mac.Addr{}, false
	}

	rotated := append(append([]mac.Addr{}, cands[1:]...), cands[0])
	rt.cachedCandidates.Store(&rotated)
	primary := rotated[0]
	rt.cachedPrimary.Store(&primary)
	return primary, true
}
