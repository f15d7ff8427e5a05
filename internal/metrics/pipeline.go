package metrics

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Pipeline counts work done by the enqueue and process loops. All methods
// are safe for concurrent use.
type Pipeline struct {
	expired        atomic.Int64
	toiHits        atomic.Int64
	toiMisses      atomic.Int64
	enqueued       atomic.Int64
	inFlight       atomic.Int64
	rawrGenerated  atomic.Int64
	tilesRendered  atomic.Int64
	tilesUnchanged atomic.Int64
	failures       atomic.Int64
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Expired        int64
	TOIHits        int64
	TOIMisses      int64
	Enqueued       int64
	InFlight       int64
	RawrGenerated  int64
	TilesRendered  int64
	TilesUnchanged int64
	Failures       int64
}

func (p *Pipeline) AddExpired(n int) { p.expired.Add(int64(n)) }
func (p *Pipeline) AddTOI(hits, misses int) {
	p.toiHits.Add(int64(hits))
	p.toiMisses.Add(int64(misses))
}
func (p *Pipeline) AddEnqueued(n int)      { p.enqueued.Add(int64(n)) }
func (p *Pipeline) AddInFlight(n int)      { p.inFlight.Add(int64(n)) }
func (p *Pipeline) AddRawrGenerated(n int) { p.rawrGenerated.Add(int64(n)) }
func (p *Pipeline) AddRendered(n int)      { p.tilesRendered.Add(int64(n)) }
func (p *Pipeline) AddUnchanged(n int)     { p.tilesUnchanged.Add(int64(n)) }
func (p *Pipeline) AddFailure()            { p.failures.Add(1) }

// Snapshot reads every counter
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Expired:        p.expired.Load(),
		TOIHits:        p.toiHits.Load(),
		TOIMisses:      p.toiMisses.Load(),
		Enqueued:       p.enqueued.Load(),
		InFlight:       p.inFlight.Load(),
		RawrGenerated:  p.rawrGenerated.Load(),
		TilesRendered:  p.tilesRendered.Load(),
		TilesUnchanged: p.tilesUnchanged.Load(),
		Failures:       p.failures.Load(),
	}
}

// Sub returns s minus prev
func (s Snapshot) Sub(prev Snapshot) Snapshot {
	return Snapshot{
		Expired:        s.Expired - prev.Expired,
		TOIHits:        s.TOIHits - prev.TOIHits,
		TOIMisses:      s.TOIMisses - prev.TOIMisses,
		Enqueued:       s.Enqueued - prev.Enqueued,
		InFlight:       s.InFlight - prev.InFlight,
		RawrGenerated:  s.RawrGenerated - prev.RawrGenerated,
		TilesRendered:  s.TilesRendered - prev.TilesRendered,
		TilesUnchanged: s.TilesUnchanged - prev.TilesUnchanged,
		Failures:       s.Failures - prev.Failures,
	}
}

// IsZero reports whether every counter is zero
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// Fields renders the snapshot for logging
func (s Snapshot) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("expired", s.Expired),
		zap.Int64("toi_hits", s.TOIHits),
		zap.Int64("toi_misses", s.TOIMisses),
		zap.Int64("enqueued", s.Enqueued),
		zap.Int64("in_flight", s.InFlight),
		zap.Int64("rawr_generated", s.RawrGenerated),
		zap.Int64("rendered", s.TilesRendered),
		zap.Int64("unchanged", s.TilesUnchanged),
		zap.Int64("failures", s.Failures),
	}
}
