package tree

import (
	"sort"
	"time"

	"github.com/weftui/weft/internal/protocol"
)

// Stats describes what one ApplyBatch call did.
type Stats struct {
	BatchID uint64

	// Applied, Skipped and Failed partition the batch: skipped operations
	// fell past the per-call limit, failed ones hit a per-operation error.
	Applied int
	Skipped int
	Failed  int

	// Unknown counts operation kinds this receiver does not recognize.
	// They are ignored, never treated as errors.
	Unknown int

	// PerKind counts applied+failed operations by kind name.
	PerKind map[string]int

	// TopTypes attributes operation volume to node types, descending.
	TopTypes []TypeCount

	// NodeDelta is the change in node count over the call.
	NodeDelta int

	Duration time.Duration
}

// TypeCount is one attribution bucket.
type TypeCount struct {
	Type  string
	Count int
}

// statsBuilder accumulates counters during one ApplyBatch call.
type statsBuilder struct {
	stats   Stats
	byType  map[string]int
	started time.Time
}

func newStatsBuilder(batchID uint64) *statsBuilder {
	return &statsBuilder{
		stats: Stats{
			BatchID: batchID,
			PerKind: make(map[string]int),
		},
		byType:  make(map[string]int),
		started: time.Now(),
	}
}

func (b *statsBuilder) countKind(kind protocol.Kind) {
	b.stats.PerKind[kind.String()]++
}

func (b *statsBuilder) attribute(nodeType string) {
	if nodeType != "" {
		b.byType[nodeType]++
	}
}

// finish freezes the stats, keeping the top-n attribution buckets.
func (b *statsBuilder) finish(nodeDelta, topN int) Stats {
	b.stats.NodeDelta = nodeDelta
	b.stats.Duration = time.Since(b.started)

	types := make([]TypeCount, 0, len(b.byType))
	for t, n := range b.byType {
		types = append(types, TypeCount{Type: t, Count: n})
	}
	sort.Slice(types, func(i, j int) bool {
		if types[i].Count != types[j].Count {
			return types[i].Count > types[j].Count
		}
		return types[i].Type < types[j].Type
	})
	if topN > 0 && len(types) > topN {
		types = types[:topN]
	}
	b.stats.TopTypes = types
	return b.stats
}
