// Package stats keeps running-average travel times per directed segment.
package stats

import (
	"sort"
	"sync"

	"route-eta/internal/shard"
	"route-eta/internal/transit"
)

type entry struct {
	mu   sync.Mutex
	key  transit.SegmentKey
	stat transit.SegmentStat
}

type Store struct {
	segments *shard.Map[entry]
}

func NewStore(shards int) *Store {
	if shards <= 0 {
		shards = shard.DefaultShards
	}
	return &Store{segments: shard.New[entry](shards)}
}

// Record folds durationSeconds into the running average for key and returns
// the updated statistic. created is true for the first sample of the segment.
// Callers are responsible for passing positive durations.
func (s *Store) Record(key transit.SegmentKey, durationSeconds float64) (stat transit.SegmentStat, created bool) {
	key = transit.NewSegmentKey(key.Route(), key.From, key.To)
	e, created := s.segments.GetOrCreate(key.String(), func() *entry {
		return &entry{key: key}
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	n := float64(e.stat.Count)
	e.stat.AvgSeconds = (e.stat.AvgSeconds*n + durationSeconds) / (n + 1)
	e.stat.Count++
	return e.stat, created
}

// Lookup returns the statistic for key, or false if no transition was ever
// recorded for that exact ordered pair.
func (s *Store) Lookup(key transit.SegmentKey) (transit.SegmentStat, bool) {
	key = transit.NewSegmentKey(key.Route(), key.From, key.To)
	e, ok := s.segments.Get(key.String())
	if !ok {
		return transit.SegmentStat{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stat, true
}

type Segment struct {
	Key  transit.SegmentKey  `json:"segment"`
	Stat transit.SegmentStat `json:"stat"`
}

// All returns every recorded segment ordered by line, direction, from, to.
func (s *Store) All() []Segment {
	var out []Segment
	s.segments.Range(func(_ string, e *entry) {
		e.mu.Lock()
		out = append(out, Segment{Key: e.key, Stat: e.stat})
		e.mu.Unlock()
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (s *Store) Len() int { return s.segments.Len() }
