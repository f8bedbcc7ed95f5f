package encoding

import (
	"sync"
	"sync/atomic"
)

// Stats holds per-encoding counters: rectangles sent, raw bytes in, encoded
// bytes out. Monotone for the life of a session, reset only when the
// session (and its Stats) is discarded (spec.md §3/§4.6).
type Stats struct {
	Rectangles   atomic.Uint64
	RawBytes     atomic.Uint64
	EncodedBytes atomic.Uint64
}

// Record adds one rectangle's contribution after a successful Send.
func (s *Stats) Record(rawBytes, encodedBytes int) {
	s.Rectangles.Add(1)
	s.RawBytes.Add(uint64(rawBytes))
	s.EncodedBytes.Add(uint64(encodedBytes))
}

// Snapshot is a point-in-time, non-atomic copy of Stats suitable for logging.
type Snapshot struct {
	Rectangles   uint64
	RawBytes     uint64
	EncodedBytes uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Rectangles:   s.Rectangles.Load(),
		RawBytes:     s.RawBytes.Load(),
		EncodedBytes: s.EncodedBytes.Load(),
	}
}

// StatsByEncoding tracks a Stats struct per encoding Code, keyed on demand.
type StatsByEncoding struct {
	mu    sync.Mutex
	stats map[Code]*Stats
}

// NewStatsByEncoding builds an empty per-encoding stats table.
func NewStatsByEncoding() *StatsByEncoding {
	return &StatsByEncoding{stats: make(map[Code]*Stats)}
}

// For returns (creating if necessary) the Stats for one encoding code.
func (s *StatsByEncoding) For(code Code) *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[code]
	if !ok {
		st = &Stats{}
		s.stats[code] = st
	}
	return st
}

// Snapshot returns a copy of every tracked encoding's Snapshot.
func (s *StatsByEncoding) Snapshot() map[Code]Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Code]Snapshot, len(s.stats))
	for code, st := range s.stats {
		out[code] = st.Snapshot()
	}
	return out
}
