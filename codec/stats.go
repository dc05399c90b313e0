package codec

import "sync"

// Stats accumulates running compression totals. It is safe for
// concurrent use by multiple demotion workers.
type Stats struct {
	mu              sync.Mutex
	OriginalBytes   uint64
	CompressedBytes uint64
	PagesCompressed uint64
	PagesSkipped    uint64
}

// Record folds one Compress result into the running totals. A Meta whose
// Codec is None counts as skipped, matching "disabled compression counts
// every call as skipped".
func (s *Stats) Record(m Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OriginalBytes += uint64(m.OriginalSize)
	if m.Codec == None || m.Codec == "" {
		s.PagesSkipped++
		s.CompressedBytes += uint64(m.OriginalSize)
		return
	}
	s.CompressedBytes += uint64(m.CompressedSize)
	s.PagesCompressed++
}

// Snapshot is an immutable copy of the running totals plus the derived
// average ratio.
type Snapshot struct {
	OriginalBytes   uint64
	CompressedBytes uint64
	PagesCompressed uint64
	PagesSkipped    uint64
	AverageRatio    float64
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		OriginalBytes:   s.OriginalBytes,
		CompressedBytes: s.CompressedBytes,
		PagesCompressed: s.PagesCompressed,
		PagesSkipped:    s.PagesSkipped,
	}
	if s.OriginalBytes > 0 {
		snap.AverageRatio = float64(s.CompressedBytes) / float64(s.OriginalBytes)
	} else {
		snap.AverageRatio = 1.0
	}
	return snap
}

// Reset zeroes the running totals.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OriginalBytes, s.CompressedBytes, s.PagesCompressed, s.PagesSkipped = 0, 0, 0, 0
}
