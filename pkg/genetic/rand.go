package genetic

import (
	"math/rand"
	"sync"
	"time"
)

// lockedSource makes a rand.Source safe for concurrent use
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source64
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}

// NewRand returns a goroutine-safe random generator. A zero seed uses the current time.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// #nosec G404 -- Non-cryptographic use: search needs reproducible randomness
	src := rand.NewSource(seed).(rand.Source64)
	return rand.New(&lockedSource{src: src}) // #nosec G404
}
