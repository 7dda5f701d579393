package game

import (
	mathrand "math/rand"
	"sync"
	"time"
)

// Random is the single source of randomness for draws and generated codes.
// A fixed seed makes every outcome reproducible.
type Random struct {
	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewRandom(seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{rand: mathrand.New(mathrand.NewSource(seed))}
}

func (r *Random) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

func (r *Random) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// WeightedIndex draws an index with probability proportional to its weight.
// Non-positive weights are never drawn; -1 means nothing was drawable.
func (r *Random) WeightedIndex(weights []int64) int {
	var total int64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	r.mu.Lock()
	pick := r.rand.Int63n(total)
	r.mu.Unlock()
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if pick < w {
			return i
		}
		pick -= w
	}
	return -1
}

// Token returns n characters drawn uniformly from alphabet.
func (r *Random) Token(alphabet string, n int) string {
	buf := make([]byte, n)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range buf {
		buf[i] = alphabet[r.rand.Intn(len(alphabet))]
	}
	return string(buf)
}

func (r *Random) PackCode() string {
	return r.Token(PackCodeAlphabet, PackCodeLength)
}

// Pick returns a uniformly chosen element; ok is false for an empty slice.
func Pick[T any](r *Random, items []T) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	return items[r.Intn(len(items))], true
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type FixedClock struct {
	mu sync.Mutex
	at time.Time
}

func NewFixedClock(at time.Time) *FixedClock {
	return &FixedClock{at: at.UTC()}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *FixedClock) Set(at time.Time) {
	c.mu.Lock()
	c.at = at.UTC()
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.at = c.at.Add(d)
	c.mu.Unlock()
}
