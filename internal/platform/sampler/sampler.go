// Package sampler provides the seeded pseudo-random source that every piece of
// synthetic content is drawn from. A given seed and a given sequence of calls
// always produce the same sequence of values, so callers must consume a
// sampler in a stable, documented order.
package sampler

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// ErrPoolExhausted is returned when more distinct items are requested than a
// pool holds.
var ErrPoolExhausted = errors.New("not enough distinct items in pool")

// Sampler wraps a seeded math/rand source. It is not safe for concurrent use.
type Sampler struct {
	seed int64
	rng  *rand.Rand
}

// New returns a sampler for the given seed. A nil seed draws one from system
// entropy; Seed reports it so the run can be reproduced later.
func New(seed *int64) *Sampler {
	var s int64
	if seed != nil {
		s = *seed
	} else {
		s = entropySeed()
	}
	return &Sampler{
		seed: s,
		rng:  rand.New(rand.NewSource(s)),
	}
}

// FromSeed is shorthand for New(&seed).
func FromSeed(seed int64) *Sampler {
	return New(&seed)
}

// Derive returns an independent sampler whose seed is a hash of base and keys.
// Derived streams never consume the parent stream, so the values drawn from
// one derived stream do not depend on how much any other stream was used.
func Derive(base int64, keys ...any) *Sampler {
	return FromSeed(DeriveSeed(base, keys...))
}

// DeriveSeed hashes base and keys into a new seed.
func DeriveSeed(base int64, keys ...any) int64 {
	h := xxhash.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(base))
	_, _ = h.Write(buf[:])
	for _, k := range keys {
		// Separator keeps ("ab","c") and ("a","bc") apart.
		_, _ = h.Write([]byte{0x1f})
		_, _ = h.WriteString(fmt.Sprint(k))
	}
	return int64(h.Sum64())
}

func entropySeed() int64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.BigEndian.Uint64(buf[:]))
}

// Seed returns the effective seed of this sampler.
func (s *Sampler) Seed() int64 {
	return s.seed
}

// Intn returns a value in [0, n). n must be positive.
func (s *Sampler) Intn(n int) int {
	return s.rng.Intn(n)
}

// IntRange returns a value in [lo, hi]. If hi < lo, lo is returned without
// consuming the stream.
func (s *Sampler) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Intn(hi-lo+1)
}

// Float64 returns a value in [0.0, 1.0).
func (s *Sampler) Float64() float64 {
	return s.rng.Float64()
}

// Chance reports true with probability p.
func (s *Sampler) Chance(p float64) bool {
	return s.rng.Float64() < p
}

// PickOne returns an index into a pool of size n. It returns -1 for an empty
// pool without consuming the stream.
func (s *Sampler) PickOne(n int) int {
	if n <= 0 {
		return -1
	}
	return s.rng.Intn(n)
}

// PickN returns count distinct indices into a pool of size n, in draw order.
func (s *Sampler) PickN(n, count int) ([]int, error) {
	if count < 0 {
		return nil, fmt.Errorf("negative sample count %d", count)
	}
	if count > n {
		return nil, fmt.Errorf("sample %d from %d: %w", count, n, ErrPoolExhausted)
	}
	// Partial Fisher-Yates over an index slice: exactly count draws.
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < count; i++ {
		j := i + s.rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:count], nil
}

// PickNWithReplacement returns count indices into a pool of size n; indices may
// repeat.
func (s *Sampler) PickNWithReplacement(n, count int) ([]int, error) {
	if count < 0 {
		return nil, fmt.Errorf("negative sample count %d", count)
	}
	if count > 0 && n <= 0 {
		return nil, fmt.Errorf("sample %d from empty pool: %w", count, ErrPoolExhausted)
	}
	out := make([]int, count)
	for i := range out {
		out[i] = s.rng.Intn(n)
	}
	return out, nil
}

// Date returns a calendar date in [from, to], truncated to midnight UTC.
func (s *Sampler) Date(from, to time.Time) time.Time {
	from = truncateDay(from)
	to = truncateDay(to)
	days := int(to.Sub(from).Hours() / 24)
	return from.AddDate(0, 0, s.IntRange(0, days))
}

// UUID returns a version 4 UUID whose random bits come from the stream.
func (s *Sampler) UUID() string {
	id, err := uuid.NewRandomFromReader(s.rng)
	if err != nil {
		// rand.Rand.Read never fails.
		panic(err)
	}
	return id.String()
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Pick returns one element of pool using PickOne. The zero value is returned
// for an empty pool.
func Pick[T any](s *Sampler, pool []T) T {
	var zero T
	i := s.PickOne(len(pool))
	if i < 0 {
		return zero
	}
	return pool[i]
}
