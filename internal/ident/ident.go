// Package ident allocates the short numeric identifiers peers see: 9-digit
// client ids and 6-digit access codes.
package ident

import (
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

const (
	ClientIDDigits   = 9
	AccessCodeDigits = 6

	maxAttempts = 1000
)

var ErrCapacityExhausted = errors.New("identifier space exhausted")

// Allocator draws fixed-width decimal identifiers uniformly, avoiding the
// caller's live set. Safe for concurrent use.
type Allocator struct {
	mu  sync.Mutex
	rng *rand.Rand
	min int64
	max int64
}

func NewAllocator(digits int) *Allocator {
	return NewAllocatorWithSource(digits, rand.NewSource(time.Now().UnixNano()))
}

func NewAllocatorWithSource(digits int, src rand.Source) *Allocator {
	min := int64(1)
	for i := 1; i < digits; i++ {
		min *= 10
	}
	return &Allocator{rng: rand.New(src), min: min, max: min*10 - 1}
}

// Allocate generates identifiers until taken reports one free. Retries are
// capped so a saturated keyspace surfaces as ErrCapacityExhausted instead of
// spinning forever.
func (a *Allocator) Allocate(taken func(string) bool) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		id := a.next()
		if taken == nil || !taken(id) {
			return id, nil
		}
	}
	return "", ErrCapacityExhausted
}

func (a *Allocator) next() string {
	a.mu.Lock()
	n := a.min + a.rng.Int63n(a.max-a.min+1)
	a.mu.Unlock()
	return strconv.FormatInt(n, 10)
}
