package identifier

import (
	"context"
	"sync"
)

var _ Seeder = (*MemoryAllocator)(nil)

// MemoryAllocator keeps sequences in process memory.
type MemoryAllocator struct {
	mu   sync.Mutex
	next map[string]int64
}

// NewMemoryAllocator starts every sequence at 1.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{next: make(map[string]int64)}
}

// Seed makes the next identifier for prefix follow last. A sequence that is
// already past last is left alone.
func (a *MemoryAllocator) Seed(_ context.Context, prefix string, last int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if last > a.next[prefix] {
		a.next[prefix] = last
	}
	return nil
}

// Next allocates the next identifier for legalType.
func (a *MemoryAllocator) Next(_ context.Context, legalType string) (string, error) {
	prefix, err := Prefix(legalType)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.next[prefix]++
	n := a.next[prefix]
	a.mu.Unlock()
	return Format(prefix, n)
}
