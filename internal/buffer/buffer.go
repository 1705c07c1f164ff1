// Package buffer accumulates recent message text per identity between
// enrichment cycles.
package buffer

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// DefaultCapacity is the number of fragments kept per identity.
	DefaultCapacity = 50

	minFragments = 3
	minChars     = 100
)

// Buffer is the message accumulator shared by live message handling and the
// enrichment scheduler.
type Buffer interface {
	// Record appends text to identity's entry.
	Record(identity, text string)
	// Drain returns everything accumulated so far and starts a fresh
	// accumulation. Records completed before Drain are in the result.
	Drain() map[string][]string
	// Len returns the number of identities with buffered text.
	Len() int
}

// Memory is an in-process Buffer. It is safe for concurrent use.
type Memory struct {
	capacity int

	mu      sync.Mutex
	entries map[string][]string
}

// NewMemory creates a Memory buffer keeping at most capacity fragments per
// identity. A non-positive capacity selects DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		entries:  make(map[string][]string),
	}
}

// Record appends text, evicting the oldest fragments beyond capacity.
// Blank text is ignored.
func (m *Memory) Record(identity, text string) {
	if identity == "" || strings.TrimSpace(text) == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	frags := append(m.entries[identity], text)
	if over := len(frags) - m.capacity; over > 0 {
		// Copy so the evicted prefix is not retained by the backing array.
		frags = append([]string(nil), frags[over:]...)
	}
	m.entries[identity] = frags
}

// Drain swaps the accumulated entries for an empty map under one lock.
func (m *Memory) Drain() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	drained := m.entries
	m.entries = make(map[string][]string)
	return drained
}

// Len returns the number of identities with buffered text.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ShouldAnalyze reports whether fragments carry enough text to be worth an
// extraction call: at least 3 fragments and more than 100 characters overall.
func ShouldAnalyze(fragments []string) bool {
	if len(fragments) < minFragments {
		return false
	}
	total := 0
	for _, f := range fragments {
		total += utf8.RuneCountInString(f)
	}
	return total > minChars
}
