package model

import (
	"fmt"
	"sync"
)

// Trace records every decision taken while answering one message.
// Entries can only be appended.
type Trace struct {
	mu      sync.Mutex
	entries []string
}

// NewTrace creates an empty trace
func NewTrace() *Trace {
	return &Trace{}
}

// Add appends a formatted entry
func (t *Trace) Add(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, fmt.Sprintf(format, args...))
}

// Len returns the number of entries
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a copy of the recorded entries
func (t *Trace) Entries() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.entries))
	copy(out, t.entries)
	return out
}
