package channel

import "sync"

// Slot holds the latest snapshot. Put overwrites whatever is there, so a
// slow reader only ever sees the newest value.
type Slot struct {
	mu      sync.Mutex
	data    []byte
	version uint64
	changed chan struct{}
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{changed: make(chan struct{})}
}

// Put replaces the slot contents and wakes every waiter.
func (s *Slot) Put(data []byte) {
	s.mu.Lock()
	s.data = data
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Get returns the current contents and version. Version 0 means empty.
func (s *Slot) Get() ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.version
}

// Changed returns a channel closed by the next Put.
func (s *Slot) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}
