package system

import (
	"errors"
	"fmt"
	"sync"
)

// CleanupStack manages teardown operations in reverse order (LIFO),
// the structured replacement for shell trap handlers. The restore
// pipeline executes it unconditionally, so a failed stage still
// unwinds every mount and mapper opened by earlier stages.
type CleanupStack struct {
	mu       sync.Mutex
	cleanups []labeledCleanup
}

type labeledCleanup struct {
	label string
	fn    func() error
}

// NewCleanupStack creates a new cleanup stack
func NewCleanupStack() *CleanupStack {
	return &CleanupStack{}
}

// Add registers a cleanup function under a human-readable label.
func (s *CleanupStack) Add(label string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, labeledCleanup{label: label, fn: fn})
}

// Len returns the number of pending cleanup operations.
func (s *CleanupStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleanups)
}

// Execute runs all cleanup functions in reverse registration order.
// Every entry runs even if earlier ones fail; failures are collected.
func (s *CleanupStack) Execute() error {
	s.mu.Lock()
	pending := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	var errs []error
	for i := len(pending) - 1; i >= 0; i-- {
		if err := pending[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pending[i].label, err))
		}
	}
	return errors.Join(errs...)
}

// Clear removes all cleanup functions without running them.
func (s *CleanupStack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = nil
}
