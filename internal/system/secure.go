package system

import (
	"runtime"
)

// SecureBytes wraps a passphrase with automatic zeroing so key material
// does not linger in memory after the LUKS primitives are done with it.
type SecureBytes struct {
	data []byte
}

// NewSecureBytes wraps the given data. The slice is used directly (not
// copied); the caller must not retain or modify it afterwards.
func NewSecureBytes(data []byte) *SecureBytes {
	sb := &SecureBytes{data: data}

	runtime.SetFinalizer(sb, func(s *SecureBytes) {
		s.Zeroize()
	})

	return sb
}

// Bytes returns the underlying byte slice.
// The caller should not retain this slice or store it elsewhere.
func (s *SecureBytes) Bytes() []byte {
	if s == nil || s.data == nil {
		return nil
	}
	return s.data
}

// String returns the passphrase as a string for stdin delivery.
func (s *SecureBytes) String() string {
	return string(s.Bytes())
}

// Zeroize explicitly zeros the underlying memory. Call via defer once
// the passphrase has been handed to the external primitive.
func (s *SecureBytes) Zeroize() {
	if s == nil || s.data == nil {
		return
	}

	for i := range s.data {
		s.data[i] = 0
	}

	s.data = nil
}

// Len returns the length of the underlying data.
func (s *SecureBytes) Len() int {
	if s == nil || s.data == nil {
		return 0
	}
	return len(s.data)
}
