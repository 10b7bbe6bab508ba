// Package secretbuf provides a small allocator for secret byte buffers:
// master keys, recovery keys, Shamir shares, session keys, and recovery
// tokens. Buffers are locked against swap and advised against core-dump
// inclusion where the platform supports it, and are zeroed on Close.
//
// Grounded in the retrieval pack's memguard.go/zero.go/coredump.go, which
// use the same golang.org/x/sys/unix primitives for a password-vault's
// master-key handling.
package secretbuf

import (
	"golang.org/x/sys/unix"
)

// Buffer is a fixed-length secret byte buffer.
type Buffer struct {
	b      []byte
	locked bool
	closed bool
}

// New allocates a zeroed Buffer of the given length and attempts to lock it
// against swap and exclude it from core dumps. Locking/advising failures
// are not fatal — not every platform or container grants CAP_IPC_LOCK —
// but are reported via ok so callers can log them if they care.
func New(n int) (buf *Buffer, ok bool) {
	b := &Buffer{b: make([]byte, n)}

	if n == 0 {
		return b, true
	}

	lockErr := unix.Mlock(b.b)
	b.locked = lockErr == nil

	adviseErr := unix.Madvise(b.b, unix.MADV_DONTDUMP)

	return b, lockErr == nil && adviseErr == nil
}

// FromBytes wraps an existing slice as a secret Buffer, taking ownership of
// it (the caller must not retain a reference). Used when secret material
// arrives from a primitive that already allocated its own slice, such as a
// Shamir share or an ECDH shared secret.
func FromBytes(b []byte) *Buffer {
	buf := &Buffer{b: b}
	buf.locked = unix.Mlock(b) == nil
	_ = unix.Madvise(b, unix.MADV_DONTDUMP)

	return buf
}

// Bytes returns the underlying slice. The returned slice is only valid
// until Close.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}

	return b.b
}

// Len returns the buffer's length.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}

	return len(b.b)
}

// Close zeroes the buffer and unlocks its pages. It is safe to call
// multiple times and on a nil Buffer.
func (b *Buffer) Close() error {
	if b == nil || b.closed {
		return nil
	}

	Zero(b.b)

	var err error
	if b.locked {
		err = unix.Munlock(b.b)
	}

	b.closed = true

	return err
}

// Zero overwrites a byte slice in memory with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// DisableCoreDumps sets RLIMIT_CORE to zero for the current process, so a
// crash cannot write secret-laden memory to disk. Best-effort: containers
// without CAP_SYS_RESOURCE may reject the setrlimit call.
func DisableCoreDumps() error {
	var rlim unix.Rlimit

	rlim.Cur = 0
	rlim.Max = 0

	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
