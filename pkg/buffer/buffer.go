// Package buffer provides the fixed-capacity output buffer that sits
// between the compression engine and the output sink. The capacity is a
// hard limit: the engine must never produce more output per iteration than
// the buffer can hold, and a write beyond capacity is reported as a
// distinguished overflow error instead of growing the buffer.
package buffer

import (
	"errors"
	"io"
	"sync"
)

// ErrOverflow is returned when a write would exceed the buffer's fixed
// capacity. It signals a breach of the engine's output contract.
var ErrOverflow = errors.New("output buffer overflow")

// Output is a fixed-capacity byte buffer with an explicit position
// counter. It is reused across loop iterations: the engine appends
// compressed bytes, the record loop drains them to the sink and resets
// the position to zero.
//
// Writes and drains are serialized internally because a multi-worker
// engine may emit completed blocks from its own goroutines.
type Output struct {
	mu   sync.Mutex
	buf  []byte
	size int
}

// NewOutput allocates an output buffer with the given fixed capacity.
func NewOutput(size int) *Output {
	return &Output{buf: make([]byte, 0, size), size: size}
}

// Write appends p to the buffer. It rejects the whole write with
// ErrOverflow if accepting it would exceed the declared capacity.
func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.buf)+len(p) > o.size {
		return 0, ErrOverflow
	}

	o.buf = append(o.buf, p...)
	return len(p), nil
}

// Len returns the current position counter.
func (o *Output) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf)
}

// Size returns the fixed capacity.
func (o *Output) Size() int {
	return o.size
}

// Overflowed reports whether the position counter exceeds the declared
// capacity. With the append-based Write above this cannot happen, but the
// record loop checks it after every engine call anyway: a violation means
// the engine wrote past the buffer's contract.
func (o *Output) Overflowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf) > o.size
}

// DrainTo writes the buffered bytes to w and resets the position counter.
// A short write is reported as an error even if w returned none.
func (o *Output) DrainTo(w io.Writer) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.buf) == 0 {
		return 0, nil
	}

	n, err := w.Write(o.buf)
	if err != nil {
		return n, err
	}
	if n != len(o.buf) {
		return n, io.ErrShortWrite
	}

	o.buf = o.buf[:0]
	return n, nil
}

// Reset discards any buffered bytes.
func (o *Output) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf = o.buf[:0]
}
