package ports

// Engine is the capability interface for a streaming compression backend.
// This allows us to swap compression engines without changing the record
// loop, and to substitute fakes in tests.
//
// An engine always has exactly one frame in one of two states: open
// (accepting input) or closed (trailer and integrity checksum written).
// Compressed output is delivered into the output buffer the engine was
// constructed with; the caller drains that buffer to the sink.
//
// Implementations are owned by a single goroutine and need not be safe
// for concurrent use.
type Engine interface {
	// Feed hands input bytes to the open frame. It returns the number of
	// bytes consumed; the caller must keep feeding the unconsumed tail
	// until the record is fully accepted.
	Feed(p []byte) (int, error)

	// FlushEnd drives the open frame to its end: trailer and checksum are
	// written and the produced bytes land in the output buffer. It returns
	// the engine's remaining-work indicator; the caller must invoke it
	// again until that reaches zero. Once the frame is closed, further
	// calls are no-ops that report zero immediately.
	//
	// Flushing a frame that never received input still emits a valid,
	// empty compressed frame.
	FlushEnd() (int, error)

	// Reset opens a fresh frame after FlushEnd closed the previous one.
	// The engine's tuning (level, checksum, workers) carries over; the
	// new frame is independently decompressible.
	Reset() error

	// Close releases engine resources, closing the current frame first if
	// one is still open.
	Close() error

	// Level returns the configured compression level.
	Level() int
}
