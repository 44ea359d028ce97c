// Package engine implements the streaming compression engine on top of
// the zstd algorithm. Compressed bytes are written into the output buffer
// the engine is constructed with; the record loop drains that buffer to
// the sink between calls.
package engine

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/zpipeio/zpipe/internal/core/domain"
)

// ZstdEngine implements ports.Engine using a single long-lived zstd
// encoder. The encoder's dictionary and tuning survive frame boundaries:
// FlushEnd closes the current frame (trailer plus integrity checksum) and
// Reset opens the next one on the same encoder, which is how rotation
// produces a finished, independently decompressible file followed by a
// brand-new one.
//
// The engine is owned by the record loop and is not safe for concurrent
// use. With more than one worker the encoder parallelizes block
// compression internally, but that is opaque throughput parallelism; the
// feed/flush surface stays sequential.
type ZstdEngine struct {
	enc   *zstd.Encoder
	out   io.Writer
	level int

	// frameOpen tracks whether the encoder is mid-frame. It starts true:
	// a fresh engine that is flushed without input still emits a valid
	// empty frame, and FlushEnd on an already closed frame is a no-op.
	frameOpen bool
}

// NewZstd creates a streaming zstd engine writing into out.
//
// The frame integrity checksum is always enabled. The parallel-worker
// parameter is applied only when the configured worker count exceeds 1;
// a count of 1 selects fully synchronous single-threaded mode.
func NewZstd(out io.Writer, opts *domain.EngineOptions) (*ZstdEngine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := Validate(opts); err != nil {
		return nil, err
	}

	concurrency := 1
	if opts.Workers > 1 {
		concurrency = opts.Workers
	}

	enc, err := zstd.NewWriter(
		out,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
		zstd.WithEncoderCRC(true),
		zstd.WithEncoderConcurrency(concurrency),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	return &ZstdEngine{
		enc:       enc,
		out:       out,
		level:     opts.Level,
		frameOpen: true,
	}, nil
}

// Feed hands p to the open frame. The encoder copies the input before
// returning, so the caller may reuse the record buffer immediately. Any
// output the encoder completes lands in the engine's output buffer; a
// short record often produces zero output because the encoder buffers
// internally until a block fills.
func (e *ZstdEngine) Feed(p []byte) (int, error) {
	if !e.frameOpen {
		e.enc.Reset(e.out)
		e.frameOpen = true
	}

	n, err := e.enc.Write(p)
	if err != nil {
		return n, fmt.Errorf("feed failed after %d bytes: %w", n, err)
	}

	return n, nil
}

// FlushEnd closes the current frame, writing the trailer and checksum
// into the output buffer. The zstd encoder completes the frame in a
// single call, so a successful FlushEnd always reports zero remaining
// work; callers still follow the call-until-zero protocol required by
// the Engine contract.
func (e *ZstdEngine) FlushEnd() (int, error) {
	if !e.frameOpen {
		return 0, nil
	}

	if err := e.enc.Close(); err != nil {
		return 0, fmt.Errorf("failed to end frame: %w", err)
	}

	e.frameOpen = false
	return 0, nil
}

// Reset opens a new frame on the same encoder. Called after rotation so
// the new output file starts a fresh frame immediately; a shutdown flush
// that follows with no further input then still emits a complete (empty)
// frame into the new file.
func (e *ZstdEngine) Reset() error {
	if e.frameOpen {
		return fmt.Errorf("cannot reset engine with an open frame")
	}

	e.enc.Reset(e.out)
	e.frameOpen = true
	return nil
}

// Close ends the current frame if one is open and releases the encoder.
func (e *ZstdEngine) Close() error {
	if !e.frameOpen {
		return nil
	}

	e.frameOpen = false
	if err := e.enc.Close(); err != nil {
		return fmt.Errorf("error closing encoder: %w", err)
	}

	return nil
}

// Level returns the configured compression level.
func (e *ZstdEngine) Level() int {
	return e.level
}
