// Package pipeline drives the record loop: it reads newline-terminated
// records from the input stream, feeds them through the compression
// engine into the output sink, and acknowledges each record on the
// control channel. Rotation requests are serviced cooperatively between
// records, so they never interleave with an in-flight write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zpipeio/zpipe/internal/adapters/metrics"
	"github.com/zpipeio/zpipe/internal/core/ports"
	"github.com/zpipeio/zpipe/pkg/buffer"
	perrors "github.com/zpipeio/zpipe/pkg/errors"
	"github.com/zpipeio/zpipe/pkg/system"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrClosed indicates a rotation request after the record loop exited.
var ErrClosed = errors.New("pipeline is closed")

// Config holds the collaborators the pipeline is wired with.
type Config struct {
	// Input is the record stream. End-of-stream with no error is the
	// clean shutdown trigger.
	Input io.Reader

	// Control receives the OK token once at startup and once per
	// compressed record; the producer uses it for flow control.
	Control io.Writer

	// Engine is the streaming compression engine, constructed over Output.
	Engine ports.Engine

	// Sink owns the current output file.
	Sink ports.Sink

	// Output is the fixed-capacity buffer the engine compresses into.
	Output *buffer.Output

	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics

	// InputBufferSize seeds the record read buffer. Defaults to 8MiB.
	InputBufferSize int
}

// Pipeline owns the stream session: the engine handle, the buffers and
// the current sink target. All of it is mutated only from the loop
// goroutine; rotation requests reach that goroutine through rotateCh.
type Pipeline struct {
	input   io.Reader
	control io.Writer
	engine  ports.Engine
	sink    ports.Sink
	out     *buffer.Output

	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	inputSize int

	// rotateCh carries rotation requests; the reply channel makes a
	// request synchronous for its caller and reports the outcome.
	rotateCh chan chan error

	// done is closed when Run returns; it unblocks the reader goroutine
	// and refuses late rotation requests.
	done chan struct{}
}

var ackToken = []byte("OK\n")

// New validates the wiring and returns a ready pipeline.
func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, perrors.NewValidationError("config", nil, fmt.Errorf("config is required"))
	}
	if cfg.Input == nil {
		return nil, perrors.NewValidationError("input", nil, fmt.Errorf("input stream is required"))
	}
	if cfg.Control == nil {
		return nil, perrors.NewValidationError("control", nil, fmt.Errorf("control channel is required"))
	}
	if cfg.Engine == nil {
		return nil, perrors.NewValidationError("engine", nil, fmt.Errorf("compression engine is required"))
	}
	if cfg.Sink == nil {
		return nil, perrors.NewValidationError("sink", nil, fmt.Errorf("output sink is required"))
	}
	if cfg.Output == nil {
		return nil, perrors.NewValidationError("output", nil, fmt.Errorf("output buffer is required"))
	}
	if cfg.Logger == nil {
		return nil, perrors.NewValidationError("logger", nil, fmt.Errorf("logger is required"))
	}

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.InputBufferSize <= 0 {
		cfg.InputBufferSize = DefaultInputBufferSize
	}

	return &Pipeline{
		input:     cfg.Input,
		control:   cfg.Control,
		engine:    cfg.Engine,
		sink:      cfg.Sink,
		out:       cfg.Output,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		inputSize: cfg.InputBufferSize,
		rotateCh:  make(chan chan error),
		done:      make(chan struct{}),
	}, nil
}

// Run executes the record loop until end-of-stream, a failure, or
// context cancellation, then drains the compression frame to a clean
// boundary.
//
// The returned error is nil for every path that ends in a clean flush
// trigger: end-of-stream, cancellation, and input read errors (which are
// logged but not escalated). Engine, sink, integrity and rotation
// failures return a terminal error the caller maps to a non-zero exit.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.done)

	// Readiness token: the producer may send the first record now.
	if err := p.ack(); err != nil {
		return fmt.Errorf("error writing initial ack: %w", err)
	}

	records := make(chan record)
	release := make(chan struct{})
	go p.readRecords(records, release)

	var runErr error

loop:
	for {
		select {
		case reply := <-p.rotateCh:
			err := p.rotate()
			reply <- err
			if err != nil {
				// A partially rotated stream cannot be resumed; no
				// shutdown flush is attempted on unknown state.
				p.countError(err)
				return err
			}

		case rec := <-records:
			if rec.err != nil {
				if errors.Is(rec.err, io.EOF) {
					p.log.Infow("input stream closed, draining")
				} else {
					p.log.Errorw("error reading input stream", "error", rec.err)
					p.metrics.ErrorsTotal.WithLabelValues(perrors.ErrorInput.String()).Inc()
				}
				break loop
			}

			if err := p.process(rec.data); err != nil {
				p.log.Errorw("record processing failed",
					"error", err, "category", perrors.Category(err).String(), "file", p.sink.Path())
				p.countError(err)
				if perrors.IsTerminal(err) {
					runErr = err
				}
				break loop
			}
			release <- struct{}{}

		case <-ctx.Done():
			p.log.Infow("shutdown requested, draining")
			break loop
		}
	}

	// Shutdown flush: close the frame so the file on disk is a complete,
	// independently decompressible stream. A failure here is logged but
	// does not change the exit path: every acknowledged record already
	// reached the engine, and cleanup still syncs what the file received.
	if err := p.flushToBoundary(); err != nil {
		p.log.Errorw("can not flush compression frame", "error", err)
		p.countError(err)
	}

	return runErr
}

// process runs one loop iteration past READ: feed the record until the
// engine consumed all of it, push produced bytes to the sink, then ack.
func (p *Pipeline) process(rec []byte) error {
	// Position counter back to zero before feeding.
	p.out.Reset()

	for fed := 0; fed < len(rec); {
		n, err := p.engine.Feed(rec[fed:])
		if err != nil {
			if errors.Is(err, buffer.ErrOverflow) {
				return perrors.New(perrors.ErrorIntegrity, "feed", err)
			}
			return perrors.New(perrors.ErrorEngine, "feed", err)
		}
		fed += n
	}

	if p.out.Overflowed() {
		return perrors.New(perrors.ErrorIntegrity, "feed",
			fmt.Errorf("engine produced %d bytes into a %d byte buffer", p.out.Len(), p.out.Size()))
	}

	written, err := p.out.DrainTo(p.sink)
	if err != nil {
		return perrors.New(perrors.ErrorSink, "write", err)
	}

	p.metrics.RecordsTotal.Inc()
	p.metrics.BytesInTotal.Add(float64(len(rec)))
	p.metrics.BytesOutTotal.Add(float64(written))

	if err := p.ack(); err != nil {
		// The producer side of the control channel is gone; treated like
		// an input failure, not escalated beyond the clean drain.
		return perrors.New(perrors.ErrorInput, "ack", err)
	}

	return nil
}

// flushToBoundary drives the engine's end-of-frame flush until its
// remaining-work indicator reaches zero, draining produced output to the
// sink after every call so nothing is dropped. Calling it after the
// frame is already closed is a no-op.
func (p *Pipeline) flushToBoundary() error {
	for {
		remaining, err := p.engine.FlushEnd()
		if err != nil {
			if errors.Is(err, buffer.ErrOverflow) {
				return perrors.New(perrors.ErrorIntegrity, "flush", err)
			}
			return perrors.New(perrors.ErrorEngine, "flush", err)
		}

		if p.out.Overflowed() {
			return perrors.New(perrors.ErrorIntegrity, "flush",
				fmt.Errorf("engine produced %d bytes into a %d byte buffer", p.out.Len(), p.out.Size()))
		}

		written, err := p.out.DrainTo(p.sink)
		if err != nil {
			return perrors.New(perrors.ErrorSink, "flush", err)
		}
		p.metrics.BytesOutTotal.Add(float64(written))

		if remaining == 0 {
			return nil
		}
	}
}

// rotate closes the current frame, swaps the output file and opens a new
// frame. Runs on the loop goroutine, strictly between records. Every
// step is fatal on failure: without a flushed frame and a writable sink
// the stream cannot continue.
func (p *Pipeline) rotate() error {
	previous := p.sink.Path()

	if err := p.flushToBoundary(); err != nil {
		return perrors.New(perrors.ErrorRotation, "flush", err)
	}

	if err := p.sink.Reopen(); err != nil {
		return perrors.New(perrors.ErrorRotation, "reopen", err)
	}

	// Same engine state, fresh frame: the finished file decompresses on
	// its own and the new file starts another self-contained stream.
	if err := p.engine.Reset(); err != nil {
		return perrors.New(perrors.ErrorRotation, "reset", err)
	}

	p.metrics.RotationsTotal.Inc()
	p.log.Infow("output file rotated", "previous", previous, "file", p.sink.Path())
	return nil
}

// Rotate requests a rotation and waits for it to complete. Safe to call
// from any goroutine at any time; the request is serviced by the loop
// between records. Returns ErrClosed once the loop has exited.
func (p *Pipeline) Rotate() error {
	reply := make(chan error, 1)

	select {
	case p.rotateCh <- reply:
		return <-reply
	case <-p.done:
		return ErrClosed
	}
}

// Close releases the engine and durably closes the sink. Any output the
// engine emits while closing is drained first so it is not dropped.
// Call after Run has returned.
func (p *Pipeline) Close(ctx context.Context) error {
	return system.RunWithContext(ctx, func(context.Context) error {
		var err error

		if cerr := p.engine.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
		if _, derr := p.out.DrainTo(p.sink); derr != nil {
			err = multierr.Append(err, derr)
		}
		if cerr := p.sink.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}

		return err
	})
}

func (p *Pipeline) ack() error {
	if _, err := p.control.Write(ackToken); err != nil {
		return err
	}
	p.metrics.AcksTotal.Inc()
	return nil
}

func (p *Pipeline) countError(err error) {
	p.metrics.ErrorsTotal.WithLabelValues(perrors.Category(err).String()).Inc()
}
