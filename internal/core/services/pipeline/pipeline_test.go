package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/klauspost/compress/zstd"
	"github.com/zpipeio/zpipe/internal/adapters/engine"
	"github.com/zpipeio/zpipe/internal/adapters/sink"
	"github.com/zpipeio/zpipe/internal/core/domain"
	"github.com/zpipeio/zpipe/pkg/buffer"
	perrors "github.com/zpipeio/zpipe/pkg/errors"
	"go.uber.org/zap"
)

func newRealPipeline(t *testing.T, input io.Reader, control io.Writer, inputSize int) (*Pipeline, string) {
	t.Helper()

	prefix := filepath.Join(t.TempDir(), "stream")
	snk, err := sink.New(&domain.SinkOptions{PathPrefix: prefix})
	if err != nil {
		t.Fatalf("sink: %v", err)
	}

	out := buffer.NewOutput(DefaultOutputBufferSize)
	eng, err := engine.NewZstd(out, &domain.EngineOptions{Level: 3, Workers: 1})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	p, err := New(&Config{
		Input:           input,
		Control:         control,
		Engine:          eng,
		Sink:            snk,
		Output:          out,
		Logger:          zap.NewNop().Sugar(),
		InputBufferSize: inputSize,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	return p, prefix
}

func outputFiles(t *testing.T, prefix string) []string {
	t.Helper()
	files, err := filepath.Glob(prefix + ".*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	sort.Strings(files)
	return files
}

func decompressFile(t *testing.T, path string) []byte {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decompress %s: %v", path, err)
	}
	return data
}

func countAcks(b []byte) int {
	return bytes.Count(b, ackToken)
}

func TestRoundTrip(t *testing.T) {
	records := []string{"alpha\n", "bravo\n", "charlie\n"}
	input := strings.NewReader(strings.Join(records, ""))

	var control bytes.Buffer
	p, prefix := newRealPipeline(t, input, &control, 0)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	files := outputFiles(t, prefix)
	if len(files) != 1 {
		t.Fatalf("expected 1 output file, got %d: %v", len(files), files)
	}

	got := decompressFile(t, files[0])
	want := strings.Join(records, "")
	if string(got) != want {
		t.Fatalf("decompressed %q, want %q", got, want)
	}

	if acks := countAcks(control.Bytes()); acks != len(records)+1 {
		t.Fatalf("expected %d acks, got %d", len(records)+1, acks)
	}
}

func TestZeroRecords(t *testing.T) {
	var control bytes.Buffer
	p, prefix := newRealPipeline(t, strings.NewReader(""), &control, 0)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	files := outputFiles(t, prefix)
	if len(files) != 1 {
		t.Fatalf("expected 1 output file, got %d", len(files))
	}

	// The file must still be a complete frame with trailer, not empty junk.
	if got := decompressFile(t, files[0]); len(got) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got))
	}

	if acks := countAcks(control.Bytes()); acks != 1 {
		t.Fatalf("expected only the readiness ack, got %d", acks)
	}
}

func TestRecordLargerThanInputBuffer(t *testing.T) {
	long := strings.Repeat("x", 4096) + "\n"
	var control bytes.Buffer

	// 16 bytes forces the reader through its growth path many times.
	p, prefix := newRealPipeline(t, strings.NewReader(long), &control, 16)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := decompressFile(t, outputFiles(t, prefix)[0])
	if string(got) != long {
		t.Fatalf("long record mangled: got %d bytes, want %d", len(got), len(long))
	}
}

func TestFinalRecordWithoutNewline(t *testing.T) {
	var control bytes.Buffer
	p, prefix := newRealPipeline(t, strings.NewReader("first\nlast"), &control, 0)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := decompressFile(t, outputFiles(t, prefix)[0])
	if string(got) != "first\nlast" {
		t.Fatalf("got %q", got)
	}
	if acks := countAcks(control.Bytes()); acks != 3 {
		t.Fatalf("expected 3 acks, got %d", acks)
	}
}

func TestInputErrorDrainsAndExitsClean(t *testing.T) {
	input := io.MultiReader(strings.NewReader("kept\n"), iotest.ErrReader(fmt.Errorf("bad descriptor")))

	var control bytes.Buffer
	p, prefix := newRealPipeline(t, input, &control, 0)

	// An unreadable input stream terminates the loop but is not escalated:
	// the frame is still drained and the exit path stays clean.
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("expected clean run, got %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := decompressFile(t, outputFiles(t, prefix)[0])
	if string(got) != "kept\n" {
		t.Fatalf("got %q", got)
	}
}

// ackSignal forwards every OK token as a channel event so tests can
// sequence writes against acknowledgments.
type ackSignal struct {
	ch chan struct{}
}

func (a *ackSignal) Write(p []byte) (int, error) {
	for i := 0; i < bytes.Count(p, ackToken); i++ {
		a.ch <- struct{}{}
	}
	return len(p), nil
}

func TestRotationMidStream(t *testing.T) {
	pr, pw := io.Pipe()
	acks := &ackSignal{ch: make(chan struct{}, 16)}

	p, prefix := newRealPipeline(t, pr, acks, 0)

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background()) }()

	<-acks.ch // readiness

	for _, rec := range []string{"r1\n", "r2\n"} {
		if _, err := pw.Write([]byte(rec)); err != nil {
			t.Fatalf("write: %v", err)
		}
		<-acks.ch
	}

	if err := p.Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	for _, rec := range []string{"r3\n", "r4\n"} {
		if _, err := pw.Write([]byte(rec)); err != nil {
			t.Fatalf("write: %v", err)
		}
		<-acks.ch
	}

	pw.Close()
	if err := <-runDone; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	files := outputFiles(t, prefix)
	if len(files) != 2 {
		t.Fatalf("expected 2 output files, got %d: %v", len(files), files)
	}

	// No byte lost or duplicated across the boundary, and each file is a
	// self-contained decompressible frame.
	if got := decompressFile(t, files[0]); string(got) != "r1\nr2\n" {
		t.Fatalf("first file: got %q", got)
	}
	if got := decompressFile(t, files[1]); string(got) != "r3\nr4\n" {
		t.Fatalf("second file: got %q", got)
	}
}

func TestRotateAfterShutdown(t *testing.T) {
	var control bytes.Buffer
	p, _ := newRealPipeline(t, strings.NewReader(""), &control, 0)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Rotate(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// fakeEngine scripts engine behavior the real zstd backend cannot
// exhibit on demand: partial consumption, multi-step flushes, failures.
type fakeEngine struct {
	out io.Writer

	maxFeed  int
	feedErr  error
	flushSeq []int
	flushOut []byte

	fed    []byte
	resets int
	closed bool
}

func (f *fakeEngine) Feed(p []byte) (int, error) {
	if f.feedErr != nil {
		return 0, f.feedErr
	}

	n := len(p)
	if f.maxFeed > 0 && n > f.maxFeed {
		n = f.maxFeed
	}
	f.fed = append(f.fed, p[:n]...)

	if f.out != nil {
		if _, err := f.out.Write(p[:n]); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (f *fakeEngine) FlushEnd() (int, error) {
	if len(f.flushSeq) == 0 {
		return 0, nil
	}

	remaining := f.flushSeq[0]
	f.flushSeq = f.flushSeq[1:]

	if f.out != nil && len(f.flushOut) > 0 {
		if _, err := f.out.Write(f.flushOut); err != nil {
			return 0, err
		}
	}
	return remaining, nil
}

func (f *fakeEngine) Reset() error { f.resets++; return nil }
func (f *fakeEngine) Close() error { f.closed = true; return nil }
func (f *fakeEngine) Level() int   { return 1 }

// memSink collects everything written per rotation epoch in memory.
type memSink struct {
	files     []*bytes.Buffer
	writeErr  error
	reopenErr error
}

func newMemSink() *memSink {
	return &memSink{files: []*bytes.Buffer{new(bytes.Buffer)}}
}

func (s *memSink) current() *bytes.Buffer { return s.files[len(s.files)-1] }

func (s *memSink) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.current().Write(p)
}

func (s *memSink) Reopen() error {
	if s.reopenErr != nil {
		return s.reopenErr
	}
	s.files = append(s.files, new(bytes.Buffer))
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) Path() string { return fmt.Sprintf("mem-%d", len(s.files)) }

func newFakePipeline(t *testing.T, input io.Reader, eng *fakeEngine, snk *memSink) (*Pipeline, *bytes.Buffer) {
	t.Helper()

	out := buffer.NewOutput(1 << 20)
	eng.out = out

	var control bytes.Buffer
	p, err := New(&Config{
		Input:   input,
		Control: &control,
		Engine:  eng,
		Sink:    snk,
		Output:  out,
		Logger:  zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return p, &control
}

func TestFeedRetriesUntilConsumed(t *testing.T) {
	eng := &fakeEngine{maxFeed: 2}
	snk := newMemSink()
	p, _ := newFakePipeline(t, strings.NewReader("abcdefgh\n"), eng, snk)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if string(eng.fed) != "abcdefgh\n" {
		t.Fatalf("engine saw %q, want the whole record", eng.fed)
	}
	if got := snk.current().String(); got != "abcdefgh\n" {
		t.Fatalf("sink got %q", got)
	}
}

func TestFlushDrainsAfterEveryCall(t *testing.T) {
	eng := &fakeEngine{flushSeq: []int{2, 1, 0}, flushOut: []byte("X")}
	snk := newMemSink()
	p, _ := newFakePipeline(t, strings.NewReader(""), eng, snk)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Three flush calls until remaining-work hit zero, output written
	// after each one.
	if got := snk.current().String(); got != "XXX" {
		t.Fatalf("sink got %q, want XXX", got)
	}
}

func TestEngineErrorIsTerminal(t *testing.T) {
	eng := &fakeEngine{feedErr: fmt.Errorf("corrupt state")}
	p, _ := newFakePipeline(t, strings.NewReader("r1\n"), eng, newMemSink())

	err := p.Run(context.Background())
	if !perrors.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if perrors.Category(err) != perrors.ErrorEngine {
		t.Fatalf("expected engine category, got %v", perrors.Category(err))
	}
}

func TestOverflowIsIntegrityError(t *testing.T) {
	eng := &fakeEngine{feedErr: fmt.Errorf("write: %w", buffer.ErrOverflow)}
	p, _ := newFakePipeline(t, strings.NewReader("r1\n"), eng, newMemSink())

	err := p.Run(context.Background())
	if perrors.Category(err) != perrors.ErrorIntegrity {
		t.Fatalf("expected integrity category, got %v (%v)", perrors.Category(err), err)
	}
}

func TestSinkWriteErrorIsTerminal(t *testing.T) {
	eng := &fakeEngine{}
	snk := newMemSink()
	snk.writeErr = fmt.Errorf("disk full")
	p, _ := newFakePipeline(t, strings.NewReader("r1\n"), eng, snk)

	err := p.Run(context.Background())
	if !perrors.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if perrors.Category(err) != perrors.ErrorSink {
		t.Fatalf("expected sink category, got %v", perrors.Category(err))
	}
}

func TestRotationFailureIsTerminal(t *testing.T) {
	eng := &fakeEngine{}
	snk := newMemSink()
	snk.reopenErr = fmt.Errorf("permission denied")

	pr, pw := io.Pipe()
	defer pw.Close()
	p, _ := newFakePipeline(t, pr, eng, snk)

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background()) }()

	rotateErr := p.Rotate()
	if perrors.Category(rotateErr) != perrors.ErrorRotation {
		t.Fatalf("expected rotation category, got %v (%v)", perrors.Category(rotateErr), rotateErr)
	}

	runErr := <-runDone
	if !perrors.IsTerminal(runErr) {
		t.Fatalf("expected terminal run error, got %v", runErr)
	}
}

func TestRotationResetsEngineFrame(t *testing.T) {
	eng := &fakeEngine{}
	snk := newMemSink()

	pr, pw := io.Pipe()
	defer pw.Close()
	p, _ := newFakePipeline(t, pr, eng, snk)

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background()) }()

	if err := p.Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if eng.resets != 1 {
		t.Fatalf("expected 1 engine reset, got %d", eng.resets)
	}
	if len(snk.files) != 2 {
		t.Fatalf("expected a fresh sink file, got %d", len(snk.files))
	}

	pw.Close()
	if err := <-runDone; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestContextCancellationDrains(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	eng := &fakeEngine{flushSeq: []int{0}, flushOut: []byte("T")}
	snk := newMemSink()
	p, _ := newFakePipeline(t, pr, eng, snk)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx) }()

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("expected clean drain on cancellation, got %v", err)
	}
	if got := snk.current().String(); got != "T" {
		t.Fatalf("expected flush trailer in sink, got %q", got)
	}
}
