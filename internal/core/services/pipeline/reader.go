package pipeline

import (
	"bufio"
	"errors"
	"io"
)

// record is one newline-delimited unit of input, or a read failure.
// A clean end-of-stream is delivered as io.EOF.
type record struct {
	data []byte
	err  error
}

// lineReader reads newline-terminated records from the input stream into
// a single reused buffer. The buffer's initial capacity is a hint: a
// record longer than it grows the buffer to fit rather than truncating.
type lineReader struct {
	br  *bufio.Reader
	buf []byte
}

func newLineReader(r io.Reader, size int) *lineReader {
	return &lineReader{
		br:  bufio.NewReaderSize(r, size),
		buf: make([]byte, 0, size),
	}
}

// next returns the next record including its trailing newline. The
// returned slice is only valid until the following call. A final record
// without a newline is returned as-is; the call after it reports io.EOF.
func (lr *lineReader) next() ([]byte, error) {
	lr.buf = lr.buf[:0]

	for {
		chunk, err := lr.br.ReadSlice('\n')
		lr.buf = append(lr.buf, chunk...)

		switch {
		case err == nil:
			return lr.buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			// Record longer than the reader's window; keep accumulating.
			continue
		case errors.Is(err, io.EOF):
			if len(lr.buf) > 0 {
				return lr.buf, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// readRecords feeds records to the loop one at a time. The handshake on
// release keeps the shared record buffer single-owner: the reader does
// not touch it again until the loop has fully consumed the record.
func (p *Pipeline) readRecords(records chan<- record, release <-chan struct{}) {
	lr := newLineReader(p.input, p.inputSize)

	for {
		data, err := lr.next()

		select {
		case records <- record{data: data, err: err}:
		case <-p.done:
			return
		}

		if err != nil {
			return
		}

		select {
		case <-release:
		case <-p.done:
			return
		}
	}
}
