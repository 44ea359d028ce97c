// Package sink owns the output file the compressed stream is written to.
// Each file is one rotation epoch: it receives complete compression
// frames only, is synced to persistent storage before it is closed, and
// is never reopened once rotation moved past it.
package sink

import (
	"fmt"
	"os"
	"time"

	"github.com/zpipeio/zpipe/internal/core/domain"
	"github.com/zpipeio/zpipe/pkg/fs"
	"go.uber.org/multierr"
)

// FileSink implements ports.Sink on the local filesystem. Exactly one
// file is open at any time. Names derive from the configured prefix, the
// process id and the creation timestamp; a monotonic sequence suffix
// keeps names unique when two files are created within the same
// wall-clock second, since the timestamp alone is second-resolution.
type FileSink struct {
	prefix string
	pid    int

	file *os.File
	path string

	// lastStamp and seq implement the same-second disambiguation.
	lastStamp int64
	seq       int

	// now is the clock; swapped in tests to force timestamp collisions.
	now func() time.Time
}

// New opens the first output file for the given options.
func New(opts *domain.SinkOptions) (*FileSink, error) {
	s := &FileSink{
		prefix: opts.PathPrefix,
		pid:    os.Getpid(),
		now:    time.Now,
	}

	if err := s.open(); err != nil {
		return nil, err
	}

	return s, nil
}

// open creates the next output file with a fresh unique name.
func (s *FileSink) open() error {
	stamp := s.now().Unix()
	if stamp == s.lastStamp {
		s.seq++
	} else {
		s.lastStamp = stamp
		s.seq = 0
	}

	for {
		path := fs.GenerateOutputName(s.prefix, s.pid, stamp, s.seq)

		file, err := fs.CreateExclusive(path)
		if err == nil {
			s.file = file
			s.path = path
			return nil
		}

		// A leftover file from a previous epoch of the same second; bump
		// the sequence and try again.
		if os.IsExist(err) {
			s.seq++
			continue
		}

		return fmt.Errorf("error opening output file %q: %w", path, err)
	}
}

// Write pushes p to the current file, failing if the file does not
// accept all of it.
func (s *FileSink) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("error writing to %q: %w", s.path, err)
	}
	if n != len(p) {
		return n, fmt.Errorf("short write to %q: %d != %d", s.path, n, len(p))
	}
	return n, nil
}

// Close syncs the current file to disk, then closes it. Both steps must
// succeed for the file to count as durably finished.
func (s *FileSink) Close() error {
	if s.file == nil {
		return nil
	}

	var err error
	if syncErr := s.file.Sync(); syncErr != nil {
		err = multierr.Append(err, fmt.Errorf("error syncing %q to disk: %w", s.path, syncErr))
	}
	if closeErr := s.file.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("error closing %q: %w", s.path, closeErr))
	}

	s.file = nil
	return err
}

// Reopen durably closes the current file and opens a new uniquely named
// one. No partial state is tolerated: if either half fails, the sink is
// left without a usable file and the error is fatal to the caller.
func (s *FileSink) Reopen() error {
	if s.file == nil {
		return fmt.Errorf("no output file open")
	}

	if err := s.Close(); err != nil {
		return err
	}

	return s.open()
}

// Path returns the name of the currently open file.
func (s *FileSink) Path() string {
	return s.path
}
