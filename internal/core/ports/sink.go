package ports

import "io"

// Sink owns the current output file. Exactly one file is open for writing
// at any time; Reopen atomically moves from one epoch to the next.
type Sink interface {
	// Write pushes compressed bytes to the current file. A write that the
	// file does not fully accept is an error.
	io.Writer

	// Reopen durably closes the current file (sync to disk, then close)
	// and opens a new uniquely named one. If either half fails the sink is
	// unusable and the process cannot safely continue.
	Reopen() error

	// Close syncs the current file to persistent storage and closes it.
	Close() error

	// Path returns the name of the currently open file.
	Path() string
}
