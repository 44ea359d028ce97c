package fs

import (
	"errors"
	"fmt"
	"os"
)

// GenerateOutputName constructs an output file name from the base prefix,
// the process id and a unix timestamp in seconds. A sequence number
// greater than zero is appended as an extra suffix; it disambiguates
// files created within the same wall-clock second, since the timestamp
// alone is second-resolution only.
func GenerateOutputName(prefix string, pid int, unixSeconds int64, seq int) string {
	if seq > 0 {
		return fmt.Sprintf("%s.%d.%d.%d", prefix, pid, unixSeconds, seq)
	}
	return fmt.Sprintf("%s.%d.%d", prefix, pid, unixSeconds)
}

// CreateExclusive opens path for writing, failing if the file already
// exists. The caller owns the returned handle.
func CreateExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
}

// Exists checks if a file exists or not.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
