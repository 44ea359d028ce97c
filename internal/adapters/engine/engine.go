package engine

import (
	"fmt"

	"github.com/zpipeio/zpipe/internal/core/domain"
)

const (
	// FastestLevel is the lowest accepted compression level.
	FastestLevel = 1

	// DefaultLevel balances speed and ratio (zstd's own default).
	DefaultLevel = 3

	// RecommendedMaxLevel is the upper end of the recommended range.
	// Levels above it are not rejected, only expensive.
	RecommendedMaxLevel = 19
)

// DefaultOptions returns engine settings suitable for most streams:
// default level, single-threaded compression.
func DefaultOptions() *domain.EngineOptions {
	return &domain.EngineOptions{Level: DefaultLevel, Workers: 1}
}

// Validate checks engine options against their accepted bounds. Only the
// lower bound of the level is enforced; the 1-19 range is a
// recommendation, not a contract.
func Validate(opts *domain.EngineOptions) error {
	if opts.Level < FastestLevel {
		return fmt.Errorf("compression level must be at least %d, got %d", FastestLevel, opts.Level)
	}

	if opts.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", opts.Workers)
	}

	return nil
}
