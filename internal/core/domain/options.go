// Package domain defines the core option types for the zpipe stream
// compressor.
package domain

// EngineOptions configures the streaming compression engine.
type EngineOptions struct {
	// Level is the zstd compression level. Must be at least 1; the
	// recommended range is 1-19. Higher levels trade CPU for ratio.
	Level int

	// Workers is the engine's internal worker count. A value of 1 selects
	// single-threaded mode; the parallel-compression parameter is only
	// applied when Workers is greater than 1. The record loop never
	// coordinates with these workers directly, it only drives feed/flush
	// until the engine reports no remaining work.
	Workers int
}

// SinkOptions configures the output file sink.
type SinkOptions struct {
	// PathPrefix is the base name output files derive from. The final
	// name is "<prefix>.<pid>.<unix-seconds>", with a monotonic sequence
	// suffix appended when two files would otherwise collide within the
	// same second.
	PathPrefix string
}
