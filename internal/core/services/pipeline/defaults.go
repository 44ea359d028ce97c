package pipeline

const (
	// DefaultInputBufferSize seeds the record read buffer. A record
	// longer than this grows the buffer; it is a hint, not a cap.
	DefaultInputBufferSize = 8 << 20 // 8MiB

	// DefaultOutputBufferSize is the fixed capacity of the compressed
	// output buffer. Unlike the input side this is a hard limit.
	DefaultOutputBufferSize = 8 << 20 // 8MiB
)
