package crtp

import "errors"

// The error taxonomy below is returned (optionally wrapped with
// fmt.Errorf's %w) by every layer of this module. Callers should compare
// against these sentinels with errors.Is rather than switching on
// dynamic types.
var (
	// ErrTimeout is returned when an operation exhausted its retry budget
	// without receiving a matching response.
	ErrTimeout = errors.New("crtp: operation timed out")

	// ErrLinkLost is returned when a link worker gives up on a
	// connection after its resending strategy signals Stop.
	ErrLinkLost = errors.New("crtp: link lost")

	// ErrWrongURI is returned when a connection URI cannot be parsed or
	// names an unknown driver scheme.
	ErrWrongURI = errors.New("crtp: invalid or unsupported URI")

	// ErrNotFound is returned when a requested TOC entry, memory region
	// or log block does not exist.
	ErrNotFound = errors.New("crtp: not found")

	// ErrIO is returned for low-level transport failures (USB, TCP,
	// gRPC) that are not specific to the CRTP protocol itself.
	ErrIO = errors.New("crtp: i/o error")

	// ErrCommand is returned when a device reports a non-zero status
	// byte in response to a command.
	ErrCommand = errors.New("crtp: command failed")

	// ErrInvalidResponse is returned when a response packet does not
	// match the shape the caller expected (too short, wrong prefix).
	ErrInvalidResponse = errors.New("crtp: invalid response")

	// ErrQueueFull names the condition of a bounded packet queue being
	// full. No code in this module returns it: the dispatcher's packet
	// queues drop the incoming packet instead.
	ErrQueueFull = errors.New("crtp: queue full")

	// ErrNotConfigured names an operation attempted on a connection that
	// has not finished its TOC bring-up. No code in this module returns
	// it: the log and memory services fetch their tables on first use.
	ErrNotConfigured = errors.New("crtp: not configured")
)
