package trace

import "errors"

// Sentinel errors Init can return, distinguishable with errors.Is so a
// caller (the cgo adapter in bindings/c) can map them to distinct error
// codes.
var (
	// ErrSenderSetup is returned when the sender could not connect to the
	// configured socket path.
	ErrSenderSetup = errors.New("trace: sender setup failed")

	// ErrBadConfig is returned when the configuration is unusable; Init
	// returns it for an empty socket path. A non-positive batch size is
	// not an error: the sender falls back to its default.
	ErrBadConfig = errors.New("trace: invalid configuration")
)
