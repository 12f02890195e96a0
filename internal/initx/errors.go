// Package initx holds small process-lifecycle helpers shared by the
// cctrace command entrypoints.
package initx

import "fmt"

// ExitError carries a specific process exit code out of run(), so main()
// can distinguish "exit cleanly with code N" from an unexpected error that
// should print and exit 1.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("cctrace: exited with code %d", e.Code)
}
