package shipper

import "fmt"

// ShipError is a failure to copy a local file to the destination at Index.
// The file is retained and retried by a later scan.
type ShipError struct {
	Index int
	Path  string
	Err   error
}

func (e *ShipError) Error() string {
	return fmt.Sprintf("shipping %s to destination %d: %s", e.Path, e.Index, e.Err)
}

func (e *ShipError) Unwrap() error { return e.Err }
