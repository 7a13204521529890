package stager

import "fmt"

// WriteError is returned when an append to a staging file fails.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing staging file %s: %s", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// PublishError is returned when a committed staging file could not be
// relocated to its published path. The staging file remains in place,
// and publishing may be re-attempted from it.
type PublishError struct {
	StagePath string
	Seq       int64
	CommitID  int64
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing %s (seq %d, commit %d): %s",
		e.StagePath, e.Seq, e.CommitID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
