package record

import (
	"context"
	"sync"
)

// Gate is a one-shot signal. It begins closed and may be opened exactly
// once; further calls to Open are no-ops. Any number of waiters may select
// on Done, and all of them wake when the Gate opens.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate returns a closed Gate.
func NewGate() *Gate { return &Gate{ch: make(chan struct{})} }

// Open the Gate.
func (g *Gate) Open() { g.once.Do(func() { close(g.ch) }) }

// Done selects when the Gate is opened.
func (g *Gate) Done() <-chan struct{} { return g.ch }

// IsOpen returns whether the Gate has been opened.
func (g *Gate) IsOpen() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the Gate opens or |ctx| is done, returning
// ErrDurabilityUnknown in the latter case.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ErrDurabilityUnknown
	}
}

// AsyncOperation is a simple, minimal future of an operation's error.
type AsyncOperation struct {
	once   sync.Once
	doneCh chan struct{} // Closed to signal operation has completed.
	err    error         // Error on operation completion.
}

// NewAsyncOperation returns a new AsyncOperation.
func NewAsyncOperation() *AsyncOperation { return &AsyncOperation{doneCh: make(chan struct{})} }

// Done selects when Resolve is called.
func (o *AsyncOperation) Done() <-chan struct{} { return o.doneCh }

// Err blocks until Resolve is called, then returns its error.
func (o *AsyncOperation) Err() error {
	<-o.Done()
	return o.err
}

// Resolve marks the AsyncOperation as completed with the given error.
// It panics if the AsyncOperation was already resolved.
func (o *AsyncOperation) Resolve(err error) {
	if !o.TryResolve(err) {
		panic("AsyncOperation resolved twice")
	}
}

// TryResolve resolves the AsyncOperation if it hasn't been already,
// and returns whether it did so.
func (o *AsyncOperation) TryResolve(err error) (resolved bool) {
	o.once.Do(func() {
		o.err = err
		close(o.doneCh)
		resolved = true
	})
	return
}

// FinishedOperation is a convenience that returns an already-resolved AsyncOperation.
func FinishedOperation(err error) *AsyncOperation {
	var op = NewAsyncOperation()
	op.Resolve(err)
	return op
}
