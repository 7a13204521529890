package record

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Entry is a unit of work enqueued to a log's Queue.
// It's one of *Command, *Flush, *Commit, or *Rollback.
type Entry interface {
	isEntry()
}

// Command is a logged SQL operation of a transaction.
type Command struct {
	// DBPath is the path of the database the operation was applied to.
	DBPath string
	// CommitID of the transaction scope which includes this operation.
	CommitID int64
	// SQL statement text. A nil SQL means "the statement of the previous
	// Command", and is valid only within a single staged transaction.
	SQL *string
	// Args are bound values of the statement, in positional order.
	Args []interface{}
}

// NewCommand returns a Command of the statement and its Args.
func NewCommand(dbPath string, commitID int64, sql string, args ...interface{}) *Command {
	return &Command{DBPath: dbPath, CommitID: commitID, SQL: &sql, Args: args}
}

// Statement returns the SQL text of the Command, or "" if it's absent.
func (c *Command) Statement() string {
	if c.SQL == nil {
		return ""
	}
	return *c.SQL
}

// Flush is a barrier Entry. Its Gate is opened by the log writer once every
// Entry enqueued before the Flush is durable.
type Flush struct {
	once sync.Once
	gate *Gate
	fail *AsyncOperation
}

// NewFlush returns a Flush with a closed Gate.
func NewFlush() *Flush {
	return &Flush{gate: NewGate(), fail: NewAsyncOperation()}
}

// Gate of the Flush.
func (f *Flush) Gate() *Gate { return f.gate }

// Resolve the Flush. A nil error opens the Gate, and a non-nil error fails
// the Flush without opening the Gate. Only the first call has an effect.
func (f *Flush) Resolve(err error) {
	f.once.Do(func() {
		if err == nil {
			f.gate.Open()
		} else {
			f.fail.Resolve(err)
		}
	})
}

// Wait for the Flush to resolve. It returns nil only if the Gate opened.
// If |ctx| is cancelled first, ErrDurabilityUnknown is returned: earlier
// entries may or may not be durable, and callers must retry rather than
// assume either outcome.
func (f *Flush) Wait(ctx context.Context) error {
	select {
	case <-f.gate.Done():
		return nil
	case <-f.fail.Done():
		return f.fail.Err()
	case <-ctx.Done():
		return errors.WithMessage(ErrDurabilityUnknown, ctx.Err().Error())
	}
}

// Commit marks the end of a transaction. The log writer publishes the
// transaction's staging file and resolves Op with the outcome.
type Commit struct {
	CommitID int64
	Op       *AsyncOperation
}

// NewCommit returns a Commit of the |commitID|.
func NewCommit(commitID int64) *Commit {
	return &Commit{CommitID: commitID, Op: NewAsyncOperation()}
}

// Rollback abandons the current transaction, discarding its staging file.
type Rollback struct {
	Op *AsyncOperation
}

// NewRollback returns a new Rollback.
func NewRollback() *Rollback { return &Rollback{Op: NewAsyncOperation()} }

func (*Command) isEntry()  {}
func (*Flush) isEntry()    {}
func (*Commit) isEntry()   {}
func (*Rollback) isEntry() {}

var (
	// ErrDurabilityUnknown is returned by a Flush wait which was interrupted
	// before the Flush resolved.
	ErrDurabilityUnknown = errors.New("flush interrupted; durability of prior entries is unknown")
	// ErrMissingStatement is returned when a Command omits its SQL but there's
	// no prior statement in the transaction to repeat.
	ErrMissingStatement = errors.New("command has no SQL and no prior statement to repeat")
)
