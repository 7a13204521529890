package record

import (
	"fmt"
	"strings"
)

// Validator checks the statements of Commands before they're staged.
// Its typical implementation is the administrative SQL validator, which
// recognizes and vets internal control statements.
type Validator interface {
	Validate(sql string) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(sql string) error

// Validate invokes the ValidatorFunc.
func (fn ValidatorFunc) Validate(sql string) error { return fn(sql) }

// ValidationError is returned for a malformed Command.
type ValidationError struct {
	CommitID int64
	SQL      string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.SQL == "" {
		return fmt.Sprintf("invalid command (commit %d): %s", e.CommitID, e.Err)
	}
	return fmt.Sprintf("invalid command (commit %d, sql %q): %s", e.CommitID, e.SQL, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate a Command, given whether a prior statement exists within its
// transaction. If |v| is non-nil, present statements are also checked by it.
func Validate(cmd *Command, hasPrior bool, v Validator) error {
	if cmd.SQL == nil {
		if !hasPrior {
			return &ValidationError{CommitID: cmd.CommitID, Err: ErrMissingStatement}
		}
		return nil
	}
	if strings.TrimSpace(*cmd.SQL) == "" {
		return &ValidationError{CommitID: cmd.CommitID, Err: fmt.Errorf("empty statement")}
	}
	if v != nil {
		if err := v.Validate(*cmd.SQL); err != nil {
			return &ValidationError{CommitID: cmd.CommitID, SQL: *cmd.SQL, Err: err}
		}
	}
	return nil
}
