package applock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	gc "gopkg.in/check.v1"
)

type LockSuite struct{}

func (s *LockSuite) TestAttemptToLockTwice(c *gc.C) {
	var dbPath = filepath.Join(c.MkDir(), "app.db")

	l1, err := TryLock(dbPath)
	c.Assert(err, gc.IsNil)
	c.Assert(l1, gc.NotNil)

	l2, err := TryLock(dbPath)
	c.Assert(l2, gc.IsNil)
	c.Assert(errors.Is(err, ErrLocked), gc.Equals, true)

	var lockErr *LockError
	c.Assert(errors.As(err, &lockErr), gc.Equals, true)
	c.Assert(lockErr.Path, gc.Equals, filepath.Join(filepath.Dir(dbPath), ".app.db-shiplog", "lock"))
	c.Assert(err.Error(), gc.Equals, "locking "+lockErr.Path+": database in use")

	l1.Release()
	l1.Release() // Idempotent.

	l2, err = TryLock(dbPath)
	c.Assert(err, gc.IsNil)
	c.Assert(l2.Path(), gc.Equals, lockErr.Path)
	l2.Release()
}

func (s *LockSuite) TestIndependentDatabases(c *gc.C) {
	var dir = c.MkDir()

	l1, err := TryLock(filepath.Join(dir, "a.db"))
	c.Assert(err, gc.IsNil)
	l2, err := TryLock(filepath.Join(dir, "b.db"))
	c.Assert(err, gc.IsNil)

	l1.Release()
	l2.Release()
}

func (s *LockSuite) TestUnwritableDirectory(c *gc.C) {
	if os.Geteuid() == 0 {
		c.Skip("permissions are not enforced for root")
	}
	var dir = c.MkDir()
	c.Assert(os.Chmod(dir, 0500), gc.IsNil)
	defer os.Chmod(dir, 0700)

	var _, err = TryLock(filepath.Join(dir, "app.db"))
	c.Assert(err, gc.NotNil)
	c.Assert(errors.Is(err, ErrLocked), gc.Equals, false)
}

func (s *LockSuite) TestMapBusy(c *gc.C) {
	c.Assert(mapBusy(sqlite3.Error{Code: sqlite3.ErrBusy}), gc.Equals, ErrLocked)
	c.Assert(mapBusy(sqlite3.Error{Code: sqlite3.ErrLocked}), gc.Equals, ErrLocked)

	var other = errors.New("disk I/O error")
	c.Assert(mapBusy(other), gc.Equals, other)
}

var _ = gc.Suite(&LockSuite{})

func Test(t *testing.T) { gc.TestingT(t) }
