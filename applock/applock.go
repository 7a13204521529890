// Package applock guarantees a single writing process per database path.
//
// The lock is an exclusive SQLite transaction held open against a dedicated
// lock file in the database's sidecar directory. The open transaction is
// itself the lock: it's never committed, and ends only when the Lock is
// released or the process exits.
package applock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.shiplog.dev/core/metrics"
	"go.shiplog.dev/core/placement"
)

// ErrLocked is the cause of a LockError when another holder has the lock.
var ErrLocked = errors.New("database in use")

// LockError is a failure to acquire the lock of a database.
type LockError struct {
	Path string // Path of the lock file.
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("locking %s: %s", e.Path, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// Lock is a held lock of a database. It must be released.
type Lock struct {
	path string
	db   *sql.DB
	txn  *sql.Tx
	once sync.Once
}

// TryLock attempts to acquire the lock of |dbPath| without blocking.
// If another holder has the lock, a *LockError wrapping ErrLocked is returned.
func TryLock(dbPath string) (*Lock, error) {
	var path = placement.LockFilePath(dbPath)
	var lock, err = tryLock(path)

	lockAcquisitionsTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		return nil, &LockError{Path: path, Err: err}
	}

	log.WithField("path", path).Info("acquired exclusive database lock")
	return lock, nil
}

func tryLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	var dsn = "file:" + path + "?" + url.Values{
		"_busy_timeout": {"0"},
		"_txlock":       {"exclusive"},
	}.Encode()

	var db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	var ctx = context.Background()
	var txn *sql.Tx

	if _, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS shiplog_lock (pid INTEGER)`); err == nil {
		txn, err = db.BeginTx(ctx, nil)
	}
	if err == nil {
		// Writing within the transaction pins its exclusive lock.
		_, err = txn.ExecContext(ctx, `INSERT INTO shiplog_lock(pid) VALUES (?)`, os.Getpid())
	}
	if err != nil {
		if txn != nil {
			_ = txn.Rollback()
		}
		_ = db.Close()
		return nil, mapBusy(err)
	}
	return &Lock{path: path, db: db, txn: txn}, nil
}

// Path of the held lock file.
func (l *Lock) Path() string { return l.path }

// Release the Lock. Errors are logged and otherwise ignored.
// Release may be called more than once.
func (l *Lock) Release() {
	l.once.Do(func() {
		if err := l.txn.Rollback(); err != nil {
			log.WithFields(log.Fields{"path": l.path, "err": err}).Debug("failed to roll back lock transaction")
		}
		if err := l.db.Close(); err != nil {
			log.WithFields(log.Fields{"path": l.path, "err": err}).Debug("failed to close lock database")
		}
		log.WithField("path", l.path).Info("released exclusive database lock")
	})
}

// mapBusy maps SQLite busy and locked errors to ErrLocked.
func mapBusy(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked) {
		return ErrLocked
	}
	return err
}

var lockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: metrics.LockAcquisitionsTotalKey,
	Help: "Cumulative number of attempts to acquire an exclusive database lock.",
}, []string{"status"})
