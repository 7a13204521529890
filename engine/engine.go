// Package engine embeds a shiplog into an application. An Engine owns the
// exclusive lock of a database, numbers its transactions, stages and publishes
// their commands, and ships published files to write archives in the
// background.
//
// A typical transaction looks like:
//
//	var txn, _ = db.BeginTx(ctx, nil)
//	var commitID, _ = eng.NextCommitID(ctx, txn)
//	// ... apply statements to |txn|, logging each with eng.Log(commitID, ...)
//	if err := eng.Flush(ctx); err != nil {
//		txn.Rollback()
//		eng.Rollback()
//	} else if err = txn.Commit(); err != nil {
//		eng.Rollback()
//	} else {
//		err = eng.Commit(commitID).Err()
//	}
//
// The Flush before txn.Commit makes the staged log complete and durable
// before the database commit, which recovery after a crash relies upon.
package engine

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.shiplog.dev/core/applock"
	"go.shiplog.dev/core/bookkeeping"
	"go.shiplog.dev/core/placement"
	"go.shiplog.dev/core/record"
	"go.shiplog.dev/core/shipper"
	"go.shiplog.dev/core/stager"
	"go.shiplog.dev/core/task"
)

// Config configures an Engine.
type Config struct {
	// DBPath of the application's SQLite database.
	DBPath string
	// DBID identifies the database within write archives. If empty, the
	// base name of DBPath is used.
	DBID string
	// Seq is the log segment into which transactions are published.
	Seq int64
	// Fs of staged and published files. Defaults to the OS filesystem.
	Fs afero.Fs
	// Placer of log files. Required.
	Placer placement.Placer
	// Validator of logged statements. Optional.
	Validator record.Validator
	// Shipper configures background shipping. Its Fs, Placer, DBPath and
	// DBID are populated from the Engine.
	Shipper shipper.Config
	// Archivers are the write archives of published files. If empty,
	// files are published but not shipped.
	Archivers []shipper.Archiver
}

// Engine is a running shiplog of a single database.
type Engine struct {
	cfg     Config
	lock    *applock.Lock
	db      *sql.DB
	books   *bookkeeping.Bookkeeper
	meta    *stager.StaticMeta
	queue   *record.Queue
	writer  *stager.Writer
	shipper *shipper.Shipper

	tasks      *task.Group
	writerDone chan struct{}
}

// Open the Engine of Config. It fails with an applock.ErrLocked if another
// process holds the database. Staging files left behind by a prior process
// are resolved before Open returns.
func Open(ctx context.Context, cfg Config) (_ *Engine, err error) {
	if cfg.DBPath == "" || cfg.Placer == nil {
		return nil, errors.New("DBPath and Placer are required")
	}
	if cfg.DBID == "" {
		cfg.DBID = DefaultDatabaseID(cfg.DBPath)
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}

	var e = &Engine{
		cfg:        cfg,
		meta:       stager.NewStaticMeta(cfg.DBID, cfg.Seq),
		queue:      record.NewQueue(),
		writerDone: make(chan struct{}),
	}
	if e.lock, err = applock.TryLock(cfg.DBPath); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			e.release()
		}
	}()

	if e.db, err = bookkeeping.OpenFile(cfg.DBPath); err != nil {
		return nil, err
	}
	if e.books, err = bookkeeping.Open(ctx, e.db); err != nil {
		return nil, err
	}
	state, err := e.books.State(ctx)
	if err != nil {
		return nil, err
	}
	recovered, err := stager.Recover(cfg.Fs, cfg.Placer, cfg.DBPath, e.meta, state.CommitID)
	if err != nil {
		return nil, errors.WithMessage(err, "recovering staging files")
	}

	e.writer = stager.NewWriter(cfg.Fs, cfg.Placer, cfg.DBPath, e.meta, e.queue)
	e.writer.Validator = cfg.Validator

	if len(cfg.Archivers) != 0 {
		var sc = cfg.Shipper
		sc.Fs, sc.Placer, sc.DBPath, sc.DBID = cfg.Fs, cfg.Placer, cfg.DBPath, cfg.DBID

		if e.shipper, err = shipper.New(sc, cfg.Archivers...); err != nil {
			return nil, err
		}
	}

	e.tasks = task.NewGroup(context.Background())
	e.tasks.Queue("writer.Serve", func() error {
		defer close(e.writerDone)
		return e.writer.Serve(e.tasks.Context())
	})
	if e.shipper != nil {
		e.tasks.Queue("shipper.Serve", func() error {
			return e.shipper.Serve(e.tasks.Context())
		})
	}
	e.tasks.GoRun()

	log.WithFields(log.Fields{
		"db":           cfg.DBPath,
		"dbID":         cfg.DBID,
		"seq":          cfg.Seq,
		"placement":    cfg.Placer.Name(),
		"lastCommitID": state.CommitID,
		"recovered":    recovered,
		"destinations": len(cfg.Archivers),
	}).Info("opened shiplog engine")

	return e, nil
}

// DefaultDatabaseID is the database ID used when none is configured.
func DefaultDatabaseID(dbPath string) string { return filepath.Base(dbPath) }

// DB returns the bookkeeping handle of the database.
func (e *Engine) DB() *sql.DB { return e.db }

// DatabaseID returns the ID of the database within write archives.
func (e *Engine) DatabaseID() string { return e.cfg.DBID }

// NextCommitID returns the commit ID of application transaction |txn|.
// It's durable only if |txn| commits.
func (e *Engine) NextCommitID(ctx context.Context, txn *sql.Tx) (int64, error) {
	return e.books.NextCommitID(ctx, txn)
}

// NextOperationID returns the next operation ID within |txn|.
func (e *Engine) NextOperationID(ctx context.Context, txn *sql.Tx) (int64, error) {
	return e.books.NextOperationID(ctx, txn)
}

// Log a statement of transaction |commitID|. A nil |sql| repeats the previous
// statement of the transaction. Failures surface on Flush or Commit.
// |sql| and |args| may be reused by the caller once Log returns.
func (e *Engine) Log(commitID int64, sql *string, args ...interface{}) error {
	var cmd = &record.Command{
		DBPath:   e.cfg.DBPath,
		CommitID: commitID,
		Args:     append([]interface{}(nil), args...),
	}
	if sql != nil {
		var s = *sql
		cmd.SQL = &s
	}
	return e.queue.Push(cmd)
}

// Flush blocks until every statement logged so far is durable. If |ctx| is
// done first, record.ErrDurabilityUnknown is returned.
func (e *Engine) Flush(ctx context.Context) error {
	var f = record.NewFlush()
	if err := e.queue.Push(f); err != nil {
		return err
	}
	return f.Wait(ctx)
}

// Commit publishes the logged statements of |commitID|. It must be called
// only after the application transaction durably committed, and that commit
// must follow a successful Flush of the transaction's statements.
func (e *Engine) Commit(commitID int64) *record.AsyncOperation {
	var c = record.NewCommit(commitID)
	if err := e.queue.Push(c); err != nil {
		return record.FinishedOperation(err)
	}
	return c.Op
}

// Rollback discards the logged statements of the current transaction.
func (e *Engine) Rollback() *record.AsyncOperation {
	var r = record.NewRollback()
	if err := e.queue.Push(r); err != nil {
		return record.FinishedOperation(err)
	}
	return r.Op
}

// AdvanceSegment starts a new log segment, returning its sequence number.
// Transactions committed afterwards are published into it.
func (e *Engine) AdvanceSegment() int64 {
	var seq = e.meta.Advance()
	log.WithFields(log.Fields{"dbID": e.cfg.DBID, "seq": seq}).Info("advanced log segment")
	return seq
}

// Shipper of the Engine, or nil if it has no Archivers.
func (e *Engine) Shipper() *shipper.Shipper { return e.shipper }

// Close the Engine. Queued entries are drained before shipping stops, and
// the database lock is released.
func (e *Engine) Close() error {
	e.queue.Close()
	<-e.writerDone

	var err = e.tasks.Stop()

	e.release()
	log.WithField("db", e.cfg.DBPath).Info("closed shiplog engine")
	return err
}

func (e *Engine) release() {
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			log.WithFields(log.Fields{"db": e.cfg.DBPath, "err": err}).Warn("failed to close database")
		}
	}
	e.lock.Release()
}
