// Package bookkeeping persists the commit ID and operation ID counters of a
// database inside the database itself, so that numbering resumes from the
// last durably committed values after a restart.
//
// The counters live in a single-row table. An append-only tracking table
// records each commit ID handed out, and is pruned on Open to its maximum.
package bookkeeping

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3" // Import for registration side-effect.
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.shiplog.dev/core/metrics"
)

// State is the persisted counter row.
type State struct {
	CommitID    int64
	OperationID int64
}

// Bookkeeper issues commit and operation IDs of a database.
type Bookkeeper struct {
	db *sql.DB
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS shiplog_commit_state (
		rowid INTEGER PRIMARY KEY DEFAULT 0 CHECK (rowid = 0), -- Permit just one row.
		commit_id INTEGER NOT NULL,
		operation_id INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS shiplog_commit_log (
		commit_id INTEGER PRIMARY KEY
	);
`

// OpenFile opens the SQLite database at |path| for use with Open.
// Writing transactions take the database lock as they begin.
func OpenFile(path string) (*sql.DB, error) {
	var dsn = "file:" + path + "?" + url.Values{
		"_busy_timeout": {"5000"},
		"_txlock":       {"immediate"},
		"_sync":         {"FULL"},
	}.Encode()

	var db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening %s", path)
	}
	// SQLite serializes writers anyway, and a single connection
	// guarantees transactions observe each other's commits.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Open bootstraps bookkeeping tables of |db|, prunes the tracking table, and
// returns a Bookkeeper positioned at the last durably recorded State.
func Open(ctx context.Context, db *sql.DB) (*Bookkeeper, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, errors.WithMessage(err, "bookkeeping table bootstrap")
	}

	var txn, err = db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	var maxLogged int64
	if err = txn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(commit_id), 0) FROM shiplog_commit_log`).Scan(&maxLogged); err != nil {
		return nil, errors.WithMessage(err, "querying max logged commit ID")
	}
	res, err := txn.ExecContext(ctx, `DELETE FROM shiplog_commit_log WHERE commit_id < ?`, maxLogged)
	if err != nil {
		return nil, errors.WithMessage(err, "pruning commit log")
	}
	var pruned, _ = res.RowsAffected()

	var state State
	err = txn.QueryRowContext(ctx,
		`SELECT commit_id, operation_id FROM shiplog_commit_state`).Scan(&state.CommitID, &state.OperationID)

	if err == sql.ErrNoRows {
		if _, err = txn.ExecContext(ctx,
			`INSERT INTO shiplog_commit_state(rowid, commit_id, operation_id) VALUES (0, 0, 0)`); err != nil {
			return nil, errors.WithMessage(err, "initializing commit state")
		}
	} else if err != nil {
		return nil, errors.WithMessage(err, "reading commit state")
	}

	// The state row trails the tracking table only if it was written by
	// an older process which recorded IDs without advancing the row.
	if maxLogged > state.CommitID {
		state.CommitID = maxLogged
		if _, err = txn.ExecContext(ctx,
			`UPDATE shiplog_commit_state SET commit_id = ?`, state.CommitID); err != nil {
			return nil, err
		}
	}
	if err = txn.Commit(); err != nil {
		return nil, errors.WithMessage(err, "committing bookkeeping open")
	}

	prunedRowsTotal.Add(float64(pruned))
	commitIDGauge.Set(float64(state.CommitID))

	log.WithFields(log.Fields{
		"commitID":    state.CommitID,
		"operationID": state.OperationID,
		"pruned":      pruned,
	}).Info("opened commit bookkeeping")

	return &Bookkeeper{db: db}, nil
}

// State reads the current, committed State.
func (b *Bookkeeper) State(ctx context.Context) (State, error) {
	var s State
	var err = b.db.QueryRowContext(ctx,
		`SELECT commit_id, operation_id FROM shiplog_commit_state`).Scan(&s.CommitID, &s.OperationID)
	return s, err
}

// NextCommitID advances and returns the commit ID within |txn|. The new ID is
// durable only if |txn| commits, and a rollback returns it for reuse.
func (b *Bookkeeper) NextCommitID(ctx context.Context, txn *sql.Tx) (int64, error) {
	var id, err = advance(ctx, txn, "commit_id")
	if err != nil {
		return 0, err
	}
	if _, err = txn.ExecContext(ctx,
		`INSERT OR IGNORE INTO shiplog_commit_log(commit_id) VALUES (?)`, id); err != nil {
		return 0, errors.WithMessage(err, "tracking commit ID")
	}
	commitIDGauge.Set(float64(id))
	return id, nil
}

// NextOperationID advances and returns the operation ID within |txn|.
func (b *Bookkeeper) NextOperationID(ctx context.Context, txn *sql.Tx) (int64, error) {
	return advance(ctx, txn, "operation_id")
}

// Record an externally assigned |commitID| within |txn|. The persisted commit
// ID never decreases.
func (b *Bookkeeper) Record(ctx context.Context, txn *sql.Tx, commitID int64) error {
	if _, err := txn.ExecContext(ctx,
		`INSERT OR IGNORE INTO shiplog_commit_log(commit_id) VALUES (?)`, commitID); err != nil {
		return errors.WithMessage(err, "tracking commit ID")
	}
	if _, err := txn.ExecContext(ctx,
		`UPDATE shiplog_commit_state SET commit_id = MAX(commit_id, ?)`, commitID); err != nil {
		return errors.WithMessage(err, "recording commit ID")
	}
	return nil
}

func advance(ctx context.Context, txn *sql.Tx, column string) (int64, error) {
	if _, err := txn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE shiplog_commit_state SET %[1]s = %[1]s + 1`, column)); err != nil {
		return 0, errors.WithMessagef(err, "advancing %s", column)
	}
	var id int64
	if err := txn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM shiplog_commit_state`, column)).Scan(&id); err != nil {
		return 0, errors.WithMessagef(err, "reading %s", column)
	}
	return id, nil
}

var (
	commitIDGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: metrics.BookkeepingCommitIDKey,
		Help: "Most recently issued or recovered commit ID.",
	})
	prunedRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.BookkeepingPrunedTotalKey,
		Help: "Cumulative number of commit tracking rows pruned on open.",
	})
)
