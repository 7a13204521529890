package engine

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.shiplog.dev/core/applock"
	"go.shiplog.dev/core/codecs"
	"go.shiplog.dev/core/placement"
	"go.shiplog.dev/core/record"
	"go.shiplog.dev/core/shipper"
	"go.shiplog.dev/core/stager"
	"go.shiplog.dev/core/stores"
)

func TestCommitIsPublishedAndShipped(t *testing.T) {
	var ctx = context.Background()
	var dbPath = filepath.Join(t.TempDir(), "app.db")
	var mem = newMemStore()

	var eng, err = Open(ctx, testConfig(dbPath, mem))
	require.NoError(t, err)

	var commitID = commitOne(t, eng, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", 1)
	require.Equal(t, int64(1), commitID)

	var name = filepath.Base(placement.Transactional.TxnFilePath(dbPath, "app", 7, 1))
	require.Eventually(t, func() bool {
		return len(mem.Paths()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{name}, mem.Paths())

	var rc, _ = mem.Get(ctx, name)
	var cmds []record.Command
	require.NoError(t, record.Replay(rc, func(cmd record.Command) error {
		cmds = append(cmds, cmd)
		return nil
	}))
	require.Len(t, cmds, 1)
	require.Equal(t, "INSERT INTO kv (k, v) VALUES (?, ?)", cmds[0].Statement())

	// The local file is cleaned once shipped.
	require.Eventually(t, func() bool {
		var files, err = shipper.List(afero.NewOsFs(), placement.Transactional, dbPath, "app")
		return err == nil && len(files) == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, eng.Close())
}

func TestDatabaseIsExclusive(t *testing.T) {
	var ctx = context.Background()
	var dbPath = filepath.Join(t.TempDir(), "app.db")

	var eng, err = Open(ctx, testConfig(dbPath, newMemStore()))
	require.NoError(t, err)

	_, err = Open(ctx, testConfig(dbPath, newMemStore()))
	require.True(t, errors.Is(err, applock.ErrLocked))

	require.NoError(t, eng.Close())

	eng, err = Open(ctx, testConfig(dbPath, newMemStore()))
	require.NoError(t, err)
	require.NoError(t, eng.Close())
}

func TestCommitIDsResumeAfterReopen(t *testing.T) {
	var ctx = context.Background()
	var dbPath = filepath.Join(t.TempDir(), "app.db")

	var eng, err = Open(ctx, testConfig(dbPath, newMemStore()))
	require.NoError(t, err)
	require.Equal(t, int64(1), commitOne(t, eng, "x"))
	require.Equal(t, int64(2), commitOne(t, eng, "y"))
	require.NoError(t, eng.Close())

	eng, err = Open(ctx, testConfig(dbPath, newMemStore()))
	require.NoError(t, err)
	require.Equal(t, int64(3), commitOne(t, eng, "z"))
	require.NoError(t, eng.Close())
}

func TestOpenRecoversCommittedStagingFiles(t *testing.T) {
	var ctx = context.Background()
	var dbPath = filepath.Join(t.TempDir(), "app.db")
	var fs = afero.NewOsFs()

	// A prior process committed transaction 1, but exited before publishing.
	var eng, err = Open(ctx, Config{DBPath: dbPath, Placer: placement.Transactional})
	require.NoError(t, err)
	txn, err := eng.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	commitID, err := eng.NextCommitID(ctx, txn)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	require.NoError(t, eng.Close())

	var sql = "DELETE FROM kv"
	committed, err := stager.New(fs, placement.Transactional, dbPath, stager.NewTxnID())
	require.NoError(t, err)
	require.NoError(t, committed.Log(commitID, &sql, nil))
	require.NoError(t, committed.Commit())

	// Transaction 2 never committed.
	uncommitted, err := stager.New(fs, placement.Transactional, dbPath, stager.NewTxnID())
	require.NoError(t, err)
	require.NoError(t, uncommitted.Log(commitID+1, &sql, nil))
	require.NoError(t, uncommitted.Commit())

	var mem = newMemStore()
	eng, err = Open(ctx, testConfig(dbPath, mem))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(mem.Paths()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{filepath.Base(placement.Transactional.TxnFilePath(dbPath, "app", 7, commitID))}, mem.Paths())

	stages, err := afero.ReadDir(fs, placement.StageDirPath(placement.Transactional, dbPath))
	require.NoError(t, err)
	require.Empty(t, stages)

	require.NoError(t, eng.Close())
}

func TestRollbackDiscardsStatements(t *testing.T) {
	var ctx = context.Background()
	var dbPath = filepath.Join(t.TempDir(), "app.db")
	var mem = newMemStore()

	var eng, err = Open(ctx, testConfig(dbPath, mem))
	require.NoError(t, err)

	var sql = "UPDATE kv SET v = v + 1"
	require.NoError(t, eng.Log(1, &sql))
	require.NoError(t, eng.Flush(ctx))
	require.NoError(t, eng.Rollback().Err())

	_, err = eng.Shipper().Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, mem.Paths())

	require.NoError(t, eng.Close())

	// Entries pushed after Close fail.
	require.Equal(t, record.ErrQueueClosed, eng.Log(2, &sql))
	require.Equal(t, record.ErrQueueClosed, eng.Commit(2).Err())
}

func TestLoggedStatementIsCopied(t *testing.T) {
	var ctx = context.Background()
	var dbPath = filepath.Join(t.TempDir(), "app.db")

	var eng, err = Open(ctx, Config{DBPath: dbPath, DBID: "app", Placer: placement.Transactional})
	require.NoError(t, err)

	// The caller reuses |sql| and |args| immediately after each Log.
	var sql = "INSERT INTO kv (k) VALUES (?)"
	var args = []interface{}{"a"}
	require.NoError(t, eng.Log(1, &sql, args...))
	sql, args[0] = "DELETE FROM kv WHERE k = ?", "b"
	require.NoError(t, eng.Log(1, &sql, args...))
	sql, args[0] = "garbage", "garbage"

	require.NoError(t, eng.Flush(ctx))
	require.NoError(t, eng.Commit(1).Err())
	require.NoError(t, eng.Close())

	var f, _ = afero.NewOsFs().Open(placement.Transactional.TxnFilePath(dbPath, "app", 0, 1))
	defer f.Close()

	var got [][]interface{}
	require.NoError(t, record.Replay(f, func(cmd record.Command) error {
		got = append(got, append([]interface{}{cmd.Statement()}, cmd.Args...))
		return nil
	}))
	require.Equal(t, [][]interface{}{
		{"INSERT INTO kv (k) VALUES (?)", "a"},
		{"DELETE FROM kv WHERE k = ?", "b"},
	}, got)
}

func TestAdvanceSegment(t *testing.T) {
	var ctx = context.Background()
	var dbPath = filepath.Join(t.TempDir(), "app.db")

	var eng, err = Open(ctx, Config{DBPath: dbPath, DBID: "orders", Seq: 1, Placer: placement.Event})
	require.NoError(t, err)
	require.Nil(t, eng.Shipper())
	require.Equal(t, "orders", eng.DatabaseID())

	require.Equal(t, int64(2), eng.AdvanceSegment())
	commitOne(t, eng, "x")

	var fs = afero.NewOsFs()
	var ok, _ = afero.Exists(fs, placement.Event.TxnFilePath(dbPath, "orders", 2, 1))
	require.True(t, ok)

	require.NoError(t, eng.Close())
}

func TestOpenValidation(t *testing.T) {
	var _, err = Open(context.Background(), Config{})
	require.EqualError(t, err, "DBPath and Placer are required")
}

// commitOne runs an application transaction which logs a single statement.
func commitOne(t *testing.T, eng *Engine, sql string, args ...interface{}) int64 {
	var ctx = context.Background()

	var txn, err = eng.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	commitID, err := eng.NextCommitID(ctx, txn)
	require.NoError(t, err)

	require.NoError(t, eng.Log(commitID, &sql, args...))
	require.NoError(t, eng.Flush(ctx))
	require.NoError(t, txn.Commit())
	require.NoError(t, eng.Commit(commitID).Err())
	return commitID
}

func testConfig(dbPath string, mem *stores.MemoryStore) Config {
	return Config{
		DBPath: dbPath,
		DBID:   "app",
		Seq:    7,
		Placer: placement.Transactional,
		Shipper: shipper.Config{
			Interval: 10 * time.Millisecond,
		},
		Archivers: []shipper.Archiver{
			shipper.NewStoreArchiver(afero.NewOsFs(), mem, codecs.None),
		},
	}
}

func newMemStore() *stores.MemoryStore {
	return stores.NewMemoryStore(&url.URL{Scheme: "memory", Host: "archive", Path: "/"})
}
