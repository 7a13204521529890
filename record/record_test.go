package record

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateOpensOnceAndWakesAllWaiters(t *testing.T) {
	var g = NewGate()
	require.False(t, g.IsOpen())

	var wg sync.WaitGroup
	for i := 0; i != 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Wait(context.Background()))
		}()
	}
	g.Open()
	g.Open() // No-op.
	wg.Wait()

	require.True(t, g.IsOpen())
}

func TestGateWaitInterrupted(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	cancel()
	require.Equal(t, ErrDurabilityUnknown, NewGate().Wait(ctx))
}

func TestFlushResolution(t *testing.T) {
	var f = NewFlush()
	f.Resolve(nil)
	f.Resolve(errors.New("ignored")) // Gate is already open.
	require.NoError(t, f.Wait(context.Background()))

	f = NewFlush()
	f.Resolve(errors.New("disk full"))
	require.EqualError(t, f.Wait(context.Background()), "disk full")
	require.False(t, f.Gate().IsOpen())

	f = NewFlush()
	var ctx, cancel = context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	require.True(t, errors.Is(f.Wait(ctx), ErrDurabilityUnknown))
}

func TestAsyncOperation(t *testing.T) {
	var op = NewAsyncOperation()
	require.True(t, op.TryResolve(io.EOF))
	require.False(t, op.TryResolve(nil))
	require.Equal(t, io.EOF, op.Err())
	require.Panics(t, func() { op.Resolve(nil) })

	require.NoError(t, FinishedOperation(nil).Err())
}

func TestQueueOrderingAcrossProducers(t *testing.T) {
	var q = NewQueue()
	var wg sync.WaitGroup

	// Each producer enqueues increasing CommitIDs. Per-producer order must be preserved.
	for p := 0; p != 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i != 100; i++ {
				require.NoError(t, q.Push(&Command{DBPath: string(rune('a' + p)), CommitID: int64(i)}))
			}
		}(p)
	}
	wg.Wait()
	q.Close()
	require.Equal(t, ErrQueueClosed, q.Push(NewFlush()))

	var last = map[string]int64{}
	var count int
	for {
		var e, err = q.Pop(context.Background())
		if err == ErrQueueClosed {
			break
		}
		require.NoError(t, err)

		var cmd = e.(*Command)
		if prev, ok := last[cmd.DBPath]; ok {
			require.Equal(t, prev+1, cmd.CommitID)
		}
		last[cmd.DBPath] = cmd.CommitID
		count++
	}
	require.Equal(t, 400, count)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	var q = NewQueue()
	var ctx, cancel = context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	var _, err = q.Pop(ctx)
	require.Equal(t, context.DeadlineExceeded, err)

	go func() { require.NoError(t, q.Push(NewCommit(7))) }()
	e, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(7), e.(*Commit).CommitID)
	require.Equal(t, 0, q.Len())
}

func TestEncodeAndReplayWithElidedStatements(t *testing.T) {
	var buf bytes.Buffer
	var enc = NewEncoder(&buf)
	var ts = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, enc.Encode(NewCommand("app.db", 5, "INSERT INTO t VALUES (?, ?)", int64(1), "one")))
	require.NoError(t, enc.Encode(NewCommand("app.db", 5, "INSERT INTO t VALUES (?, ?)", 2, []byte("two"))))
	require.NoError(t, enc.Encode(&Command{DBPath: "app.db", CommitID: 5, Args: []interface{}{3.5, nil}}))
	require.NoError(t, enc.Encode(NewCommand("app.db", 5, "UPDATE t SET at = ?, ok = ?", ts, true)))
	require.NoError(t, enc.Flush())

	// Second and third records elide the statement on the wire.
	var dec = NewDecoder(bytes.NewReader(buf.Bytes()))
	var raw []*Command
	for {
		var cmd, err = dec.Decode()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		raw = append(raw, cmd)
	}
	require.Len(t, raw, 4)
	require.NotNil(t, raw[0].SQL)
	require.Nil(t, raw[1].SQL)
	require.Nil(t, raw[2].SQL)
	require.NotNil(t, raw[3].SQL)

	var replayed []Command
	require.NoError(t, Replay(bytes.NewReader(buf.Bytes()), func(cmd Command) error {
		replayed = append(replayed, cmd)
		return nil
	}))
	require.Equal(t, "INSERT INTO t VALUES (?, ?)", replayed[1].Statement())
	require.Equal(t, "INSERT INTO t VALUES (?, ?)", replayed[2].Statement())
	require.Equal(t, "UPDATE t SET at = ?, ok = ?", replayed[3].Statement())

	require.Equal(t, []interface{}{int64(1), "one"}, replayed[0].Args)
	require.Equal(t, []interface{}{int64(2), []byte("two")}, replayed[1].Args)
	require.Equal(t, []interface{}{3.5, nil}, replayed[2].Args)
	require.True(t, ts.Equal(replayed[3].Args[0].(time.Time)))
	require.Equal(t, true, replayed[3].Args[1])
}

func TestLeadingCommandWithoutStatementIsRejected(t *testing.T) {
	var enc = NewEncoder(io.Discard)
	var err = enc.Encode(&Command{DBPath: "app.db", CommitID: 9})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.True(t, errors.Is(err, ErrMissingStatement))
	require.Equal(t, int64(9), verr.CommitID)

	// Replay applies the same rule to hand-written input.
	err = Replay(bytes.NewBufferString(`{"db":"app.db","cid":9}`+"\n"), func(Command) error {
		t.Error("unexpected callback")
		return nil
	})
	require.True(t, errors.Is(err, ErrMissingStatement))
}

func TestReplayTornWrite(t *testing.T) {
	var err = Replay(bytes.NewBufferString(`{"db":"app.db","cid":1,"sql":"DELETE FROM t"}`+"\n"+`{"db":"a`),
		func(Command) error { return nil })
	require.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestEncodeUnsupportedArgument(t *testing.T) {
	var err = NewEncoder(io.Discard).Encode(NewCommand("app.db", 1, "SELECT ?", struct{}{}))
	require.EqualError(t, err, `invalid command (commit 1, sql "SELECT ?"): unsupported argument type struct {}`)
}

func TestEncodeCopiesPriorStatement(t *testing.T) {
	var buf bytes.Buffer
	var enc = NewEncoder(&buf)

	// The caller reuses a single variable across statements.
	var sql = "INSERT INTO t VALUES (?)"
	require.NoError(t, enc.Encode(&Command{CommitID: 1, SQL: &sql, Args: []interface{}{1}}))
	sql = "DELETE FROM t WHERE id = ?"
	require.NoError(t, enc.Encode(&Command{CommitID: 1, SQL: &sql, Args: []interface{}{2}}))
	require.NoError(t, enc.Encode(&Command{CommitID: 1, SQL: &sql, Args: []interface{}{3}}))
	require.NoError(t, enc.Flush())

	require.Equal(t, []string{
		"INSERT INTO t VALUES (?)",
		"DELETE FROM t WHERE id = ?",
		"DELETE FROM t WHERE id = ?",
	}, replayStatements(t, buf.Bytes()))
}

func TestRejectedCommandLeavesEncoderUnchanged(t *testing.T) {
	var buf bytes.Buffer
	var enc = NewEncoder(&buf)

	require.NoError(t, enc.Encode(NewCommand("app.db", 1, "A", int64(1))))
	var err = enc.Encode(NewCommand("app.db", 1, "B", uint64(2)))
	require.True(t, errors.As(err, new(*ValidationError)))
	require.NoError(t, enc.Encode(NewCommand("app.db", 1, "B", int64(3))))

	// A leading rejected command doesn't satisfy a following elided statement.
	var other = NewEncoder(io.Discard)
	require.Error(t, other.Encode(NewCommand("app.db", 2, "C", uint64(1))))
	require.True(t, errors.Is(other.Encode(&Command{CommitID: 2}), ErrMissingStatement))

	require.NoError(t, enc.Flush())
	require.Equal(t, []string{"A", "B"}, replayStatements(t, buf.Bytes()))
}

func TestEncodeNonFiniteFloatIsInvalid(t *testing.T) {
	for _, f := range []interface{}{math.NaN(), math.Inf(1), float32(math.Inf(-1))} {
		var err = NewEncoder(io.Discard).Encode(NewCommand("app.db", 1, "SELECT ?", f))

		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "%v", f)
		require.Equal(t, "SELECT ?", verr.SQL)
	}
}

func replayStatements(t *testing.T, b []byte) []string {
	var out []string
	require.NoError(t, Replay(bytes.NewReader(b), func(cmd Command) error {
		out = append(out, cmd.Statement())
		return nil
	}))
	return out
}

func TestValidate(t *testing.T) {
	var v = ValidatorFunc(func(sql string) error {
		if sql == "PRAGMA shiplog_bogus" {
			return errors.New("unknown control statement")
		}
		return nil
	})

	require.NoError(t, Validate(NewCommand("app.db", 1, "INSERT INTO t VALUES (1)"), false, v))
	require.NoError(t, Validate(&Command{CommitID: 1}, true, v))
	require.True(t, errors.Is(Validate(&Command{CommitID: 1}, false, v), ErrMissingStatement))
	require.EqualError(t, Validate(NewCommand("app.db", 1, "  "), false, nil),
		"invalid command (commit 1): empty statement")
	require.EqualError(t, Validate(NewCommand("app.db", 2, "PRAGMA shiplog_bogus"), false, v),
		`invalid command (commit 2, sql "PRAGMA shiplog_bogus"): unknown control statement`)
}
