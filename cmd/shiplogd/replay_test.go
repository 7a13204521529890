package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.shiplog.dev/core/codecs"
	"go.shiplog.dev/core/record"
)

func TestReplayCompressedFile(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "0000000000000001-0000000000000004.txn.gz")

	var f, err = os.Create(path)
	require.NoError(t, err)
	w, err := codecs.NewCodecWriter(f, codecs.Gzip)
	require.NoError(t, err)

	var enc = record.NewEncoder(w)
	require.NoError(t, enc.Encode(record.NewCommand("/data/app.db", 4, "INSERT INTO kv VALUES (?)", int64(1))))
	require.NoError(t, enc.Encode(&record.Command{DBPath: "/data/app.db", CommitID: 4, Args: []interface{}{int64(2)}}))
	require.NoError(t, enc.Flush())
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	var got []record.Command
	require.NoError(t, replayFile(path, func(c record.Command) error {
		got = append(got, c)
		return nil
	}))
	require.Len(t, got, 2)
	require.Equal(t, "INSERT INTO kv VALUES (?)", got[1].Statement())
	require.Equal(t, []interface{}{int64(2)}, got[1].Args)
}

func TestReplayMissingFile(t *testing.T) {
	var err = replayFile(filepath.Join(t.TempDir(), "missing.txn"), func(record.Command) error { return nil })
	require.True(t, os.IsNotExist(err))
}
