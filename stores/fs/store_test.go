package fs

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	var mfs = afero.NewMemMapFs()
	var ctx = context.Background()

	require.NoError(t, mfs.MkdirAll("/archive/sub", 0755))
	require.NoError(t, afero.WriteFile(mfs, "/archive/file.txt", []byte("content"), 0644))
	require.NoError(t, afero.WriteFile(mfs, "/archive/sub/nested.txt", []byte("nested"), 0644))

	_, err := NewWithFs(mfs, mustParseURL("file:///archive/?invalid=param"))
	require.Error(t, err)

	s, err := NewWithFs(mfs, mustParseURL("file:///archive/"))
	require.NoError(t, err)
	require.Equal(t, "file", s.Provider())

	exists, err := s.Exists(ctx, "file.txt")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = s.Exists(ctx, "missing.txt")
	require.NoError(t, err)
	require.False(t, exists)

	reader, err := s.Get(ctx, "file.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	require.NoError(t, reader.Close())
	require.NoError(t, err)
	require.Equal(t, "content", string(content))

	_, err = s.Get(ctx, "missing.txt")
	require.Error(t, err)

	require.NoError(t, s.Put(ctx, "new.txt", strings.NewReader("new"), 3, ""))
	b, err := afero.ReadFile(mfs, "/archive/new.txt")
	require.NoError(t, err)
	require.Equal(t, "new", string(b))

	var files []string
	require.NoError(t, s.List(ctx, "", func(path string, modTime time.Time) error {
		files = append(files, path)
		return nil
	}))
	require.ElementsMatch(t, []string{"file.txt", "new.txt", "sub/nested.txt"}, files)

	files = nil
	require.NoError(t, s.List(ctx, "sub", func(path string, modTime time.Time) error {
		files = append(files, path)
		return nil
	}))
	require.Equal(t, []string{"nested.txt"}, files)

	require.EqualError(t, s.List(ctx, "", func(string, time.Time) error {
		return errors.New("callback error")
	}), "callback error")

	require.NoError(t, s.Remove(ctx, "new.txt"))
	exists, _ = s.Exists(ctx, "new.txt")
	require.False(t, exists)
	require.Error(t, s.Remove(ctx, "new.txt"))
}

func TestPutWithSubdir(t *testing.T) {
	var mfs = afero.NewMemMapFs()
	require.NoError(t, mfs.MkdirAll("/archive", 0755))

	s, err := NewWithFs(mfs, mustParseURL("file:///archive/?Subdir=host-a"))
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "seg/1.txn", strings.NewReader("abc"), 3, ""))

	b, err := afero.ReadFile(mfs, "/archive/host-a/seg/1.txn")
	require.NoError(t, err)
	require.Equal(t, "abc", string(b))

	// No temporary files remain.
	entries, err := afero.ReadDir(mfs, "/archive/host-a/seg")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMissingRootIsAuthError(t *testing.T) {
	var mfs = afero.NewMemMapFs()

	s, err := NewWithFs(mfs, mustParseURL("file:///unmounted/"))
	require.NoError(t, err)

	err = s.Put(context.Background(), "a.txn", strings.NewReader("a"), 1, "")
	require.Error(t, err)
	require.True(t, s.IsAuthError(err))
	require.False(t, s.IsAuthError(errors.New("other")))

	s, err = NewWithFs(mfs, mustParseURL("file:///unmounted/?Mkdir=true"))
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "a.txn", strings.NewReader("a"), 1, ""))
}

func mustParseURL(s string) *url.URL {
	var u, err = url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}
