package codecs

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrips(t *testing.T) {
	var content = strings.Repeat(`{"db":"app.db","cid":5,"sql":"INSERT INTO kv VALUES (?)"}`+"\n", 100)

	for _, codec := range []Codec{None, Gzip, Snappy, Zstandard} {
		require.NoError(t, codec.Validate())

		var buf bytes.Buffer
		var w, err = NewCodecWriter(&buf, codec)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		if codec != None {
			require.Less(t, buf.Len(), len(content), string(codec))
		}

		r, err := NewCodecReader(&buf, codec)
		require.NoError(t, err)
		out, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.Equal(t, content, string(out))
	}
}

func TestCodecProperties(t *testing.T) {
	require.Equal(t, "", None.Extension())
	require.Equal(t, ".gz", Gzip.Extension())
	require.Equal(t, ".sz", Snappy.Extension())
	require.Equal(t, ".zst", Zstandard.Extension())
	require.Equal(t, "gzip", Gzip.ContentEncoding())
	require.Equal(t, "", Snappy.ContentEncoding())

	require.Equal(t, Gzip, FromPath("/a/0000000000000003-0000000000000005.txn.gz"))
	require.Equal(t, Zstandard, FromPath("evt-3-5.log.zst"))
	require.Equal(t, None, FromPath("0000000000000003-0000000000000005.txn"))

	require.EqualError(t, Codec("lzma").Validate(), `unknown codec "lzma"`)
	var _, err = NewCodecWriter(io.Discard, "lzma")
	require.EqualError(t, err, `unsupported codec "lzma"`)
}
