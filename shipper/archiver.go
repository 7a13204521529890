package shipper

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.shiplog.dev/core/codecs"
	"go.shiplog.dev/core/stores"
)

// Archiver is a write archive client, as consumed by the Shipper.
type Archiver interface {
	// CopyToWriteArchive copies the file at |localPath| to the archive
	// under |remoteName|. Copying a file the archive already holds is a
	// successful no-op.
	CopyToWriteArchive(ctx context.Context, localPath, remoteName string) error
	// DeleteLocalObject deletes the local file at |localPath|.
	DeleteLocalObject(ctx context.Context, localPath string) error
}

// StoreArchiver is an Archiver of a stores.Store, which compresses
// shipped files with a Codec.
type StoreArchiver struct {
	Fs    afero.Fs
	Store stores.Store
	Codec codecs.Codec
	// Namespace is an optional sub-directory under which files are archived.
	// Databases sharing a Store must use distinct Namespaces, as their file
	// names can collide.
	Namespace string
	// PutTimeout bounds each Put to the Store. Zero means DefaultPutTimeout.
	PutTimeout time.Duration
}

// DefaultPutTimeout bounds a single upload. It's generous, and exists to
// recover from uploads which wedge indefinitely.
const DefaultPutTimeout = 5 * time.Minute

// NewStoreArchiver returns a StoreArchiver of the Fs, Store, and Codec.
func NewStoreArchiver(fs afero.Fs, store stores.Store, codec codecs.Codec) *StoreArchiver {
	return &StoreArchiver{Fs: fs, Store: store, Codec: codec}
}

// RemotePath is the archive path of |remoteName| within the Namespace,
// which carries the extension of the archiver Codec.
func (a *StoreArchiver) RemotePath(remoteName string) string {
	if ns := strings.Trim(a.Namespace, "/"); ns != "" {
		remoteName = path.Join(ns, remoteName)
	}
	return remoteName + a.Codec.Extension()
}

// CopyToWriteArchive implements Archiver.
func (a *StoreArchiver) CopyToWriteArchive(ctx context.Context, localPath, remoteName string) error {
	var remotePath = a.RemotePath(remoteName)

	if exists, err := a.Store.Exists(ctx, remotePath); err != nil {
		return errors.WithMessage(err, "checking archive")
	} else if exists {
		log.WithFields(log.Fields{
			"path":   localPath,
			"remote": remotePath,
		}).Debug("file already archived")
		return nil
	}

	var f, err = a.Fs.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		reader          io.ReaderAt = f
		contentLength   int64
		contentEncoding = a.Codec.ContentEncoding()
	)
	if a.Codec == codecs.None || a.Codec == "" {
		var info, err = f.Stat()
		if err != nil {
			return err
		}
		contentLength = info.Size()
	} else if buf, err := a.compress(f); err != nil {
		return errors.WithMessagef(err, "compressing with %s", a.Codec)
	} else {
		reader, contentLength = bytes.NewReader(buf), int64(len(buf))
	}

	var timeout = a.PutTimeout
	if timeout == 0 {
		timeout = DefaultPutTimeout
	}
	var putCtx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	return a.Store.Put(putCtx, remotePath, reader, contentLength, contentEncoding)
}

// DeleteLocalObject implements Archiver. Deleting a missing file succeeds.
func (a *StoreArchiver) DeleteLocalObject(_ context.Context, localPath string) error {
	if err := a.Fs.Remove(localPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (a *StoreArchiver) compress(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	var w, err = codecs.NewCodecWriter(&buf, a.Codec)
	if err != nil {
		return nil, err
	}
	if _, err = io.Copy(w, r); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
