// Package fs implements a Store over a directory of a local or network-mounted
// filesystem, addressed by URLs like "file:///mnt/archive/".
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.shiplog.dev/core/stores"
	"go.shiplog.dev/core/stores/common"
)

// StoreQueryArgs contains fields that are parsed from the query arguments
// of a file:// store URL.
type StoreQueryArgs struct {
	common.LayoutConfig
	// Mkdir creates the archive root if it doesn't exist. By default a
	// missing root is an error, as it typically indicates an unmounted volume.
	Mkdir bool
}

type store struct {
	fs   afero.Fs
	args StoreQueryArgs
	root string
}

// New creates a new filesystem Store from the provided URL.
func New(ep *url.URL) (stores.Store, error) {
	return NewWithFs(afero.NewOsFs(), ep)
}

// NewWithFs creates a filesystem Store over the given afero.Fs.
func NewWithFs(fs afero.Fs, ep *url.URL) (stores.Store, error) {
	var s = &store{fs: fs, root: filepath.FromSlash(ep.Path)}
	if err := common.ParseStoreArgs(ep, &s.args); err != nil {
		return nil, err
	}
	if s.args.Mkdir {
		if err := fs.MkdirAll(s.root, 0750); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *store) Provider() string { return "file" }

func (s *store) fsPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(s.args.Key("", path)))
}

func (s *store) Exists(_ context.Context, path string) (bool, error) {
	if _, err := s.fs.Stat(s.fsPath(path)); os.IsNotExist(err) {
		return false, nil
	} else if err == nil {
		return true, nil
	} else {
		return false, err
	}
}

func (s *store) Get(_ context.Context, path string) (io.ReadCloser, error) {
	return s.fs.Open(s.fsPath(path))
}

// Put writes to a temporary file which is synced and then renamed into place,
// such that readers never observe a partial file.
func (s *store) Put(_ context.Context, path string, content io.ReaderAt, contentLength int64, _ string) error {
	if _, err := s.fs.Stat(s.root); err != nil {
		return fmt.Errorf("%s %s: %w", invalidFileStoreDirectory, s.root, err)
	}
	var fsPath = s.fsPath(path)

	if err := s.fs.MkdirAll(filepath.Dir(fsPath), 0750); err != nil {
		return err
	}
	var f, err = afero.TempFile(s.fs, filepath.Dir(fsPath), ".partial-"+filepath.Base(fsPath))
	if err != nil {
		return err
	}

	defer func(name string) {
		if rmErr := s.fs.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithFields(log.Fields{"err": rmErr, "path": fsPath}).
				Warn("failed to cleanup temp file")
		}
	}(f.Name())

	_, err = io.Copy(f, io.NewSectionReader(content, 0, contentLength))

	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = s.fs.Rename(f.Name(), fsPath)
	}
	return err
}

func (s *store) List(_ context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var dir = s.fsPath(prefix)

	if _, err := s.fs.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return afero.Walk(s.fs, dir,
		func(name string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			} else if info.IsDir() {
				return nil // Descend into directory.
			} else if strings.HasPrefix(info.Name(), ".partial-") {
				return nil
			}

			relPath, err := filepath.Rel(dir, name)
			if err != nil {
				return err
			}
			return callback(filepath.ToSlash(relPath), info.ModTime())
		})
}

func (s *store) Remove(_ context.Context, path string) error {
	return s.fs.Remove(s.fsPath(path))
}

func (s *store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrPermission) || strings.Contains(err.Error(), invalidFileStoreDirectory)
}

const invalidFileStoreDirectory = "invalid file store directory"
