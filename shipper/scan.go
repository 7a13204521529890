package shipper

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"go.shiplog.dev/core/placement"
)

// File is a published transaction file awaiting shipment or cleanup.
type File struct {
	Path     string
	Seq      int64
	CommitID int64
	Size     int64
}

// Name is the base file name, which is also its name within write archives.
func (f File) Name() string { return filepath.Base(f.Path) }

// List returns the published transaction files of database |dbID|, across
// all of its log segments, ordered on (Seq, CommitID). Staging files and
// other non-transaction files are never listed.
func List(fs afero.Fs, placer placement.Placer, dbPath, dbID string) ([]File, error) {
	var root = placer.LogRootPath(dbPath, dbID)

	var segments, err = afero.ReadDir(fs, root)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var out []File
	for _, seg := range segments {
		if !seg.IsDir() {
			continue
		}
		var seq, ok = placer.ParseLogSegmentName(seg.Name())
		if !ok {
			continue
		}
		var dir = placer.LogSegmentPath(dbPath, dbID, seq)

		entries, err := afero.ReadDir(fs, dir)
		if os.IsNotExist(err) {
			continue // Removed since the segment listing.
		} else if err != nil {
			return nil, err
		}
		for _, ent := range entries {
			var path = filepath.Join(dir, ent.Name())

			if ent.IsDir() || !placer.IsTxnFileForLogSegment(seq, path) {
				continue
			}
			var _, commitID, _ = placer.ParseTxnFileName(ent.Name())
			out = append(out, File{Path: path, Seq: seq, CommitID: commitID, Size: ent.Size()})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CommitID < out[j].CommitID
	})
	return out, nil
}
