// Package placement maps databases, log segments and transactions to paths
// of the local filesystem. Stagers and the Shipper resolve every path they
// touch through a Placer, and never assume a particular layout.
//
// All files of a database live in a hidden sidecar directory beside it:
//
//	/data/app.db
//	/data/.app.db-shiplog/lock                         Exclusive app lock.
//	/data/.app.db-shiplog/txn/stage/<txnID>.stage      Staging file of an open transaction.
//	/data/.app.db-shiplog/txn/<dbID>/<seq>/            Log segment directory.
//	    <seq>-<commitID>.txn                           Published transaction file.
//	    <dbID>-<seq>.data                              Consolidated segment data file.
//
// The Event layout is identical in shape, but rooted at "events/" with its
// own naming convention.
package placement

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Placer resolves paths of log segments and their files.
type Placer interface {
	// Name of the placement policy.
	Name() string
	// LogRootPath is the directory holding all segment directories of |dbID|.
	LogRootPath(dbPath, dbID string) string
	// LogSegmentPath is the directory of segment |seq|.
	LogSegmentPath(dbPath, dbID string, seq int64) string
	// DataFilePath is the consolidated data file of segment |seq|.
	DataFilePath(dbPath, dbID string, seq int64) string
	// TxnStageFilePath is the private staging file of transaction |txnID|.
	TxnStageFilePath(dbPath, txnID string) string
	// TxnFilePath is the published file of |commitID| within segment |seq|.
	TxnFilePath(dbPath, dbID string, seq, commitID int64) string
	// IsTxnFileForLogSegment returns whether |path| names a published
	// transaction file of segment |seq|.
	IsTxnFileForLogSegment(seq int64, path string) bool
	// ParseTxnFileName parses the segment and commit ID of a published
	// transaction file name.
	ParseTxnFileName(name string) (seq, commitID int64, ok bool)
	// ParseLogSegmentName parses the sequence number of a segment directory name.
	ParseLogSegmentName(name string) (seq int64, ok bool)
}

// SidecarDir returns the hidden directory which holds log files of |dbPath|.
func SidecarDir(dbPath string) string {
	var dir, base = filepath.Split(filepath.Clean(dbPath))
	return filepath.Join(dir, "."+base+"-shiplog")
}

// LockFilePath returns the path of the exclusive lock file of |dbPath|.
func LockFilePath(dbPath string) string {
	return filepath.Join(SidecarDir(dbPath), "lock")
}

// StageDirPath returns the directory of transaction staging files under |p|.
func StageDirPath(p Placer, dbPath string) string {
	return filepath.Dir(p.TxnStageFilePath(dbPath, "_"))
}

// QuarantineDirPath returns the directory of staging files which a prior
// process committed but left incomplete. They're retained for an operator,
// and are never published or shipped.
func QuarantineDirPath(p Placer, dbPath string) string {
	return filepath.Join(StageDirPath(p, dbPath), "quarantine")
}

// New returns the Placer of the named policy: "txn" or "event".
func New(name string) (Placer, error) {
	switch name {
	case Transactional.Name():
		return Transactional, nil
	case Event.Name():
		return Event, nil
	default:
		return nil, fmt.Errorf("unknown placement policy %q", name)
	}
}

var (
	// Transactional is the layout of full transactional logs.
	Transactional Placer = layout{
		name:      "txn",
		root:      "txn",
		segPrefix: "",
		txnPrefix: "",
		txnExt:    ".txn",
		dataFmt:   "%s-%016d.data",
		width:     16,
	}
	// Event is the layout of lightweight event and telemetry logs.
	Event Placer = layout{
		name:      "event",
		root:      "events",
		segPrefix: "seg-",
		txnPrefix: "evt-",
		txnExt:    ".log",
		dataFmt:   "events-%s-%08d.data",
		width:     8,
	}
)

// layout is a Placer parameterized by its root namespace and naming convention.
type layout struct {
	name      string
	root      string
	segPrefix string
	txnPrefix string
	txnExt    string
	dataFmt   string
	width     int
}

func (l layout) Name() string { return l.name }

func (l layout) LogRootPath(dbPath, dbID string) string {
	return filepath.Join(SidecarDir(dbPath), l.root, dbID)
}

func (l layout) LogSegmentPath(dbPath, dbID string, seq int64) string {
	return filepath.Join(l.LogRootPath(dbPath, dbID), l.segPrefix+l.pad(seq))
}

func (l layout) DataFilePath(dbPath, dbID string, seq int64) string {
	return filepath.Join(l.LogSegmentPath(dbPath, dbID, seq), fmt.Sprintf(l.dataFmt, dbID, seq))
}

func (l layout) TxnStageFilePath(dbPath, txnID string) string {
	return filepath.Join(SidecarDir(dbPath), l.root, "stage", txnID+".stage")
}

func (l layout) TxnFilePath(dbPath, dbID string, seq, commitID int64) string {
	return filepath.Join(l.LogSegmentPath(dbPath, dbID, seq),
		l.txnPrefix+l.pad(seq)+"-"+l.pad(commitID)+l.txnExt)
}

func (l layout) IsTxnFileForLogSegment(seq int64, path string) bool {
	var s, _, ok = l.ParseTxnFileName(filepath.Base(path))
	return ok && s == seq
}

func (l layout) ParseTxnFileName(name string) (seq, commitID int64, ok bool) {
	if !strings.HasPrefix(name, l.txnPrefix) || !strings.HasSuffix(name, l.txnExt) {
		return 0, 0, false
	}
	name = strings.TrimSuffix(strings.TrimPrefix(name, l.txnPrefix), l.txnExt)

	var parts = strings.Split(name, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	var err error
	if seq, err = strconv.ParseInt(parts[0], 10, 64); err != nil || seq < 0 {
		return 0, 0, false
	}
	if commitID, err = strconv.ParseInt(parts[1], 10, 64); err != nil || commitID < 0 {
		return 0, 0, false
	}
	return seq, commitID, true
}

func (l layout) ParseLogSegmentName(name string) (int64, bool) {
	if !strings.HasPrefix(name, l.segPrefix) {
		return 0, false
	}
	var seq, err = strconv.ParseInt(strings.TrimPrefix(name, l.segPrefix), 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

func (l layout) pad(n int64) string {
	return fmt.Sprintf("%0*d", l.width, n)
}
