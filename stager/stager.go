package stager

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.shiplog.dev/core/metrics"
	"go.shiplog.dev/core/placement"
	"go.shiplog.dev/core/record"
)

// Stager stages the ordered command records of one transaction.
// It's not safe for concurrent use: the transaction's log writer
// has exclusive ownership of a Stager until it's published.
type Stager struct {
	fs     afero.Fs
	placer placement.Placer
	dbPath string
	txnID  string
	path   string

	file     afero.File
	counter  countingWriter
	enc      *record.Encoder
	hasPrior bool  // Whether a statement has been staged.
	records  int   // Number of appended records.
	synced   int64 // Byte offset through which the file was synced.
}

// NewTxnID returns a new, unique transaction ID.
func NewTxnID() string { return uuid.New().String() }

// New returns a Stager of transaction |txnID| of |dbPath|, with its
// staging file resolved by |placer| and opened for append.
func New(fs afero.Fs, placer placement.Placer, dbPath, txnID string) (*Stager, error) {
	var path = placer.TxnStageFilePath(dbPath, txnID)

	if err := fs.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}
	var file, err = fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}

	var s = &Stager{
		fs:     fs,
		placer: placer,
		dbPath: dbPath,
		txnID:  txnID,
		path:   path,
		file:   file,
	}
	s.counter.w = file
	s.enc = record.NewEncoder(&s.counter)
	return s, nil
}

// Open a Stager over the existing staging file of |txnID|, which was left
// behind by a prior process. The returned Stager is already committed and
// closed: it may only be published or removed.
func Open(fs afero.Fs, placer placement.Placer, dbPath, txnID string) (*Stager, error) {
	var path = placer.TxnStageFilePath(dbPath, txnID)
	if _, err := fs.Stat(path); err != nil {
		return nil, err
	}
	return &Stager{
		fs:     fs,
		placer: placer,
		dbPath: dbPath,
		txnID:  txnID,
		path:   path,
	}, nil
}

// TxnID of the Stager.
func (s *Stager) TxnID() string { return s.txnID }

// Path of the staging file.
func (s *Stager) Path() string { return s.path }

// Records is the number of records appended by this Stager.
func (s *Stager) Records() int { return s.records }

// Log appends a command record. Writes may be buffered, but are always
// applied to the staging file in call order. A nil |sql| repeats the prior
// statement of the transaction.
func (s *Stager) Log(commitID int64, sql *string, args []interface{}) error {
	var cmd = &record.Command{DBPath: s.dbPath, CommitID: commitID, SQL: sql, Args: args}
	return s.Append(cmd, nil)
}

// Append a Command, first checking it with the Validator |v| (which may be nil).
func (s *Stager) Append(cmd *record.Command, v record.Validator) error {
	if s.file == nil {
		return &WriteError{Path: s.path, Err: os.ErrClosed}
	}
	if err := record.Validate(cmd, s.hasPrior, v); err != nil {
		validationFailuresTotal.Inc()
		return err
	}
	if err := s.enc.Encode(cmd); err != nil {
		var verr *record.ValidationError
		if errors.As(err, &verr) {
			validationFailuresTotal.Inc()
			return err
		}
		return &WriteError{Path: s.path, Err: err}
	}
	s.hasPrior = true
	s.records++

	stagedRecordsTotal.Inc()
	return nil
}

// Sync forces buffered records to stable storage.
func (s *Stager) Sync() error {
	if s.file == nil {
		return nil // Already committed and closed.
	}
	if err := s.enc.Flush(); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	stagedBytesTotal.Add(float64(s.counter.n - s.synced))
	s.synced = s.counter.n
	return nil
}

// Commit forces all buffered records to stable storage.
func (s *Stager) Commit() error { return s.Sync() }

// Close the staging file. Close is idempotent.
func (s *Stager) Close() error {
	if s.file == nil {
		return nil
	}
	var err = s.file.Close()
	s.file = nil

	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}

// Publish the transaction: commit and close the staging file, then
// atomically rename it to the path of |commitID| within segment |seq|.
// On failure a *PublishError is returned and the staging file is retained,
// such that Publish may be retried.
func (s *Stager) Publish(dbID string, seq, commitID int64) (string, error) {
	var fail = func(err error) (string, error) {
		publishesTotal.WithLabelValues(metrics.Fail).Inc()
		return "", &PublishError{StagePath: s.path, Seq: seq, CommitID: commitID, Err: err}
	}

	if err := s.Commit(); err != nil {
		return fail(err)
	} else if err = s.Close(); err != nil {
		return fail(err)
	}

	var target = s.placer.TxnFilePath(s.dbPath, dbID, seq, commitID)
	if err := s.fs.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fail(err)
	} else if err = s.fs.Rename(s.path, target); err != nil {
		return fail(err)
	}
	syncDir(s.fs, filepath.Dir(target))

	publishesTotal.WithLabelValues(metrics.Ok).Inc()

	log.WithFields(log.Fields{
		"txn":      s.txnID,
		"path":     target,
		"seq":      seq,
		"commitID": commitID,
		"records":  s.records,
	}).Debug("published transaction")

	return target, nil
}

// Abandon closes and removes the staging file of a transaction which
// will never be published.
func (s *Stager) Abandon() {
	_ = s.Close()

	if err := s.fs.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.WithFields(log.Fields{
			"path": s.path,
			"err":  err,
		}).Warn("failed to remove abandoned staging file")
	}
}

// Quarantine closes the staging file and moves it into the quarantine
// directory, returning its new path.
func (s *Stager) Quarantine() (string, error) {
	_ = s.Close()

	var target = filepath.Join(placement.QuarantineDirPath(s.placer, s.dbPath), filepath.Base(s.path))
	if err := s.fs.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return "", err
	} else if err = s.fs.Rename(s.path, target); err != nil {
		return "", err
	}
	syncDir(s.fs, filepath.Dir(target))

	quarantinedTotal.Inc()
	return target, nil
}

// RemoveTxnFile removes the published file of |commitID| within segment
// |seq|. It's a best-effort cleanup: the file may already be gone, and
// errors are logged but never returned.
func RemoveTxnFile(fs afero.Fs, placer placement.Placer, dbPath, dbID string, seq, commitID int64) {
	var path = placer.TxnFilePath(dbPath, dbID, seq, commitID)

	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithFields(log.Fields{
			"path": path,
			"err":  err,
		}).Debug("failed to remove transaction file")
	}
}

// syncDir makes a best-effort attempt to persist directory entries of |dir|.
func syncDir(fs afero.Fs, dir string) {
	if d, err := fs.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}

type countingWriter struct {
	w interface{ Write([]byte) (int, error) }
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	var n, err = c.w.Write(p)
	c.n += int64(n)
	return n, err
}
