package stager

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.shiplog.dev/core/metrics"
	"go.shiplog.dev/core/placement"
	"go.shiplog.dev/core/record"
)

// Writer is the single consumer of a log's record.Queue. It appends Commands
// to the Stager of the current transaction, publishes the transaction on
// Commit, and resolves Flush barriers once every prior Entry is durable.
type Writer struct {
	// Validator of staged statements. Optional.
	Validator record.Validator
	// PublishObserver, if set, is called with the path of each published file.
	PublishObserver func(path string)

	fs     afero.Fs
	placer placement.Placer
	dbPath string
	meta   Meta
	queue  *record.Queue

	active  *Stager // Stager of the current transaction, or nil.
	txnErr  error   // First error of the current transaction.
	pending []*pendingPublish
}

// pendingPublish is a committed transaction which failed to publish.
type pendingPublish struct {
	stager   *Stager
	seq      int64
	commitID int64
}

// NewWriter returns a Writer of |dbPath| which consumes |queue|.
func NewWriter(fs afero.Fs, placer placement.Placer, dbPath string, meta Meta, queue *record.Queue) *Writer {
	return &Writer{
		fs:     fs,
		placer: placer,
		dbPath: dbPath,
		meta:   meta,
		queue:  queue,
	}
}

// Serve consumes the queue until it's closed and drained, or until |ctx| is
// done. A transaction left open at exit is abandoned.
func (w *Writer) Serve(ctx context.Context) error {
	defer w.abandon()

	for {
		var e, err = w.queue.Pop(ctx)
		if err == record.ErrQueueClosed {
			return nil
		} else if err != nil {
			return err
		}
		w.apply(e)
	}
}

// Pending returns the number of committed transactions awaiting a publish retry.
func (w *Writer) Pending() int { return len(w.pending) }

func (w *Writer) apply(e record.Entry) {
	switch e := e.(type) {
	case *record.Command:
		w.onCommand(e)
	case *record.Flush:
		w.onFlush(e)
	case *record.Commit:
		e.Op.Resolve(w.onCommit(e.CommitID))
	case *record.Rollback:
		w.abandon()
		e.Op.Resolve(nil)
	default:
		log.WithField("entry", e).Panic("unexpected record.Entry type")
	}
}

func (w *Writer) onCommand(cmd *record.Command) {
	if w.txnErr != nil {
		return // Transaction has already failed.
	}
	if w.active == nil {
		var s, err = New(w.fs, w.placer, w.dbPath, NewTxnID())
		if err != nil {
			w.txnErr = err
			return
		}
		w.active = s
	}
	if err := w.active.Append(cmd, w.Validator); err != nil {
		log.WithFields(log.Fields{
			"txn":      w.active.TxnID(),
			"commitID": cmd.CommitID,
			"err":      err,
		}).Warn("failed to stage command")
		w.txnErr = err
	}
}

func (w *Writer) onFlush(f *record.Flush) {
	var err = w.txnErr
	if err == nil && w.active != nil {
		err = w.active.Sync()
	}
	flushesTotal.WithLabelValues(metrics.Status(err)).Inc()
	f.Resolve(err)
}

func (w *Writer) onCommit(commitID int64) error {
	if w.txnErr != nil {
		var err = w.txnErr
		w.abandon()
		return err
	} else if w.active == nil {
		return nil // Empty transaction.
	}

	var p = &pendingPublish{
		stager:   w.active,
		seq:      w.meta.SequenceNumber(),
		commitID: commitID,
	}
	w.active = nil

	// Publish in commit order: prior failed publishes are retried first,
	// and a transaction is not published ahead of an earlier one.
	w.pending = append(w.pending, p)
	return w.RetryPending()
}

// RetryPending re-attempts publishing of committed transactions whose
// publish previously failed, in commit order. It returns the error of the
// first transaction which still cannot be published.
func (w *Writer) RetryPending() error {
	for len(w.pending) != 0 {
		var p = w.pending[0]

		var path, err = p.stager.Publish(w.meta.DatabaseID(), p.seq, p.commitID)
		if err != nil {
			log.WithFields(log.Fields{
				"stage":    p.stager.Path(),
				"commitID": p.commitID,
				"err":      err,
			}).Warn("failed to publish transaction (will retry)")
			return err
		}
		w.pending = w.pending[1:]

		if w.PublishObserver != nil {
			w.PublishObserver(path)
		}
	}
	return nil
}

func (w *Writer) abandon() {
	if w.active != nil {
		w.active.Abandon()
	}
	w.active, w.txnErr = nil, nil
}

// Recover resolves staging files left behind by a prior process. A staging
// file whose commit ID is at or below |lastCommitID| belongs to a transaction
// which durably committed, and is published into the current segment.
// Others were never committed, and are removed.
//
// A committed staging file which can't be fully replayed (for example, due
// to a torn final record) is moved to the quarantine directory and logged
// as an error. So is a file whose commit ID can't be determined at all.
// Recover returns the number of published transactions.
func Recover(fs afero.Fs, placer placement.Placer, dbPath string, meta Meta, lastCommitID int64) (int, error) {
	var dir = placement.StageDirPath(placer, dbPath)
	var infos, err = afero.ReadDir(fs, dir)
	if err != nil && !os.IsNotExist(err) {
		return 0, errors.WithMessage(err, "listing staging directory")
	}

	var published int
	for _, info := range infos {
		var txnID, ok = stageTxnID(placer, dbPath, info.Name())
		if !ok || info.IsDir() {
			continue
		}
		s, err := Open(fs, placer, dbPath, txnID)
		if err != nil {
			return published, err
		}
		var commitID, replayErr = stagedCommitID(fs, s.Path())
		var fields = log.Fields{
			"stage":        s.Path(),
			"commitID":     commitID,
			"lastCommitID": lastCommitID,
		}

		switch {
		case replayErr == nil && commitID == -1:
			log.WithFields(fields).Info("removing empty staging file")
			s.Abandon()
			continue

		case commitID > lastCommitID:
			fields["err"] = replayErr
			log.WithFields(fields).Info("removing staging file of uncommitted transaction")
			s.Abandon()
			continue

		case replayErr != nil:
			// Committed (or undeterminable), but incomplete. Never drop it.
			fields["err"] = replayErr
			var target, err = s.Quarantine()
			if err != nil {
				return published, errors.WithMessagef(err, "quarantining %s", s.Path())
			}
			fields["quarantine"] = target
			log.WithFields(fields).Error("staging file of committed transaction is incomplete")
			continue
		}

		if _, err = s.Publish(meta.DatabaseID(), meta.SequenceNumber(), commitID); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// stagedCommitID returns the commit ID of the records of a staging file,
// or -1 if it has none. On a replay error, the commit ID of the records
// decoded prior to the error is returned alongside it.
func stagedCommitID(fs afero.Fs, path string) (int64, error) {
	var f, err = fs.Open(path)
	if err != nil {
		return -1, err
	}
	defer f.Close()

	var commitID int64 = -1
	err = record.Replay(f, func(cmd record.Command) error {
		commitID = cmd.CommitID
		return nil
	})
	return commitID, err
}

func stageTxnID(placer placement.Placer, dbPath, name string) (string, bool) {
	const ext = ".stage"
	if len(name) <= len(ext) || name[len(name)-len(ext):] != ext {
		return "", false
	}
	var txnID = name[:len(name)-len(ext)]
	// Verify the inverse mapping holds for this Placer.
	return txnID, placer.TxnStageFilePath(dbPath, txnID) ==
		filepath.Join(placement.StageDirPath(placer, dbPath), name)
}
