// Package record defines the command log records which flow from application
// writers, through a per-log Queue, into transaction staging files.
//
// A Command is one logged SQL operation of a committed transaction. A Flush is
// a barrier carrying no SQL: its Gate opens only after every Entry enqueued
// ahead of it has been durably written. A Commit marks the end of a
// transaction and asks the log writer to publish its staging file.
//
// Within a staging file, Commands are framed as JSON lines. Consecutive
// Commands of a transaction which share a statement omit the repeated SQL
// text, and Replay restores it:
//
//	var enc = record.NewEncoder(w)
//	enc.Encode(record.NewCommand("app.db", 5, "INSERT INTO t VALUES (?)", 1))
//	enc.Encode(record.NewCommand("app.db", 5, "INSERT INTO t VALUES (?)", 2)) // SQL elided.
//	enc.Flush()
//
//	record.Replay(r, func(cmd record.Command) error {
//	    // cmd.Statement() is "INSERT INTO t VALUES (?)" for both records.
//	})
package record
