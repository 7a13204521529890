package stager

import "sync/atomic"

// Meta supplies the identity of a database and its current log segment.
// The segment sequence number is assigned externally and may advance at
// any time; a transaction is published into the segment current as of
// its commit.
type Meta interface {
	DatabaseID() string
	SequenceNumber() int64
}

// StaticMeta is a Meta of a fixed database ID and an advanceable sequence number.
type StaticMeta struct {
	ID  string
	seq atomic.Int64
}

// NewStaticMeta returns a StaticMeta of |id| positioned at segment |seq|.
func NewStaticMeta(id string, seq int64) *StaticMeta {
	var m = &StaticMeta{ID: id}
	m.seq.Store(seq)
	return m
}

// DatabaseID returns the ID of the StaticMeta.
func (m *StaticMeta) DatabaseID() string { return m.ID }

// SequenceNumber returns the current segment sequence number.
func (m *StaticMeta) SequenceNumber() int64 { return m.seq.Load() }

// Advance to the next segment, returning its sequence number.
func (m *StaticMeta) Advance() int64 { return m.seq.Add(1) }
