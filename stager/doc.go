// Package stager stages the command log of in-flight transactions, and
// publishes each committed transaction as an immutable, ship-eligible file.
//
// A Stager owns the staging file of exactly one transaction. Records are
// appended in order, and on commit the file is synced, closed, and renamed
// into its log segment directory. The rename is the publish: a concurrent
// scanner of the segment directory observes either the staging file or
// the published file, and never a partial result.
//
// A Writer is the single consumer of a log's record.Queue. It drives
// Stagers for successive transactions and resolves Flush barriers once
// all prior records are durable.
package stager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.shiplog.dev/core/metrics"
)

var (
	stagedRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.StagedRecordsTotalKey,
		Help: "Cumulative number of command records staged.",
	})
	stagedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.StagedBytesTotalKey,
		Help: "Cumulative number of bytes written to staging files.",
	})
	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.FlushesTotalKey,
		Help: "Cumulative number of resolved flush barriers.",
	}, []string{"status"})
	publishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.PublishesTotalKey,
		Help: "Cumulative number of transaction publish attempts.",
	}, []string{"status"})
	validationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ValidationFailuresTotalKey,
		Help: "Cumulative number of commands rejected as invalid.",
	})
	quarantinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.QuarantinedTotalKey,
		Help: "Cumulative number of incomplete staging files of committed transactions.",
	})
)
