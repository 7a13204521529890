// Package shipper ships published transaction files to one or more remote
// write archives, and deletes each local file once every archive holds it.
//
// A Shipper periodically scans the log segment directories of a database.
// Each published file it finds is LOCAL_ONLY until a destination confirms a
// successful copy, at which point it's SHIPPED to that destination. A file
// SHIPPED to every destination is cleaned from the local filesystem. Failed
// copies leave the file in place, to be retried by a later scan.
//
// Shipping is at-least-once. A crash between ship and clean causes the file
// to be shipped again, and archives are expected to deduplicate on the
// (segment, commit ID) key embedded in each file name.
package shipper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.shiplog.dev/core/metrics"
)

var (
	shipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.ShipsTotalKey,
		Help: "Cumulative number of attempts to ship a file to a destination.",
	}, []string{"destination", "status"})
	shippedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ShippedBytesTotalKey,
		Help: "Cumulative number of local bytes shipped to write archives.",
	})
	cleansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.CleansTotalKey,
		Help: "Cumulative number of attempts to delete a shipped local file.",
	}, []string{"status"})
	pendingFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: metrics.PendingFilesKey,
		Help: "Number of published files not yet cleaned, as of the last scan.",
	})
	scanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    metrics.ScanDurationSecondsKey,
		Help:    "Duration of shipper scans.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})
)
