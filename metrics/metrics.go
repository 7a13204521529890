package metrics

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for shiplog metrics.
const (
	StagedRecordsTotalKey      = "shiplog_staged_records_total"
	StagedBytesTotalKey        = "shiplog_staged_bytes_total"
	FlushesTotalKey            = "shiplog_flushes_total"
	PublishesTotalKey          = "shiplog_publishes_total"
	ShipsTotalKey              = "shiplog_ships_total"
	ShippedBytesTotalKey       = "shiplog_shipped_bytes_total"
	CleansTotalKey             = "shiplog_cleans_total"
	PendingFilesKey            = "shiplog_pending_files"
	StoreOperationTotalKey     = "shiplog_store_operation_total"
	StoreOperationDurationKey  = "shiplog_store_operation_duration_seconds"
	StoreActiveKey             = "shiplog_store_active"
	BookkeepingCommitIDKey     = "shiplog_bookkeeping_commit_id"
	BookkeepingPrunedTotalKey  = "shiplog_bookkeeping_pruned_rows_total"
	LockAcquisitionsTotalKey   = "shiplog_lock_acquisitions_total"
	ScanDurationSecondsKey     = "shiplog_scan_duration_seconds"
	ValidationFailuresTotalKey = "shiplog_validation_failures_total"
	QuarantinedTotalKey        = "shiplog_quarantined_total"

	Fail = "fail"
	Ok   = "ok"
)

// Status returns Ok if |err| is nil, and Fail otherwise.
func Status(err error) string {
	if err == nil {
		return Ok
	}
	return Fail
}
