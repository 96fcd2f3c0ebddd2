package metrics

const (
	ClientReqsSentH      = "The total number of time queries sent"
	ClientReqsSentN      = "timeclock_client_reqs_sent"
	ClientPktsReceivedH  = "The total number of packets received from the time authority"
	ClientPktsReceivedN  = "timeclock_client_pkts_received"
	ClientRespsAcceptedH = "The total number of authority responses accepted"
	ClientRespsAcceptedN = "timeclock_client_resps_accepted"

	SyncSuccessesH = "The total number of successful clock synchronizations"
	SyncSuccessesN = "timeclock_sync_successes"
	SyncFailuresH  = "The total number of failed clock synchronizations"
	SyncFailuresN  = "timeclock_sync_failures"
	SyncOffsetH    = "The most recently measured clock offset in seconds"
	SyncOffsetN    = "timeclock_sync_offset_seconds"
	SyncBackoffH   = "The current synchronization backoff delay in seconds"
	SyncBackoffN   = "timeclock_sync_backoff_seconds"

	PersistWritesH = "The total number of offset record writes"
	PersistWritesN = "timeclock_persist_writes"
	PersistErrorsH = "The total number of failed offset record writes"
	PersistErrorsN = "timeclock_persist_errors"
)
