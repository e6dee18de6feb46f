package metrics

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for group metrics.
const (
	OpenGroupsKey              = "tightdb_open_groups"
	CommitsTotalKey            = "tightdb_commits_total"
	FailedCommitsTotalKey      = "tightdb_failed_commits_total"
	CancelledTransactionsKey   = "tightdb_cancelled_transactions_total"
	CommittedBytesTotalKey     = "tightdb_committed_bytes_total"
	CommitDurationSecondsKey   = "tightdb_commit_duration_seconds"
	WriteLockWaitSecondsKey    = "tightdb_write_lock_wait_seconds"
	WouldBlockTotalKey         = "tightdb_would_block_total"
	ReplayedRecordsTotalKey    = "tightdb_replayed_records_total"
	RepairedBytesTotalKey      = "tightdb_repaired_bytes_total"
	NotificationsTotalKey      = "tightdb_notifications_total"
	CompactionsTotalKey        = "tightdb_compactions_total"
	ActiveReadTransactionsKey  = "tightdb_active_read_transactions"
	NotificationQueueLengthKey = "tightdb_notification_queue_length"
)

// Collectors for group metrics.
var (
	OpenGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: OpenGroupsKey,
		Help: "Number of group handles currently open.",
	})
	CommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CommitsTotalKey,
		Help: "Cumulative number of committed write transactions.",
	})
	FailedCommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: FailedCommitsTotalKey,
		Help: "Cumulative number of commits that could not be persisted.",
	})
	CancelledTransactions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CancelledTransactionsKey,
		Help: "Cumulative number of cancelled write transactions.",
	})
	CommittedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CommittedBytesTotalKey,
		Help: "Cumulative number of bytes appended by commits.",
	})
	CommitDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: CommitDurationSecondsKey,
		Help: "Time spent encoding, writing and syncing a commit.",
	})
	WriteLockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: WriteLockWaitSecondsKey,
		Help: "Time spent waiting for the writer lock.",
	})
	WouldBlockTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: WouldBlockTotalKey,
		Help: "Cumulative number of non blocking write attempts that found the lock taken.",
	})
	ReplayedRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ReplayedRecordsTotalKey,
		Help: "Cumulative number of records read back from group files.",
	})
	RepairedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: RepairedBytesTotalKey,
		Help: "Cumulative number of torn tail bytes truncated from group files.",
	})
	NotificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: NotificationsTotalKey,
		Help: "Cumulative number of change notifications delivered.",
	})
	CompactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CompactionsTotalKey,
		Help: "Cumulative number of file compactions.",
	})
	ActiveReadTransactions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ActiveReadTransactionsKey,
		Help: "Number of read transactions not yet ended.",
	})
	NotificationQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: NotificationQueueLengthKey,
		Help: "Number of commits waiting to be delivered to subscribers.",
	})
)

func GroupCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		OpenGroups,
		CommitsTotal,
		FailedCommitsTotal,
		CancelledTransactions,
		CommittedBytesTotal,
		CommitDurationSeconds,
		WriteLockWaitSeconds,
		WouldBlockTotal,
		ReplayedRecordsTotal,
		RepairedBytesTotal,
		NotificationsTotal,
		CompactionsTotal,
		ActiveReadTransactions,
		NotificationQueueLength,
	}
}

// Keys for http api metrics.
const (
	RequestsTotalKey = "tightdb_http_requests_total"
)

// Collectors for http api metrics.
var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RequestsTotalKey,
		Help: "Cumulative number of api requests by method and status.",
	}, []string{"method", "status"})
)

func APICollectors() []prometheus.Collector {
	return []prometheus.Collector{RequestsTotal}
}

func Collectors() []prometheus.Collector {
	return append(GroupCollectors(), APICollectors()...)
}
