package metrickeys

const (
	Prefix = "durable."

	// Orchestrations
	InstanceCreated  = Prefix + "instance.created"
	InstanceFinished = Prefix + "instance.finished"

	OrchestrationTaskProcessed = Prefix + "orchestration.task.processed"
	OrchestrationTaskDelay     = Prefix + "orchestration.task.time_in_queue"

	HistoryCacheSize     = Prefix + "orchestration.history_cache.size"
	HistoryCacheEviction = Prefix + "orchestration.history_cache.eviction"

	// Activities
	ActivityTaskProcessed = Prefix + "activity.task.processed"
	ActivityTaskDelay     = Prefix + "activity.task.time_in_queue"
	ActivityAttempts      = Prefix + "activity.attempts"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	// Reason for evicting an entry from the history cache
	EvictionReason = "reason"

	ActivityName      = "activity"
	OrchestrationName = "orchestration"
)
