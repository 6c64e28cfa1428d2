package backend

type Stats struct {
	ActiveInstances int64

	// PendingOrchestrationTasks are the number of orchestration tasks that are
	// currently in the queue, waiting to be processed by a worker
	PendingOrchestrationTasks int64

	// PendingActivities are the number of activities that are currently in the
	// queue, waiting to be processed by a worker
	PendingActivities int64
}
