package worker

import (
	"time"

	internal "github.com/corvid-labs/durable/internal/worker"
)

type Options struct {
	// OrchestrationPollers is the number of pollers claiming orchestration
	// tasks. Defaults to 2.
	OrchestrationPollers int

	// MaxParallelOrchestrationTasks is the maximum number of orchestration
	// tasks processed in parallel. Defaults to 0, no limit.
	MaxParallelOrchestrationTasks int

	// OrchestrationHeartbeatInterval is the interval between orchestration
	// task lock extensions. Defaults to 25 seconds.
	OrchestrationHeartbeatInterval time.Duration

	// OrchestrationPollingInterval is the wait between unsuccessful polls.
	// Defaults to 200ms.
	OrchestrationPollingInterval time.Duration

	// ExecutorCacheSize is the maximum number of cached instance executors.
	// Defaults to 128.
	ExecutorCacheSize int

	// ExecutorCacheTTL is how long an idle instance keeps its cached
	// executor. Defaults to 10 seconds.
	ExecutorCacheTTL time.Duration

	// ActivityPollers is the number of pollers claiming activity tasks.
	// Defaults to 2.
	ActivityPollers int

	// MaxParallelActivityTasks is the maximum number of activities running
	// in parallel. Defaults to 0, no limit.
	MaxParallelActivityTasks int

	// ActivityHeartbeatInterval is the interval between activity task lock
	// extensions. Defaults to 25 seconds.
	ActivityHeartbeatInterval time.Duration

	// ActivityPollingInterval is the wait between unsuccessful polls.
	// Defaults to 200ms.
	ActivityPollingInterval time.Duration
}

var DefaultOptions = Options{
	OrchestrationPollers:           2,
	MaxParallelOrchestrationTasks:  0,
	OrchestrationHeartbeatInterval: 25 * time.Second,
	OrchestrationPollingInterval:   200 * time.Millisecond,
	ExecutorCacheSize:              128,
	ExecutorCacheTTL:               10 * time.Second,
	ActivityPollers:                2,
	MaxParallelActivityTasks:       0,
	ActivityHeartbeatInterval:      25 * time.Second,
	ActivityPollingInterval:        200 * time.Millisecond,
}

func (o *Options) orchestrationWorkerOptions() internal.OrchestrationWorkerOptions {
	return internal.OrchestrationWorkerOptions{
		Options: internal.Options{
			Pollers:           o.OrchestrationPollers,
			MaxParallelTasks:  o.MaxParallelOrchestrationTasks,
			HeartbeatInterval: o.OrchestrationHeartbeatInterval,
			PollingInterval:   o.OrchestrationPollingInterval,
		},
		ExecutorCacheSize: o.ExecutorCacheSize,
		ExecutorCacheTTL:  o.ExecutorCacheTTL,
	}
}

func (o *Options) activityWorkerOptions() internal.Options {
	return internal.Options{
		Pollers:           o.ActivityPollers,
		MaxParallelTasks:  o.MaxParallelActivityTasks,
		HeartbeatInterval: o.ActivityHeartbeatInterval,
		PollingInterval:   o.ActivityPollingInterval,
	}
}
