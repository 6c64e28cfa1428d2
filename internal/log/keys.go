// Package log holds the shared slog/trace attribute keys.
package log

const (
	InstanceIDKey  = "instance_id"
	ExecutionIDKey = "execution_id"

	OrchestrationNameKey = "orchestration"
	ActivityNameKey      = "activity"

	TaskIDKey             = "task_id"
	TaskLastSequenceIDKey = "task_last_sequence_id"
	LocalSequenceIDKey    = "local_sequence_id"
	SeqIDKey              = "sequence_id"

	EventIDKey         = "event_id"
	EventTypeKey       = "event_type"
	ScheduleEventIDKey = "schedule_event_id"

	ErrorKey = "error"

	InstanceStateKey     = "instance_state"
	ExecutedEventsKey    = "executed_events"
	AttemptKey           = "attempt"
	IsReplayingKey       = "is_replaying"
	ActivityTimeoutKey   = "activity_timeout"
	TerminationReasonKey = "reason"
)
