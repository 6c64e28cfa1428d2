package backend

import (
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/core"
)

// OrchestrationTask is one replay trigger for an instance: the events that
// arrived since the last replay, plus where the committed history ends.
type OrchestrationTask struct {
	ID string

	Instance *core.Instance

	// State is the instance state at the time the task was locked.
	State core.InstanceState

	// LastSequenceID is the sequence ID of the last committed history event.
	LastSequenceID int64

	// NewEvents are events not yet part of the history: activity results and
	// control events delivered since the last replay.
	NewEvents []*history.Event
}

// ActivityTask is one scheduled unit of work, correlated to its
// ActivityScheduled event via the event's ScheduleEventID.
type ActivityTask struct {
	ID string

	Instance *core.Instance

	// Event is the ActivityScheduled event that produced this task.
	Event *history.Event
}
