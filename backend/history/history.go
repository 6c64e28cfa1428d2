package history

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type EventType uint

const (
	_ EventType = iota

	EventType_OrchestrationStarted
	EventType_OrchestrationCompleted
	EventType_OrchestrationFailed
	EventType_OrchestrationTerminated

	EventType_ActivityScheduled
	EventType_ActivityCompleted
	EventType_ActivityFailed

	EventType_TerminationRequested
	EventType_SuspendRequested
	EventType_ResumeRequested

	EventType_CustomStatusSet
)

func (et EventType) String() string {
	switch et {
	case EventType_OrchestrationStarted:
		return "OrchestrationStarted"
	case EventType_OrchestrationCompleted:
		return "OrchestrationCompleted"
	case EventType_OrchestrationFailed:
		return "OrchestrationFailed"
	case EventType_OrchestrationTerminated:
		return "OrchestrationTerminated"

	case EventType_ActivityScheduled:
		return "ActivityScheduled"
	case EventType_ActivityCompleted:
		return "ActivityCompleted"
	case EventType_ActivityFailed:
		return "ActivityFailed"

	case EventType_TerminationRequested:
		return "TerminationRequested"
	case EventType_SuspendRequested:
		return "SuspendRequested"
	case EventType_ResumeRequested:
		return "ResumeRequested"

	case EventType_CustomStatusSet:
		return "CustomStatusSet"

	default:
		return "Unknown"
	}
}

// Event is one immutable history record. Events are ordered per instance by
// SequenceID, which the backend assigns on append; events are never edited or
// removed once written.
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id,omitempty"`

	Type EventType `json:"type,omitempty"`

	// Timestamp is informational only, replay never depends on it.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// SequenceID is the position in the instance history. Monotonic, gapless,
	// assigned by the history store. Zero for events not yet committed.
	SequenceID int64 `json:"sequence_id,omitempty"`

	// ScheduleEventID correlates events belonging to the same logical step:
	// an ActivityScheduled event and its completion/failure carry the same ID.
	ScheduleEventID int64 `json:"schedule_event_id,omitempty"`

	// Attributes are event type specific attributes
	Attributes any `json:"attr,omitempty"`
}

func (e *Event) String() string {
	return strconv.Itoa(int(e.Type))
}

type EventOption func(e *Event)

func ScheduleEventID(scheduleEventID int64) EventOption {
	return func(e *Event) {
		e.ScheduleEventID = scheduleEventID
	}
}

// NewPendingEvent creates an event that has not been committed to history
// yet; the backend assigns its SequenceID on append.
func NewPendingEvent(timestamp time.Time, eventType EventType, attributes any, opts ...EventOption) *Event {
	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  timestamp,
		Attributes: attributes,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
