package history

import (
	"time"

	"github.com/corvid-labs/durable/backend/payload"
)

type TerminationRequestedAttributes struct {
	Reason string `json:"reason,omitempty"`
}

type SuspendRequestedAttributes struct{}

type ResumeRequestedAttributes struct{}

type CustomStatusSetAttributes struct {
	Status payload.Payload `json:"status,omitempty"`
}

func NewTerminationRequestedEvent(timestamp time.Time, reason string) *Event {
	return NewPendingEvent(timestamp, EventType_TerminationRequested, &TerminationRequestedAttributes{Reason: reason})
}

func NewSuspendRequestedEvent(timestamp time.Time) *Event {
	return NewPendingEvent(timestamp, EventType_SuspendRequested, &SuspendRequestedAttributes{})
}

func NewResumeRequestedEvent(timestamp time.Time) *Event {
	return NewPendingEvent(timestamp, EventType_ResumeRequested, &ResumeRequestedAttributes{})
}
