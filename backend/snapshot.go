package backend

import (
	"time"

	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/orcherrors"
)

// Snapshot is the read-only projection of an instance, maintained by the
// backend from committed history events. It always reflects the last durable
// state; nothing in it was ever uncommitted.
type Snapshot struct {
	Instance *core.Instance `json:"instance,omitempty"`

	// Name is the orchestration type the instance runs.
	Name string `json:"name,omitempty"`

	State core.InstanceState `json:"state"`

	CreatedAt   time.Time  `json:"created_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CustomStatus is the last status set by the orchestration while Running.
	CustomStatus payload.Payload `json:"custom_status,omitempty"`

	// Output is set once on the terminal transition and immutable thereafter.
	Output payload.Payload `json:"output,omitempty"`

	// Error is set when the instance failed or was terminated.
	Error *orcherrors.Error `json:"error,omitempty"`

	LastSequenceID int64 `json:"last_sequence_id,omitempty"`
}

// ApplyEvents folds newly committed history events into the snapshot. Shared
// by all backends so the projection rules live in one place.
func (s *Snapshot) ApplyEvents(state core.InstanceState, events []*history.Event) {
	if s.State.Finished() {
		// Terminal snapshots are immutable
		return
	}

	s.State = state

	for _, event := range events {
		if event.SequenceID > s.LastSequenceID {
			s.LastSequenceID = event.SequenceID
		}

		switch event.Type {
		case history.EventType_CustomStatusSet:
			s.CustomStatus = event.Attributes.(*history.CustomStatusSetAttributes).Status

		case history.EventType_OrchestrationCompleted:
			s.Output = event.Attributes.(*history.OrchestrationCompletedAttributes).Result
			s.complete(event.Timestamp)

		case history.EventType_OrchestrationFailed:
			s.Error = event.Attributes.(*history.OrchestrationFailedAttributes).Error
			s.complete(event.Timestamp)

		case history.EventType_OrchestrationTerminated:
			s.Error = &orcherrors.Error{
				Type:    "Terminated",
				Message: event.Attributes.(*history.OrchestrationTerminatedAttributes).Reason,
			}
			s.complete(event.Timestamp)
		}
	}
}

func (s *Snapshot) complete(at time.Time) {
	t := at
	s.CompletedAt = &t
}
