package history

import (
	"encoding/json"
	"fmt"
)

func (e *Event) UnmarshalJSON(data []byte) error {
	type Aevent Event
	a := &struct {
		// Attributes allows us to defer unmarshaling the events. Has to match the struct tag in Event
		Attributes json.RawMessage `json:"attr,omitempty"`
		*Aevent
	}{}

	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	*e = *(*Event)(a.Aevent)
	attributes, err := DeserializeAttributes(e.Type, a.Attributes)
	if err != nil {
		return err
	}

	e.Attributes = attributes

	return nil
}

func SerializeAttributes(attributes any) ([]byte, error) {
	return json.Marshal(attributes)
}

func DeserializeAttributes(eventType EventType, attributes []byte) (attr any, err error) {
	switch eventType {
	case EventType_OrchestrationStarted:
		attr = &OrchestrationStartedAttributes{}
	case EventType_OrchestrationCompleted:
		attr = &OrchestrationCompletedAttributes{}
	case EventType_OrchestrationFailed:
		attr = &OrchestrationFailedAttributes{}
	case EventType_OrchestrationTerminated:
		attr = &OrchestrationTerminatedAttributes{}

	case EventType_ActivityScheduled:
		attr = &ActivityScheduledAttributes{}
	case EventType_ActivityCompleted:
		attr = &ActivityCompletedAttributes{}
	case EventType_ActivityFailed:
		attr = &ActivityFailedAttributes{}

	case EventType_TerminationRequested:
		attr = &TerminationRequestedAttributes{}
	case EventType_SuspendRequested:
		attr = &SuspendRequestedAttributes{}
	case EventType_ResumeRequested:
		attr = &ResumeRequestedAttributes{}

	case EventType_CustomStatusSet:
		attr = &CustomStatusSetAttributes{}

	default:
		return nil, fmt.Errorf("unknown event type %v when deserializing attributes", eventType)
	}

	err = json.Unmarshal(attributes, &attr)
	return attr, err
}
