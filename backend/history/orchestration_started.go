package history

import (
	"github.com/corvid-labs/durable/backend/payload"
)

type OrchestrationStartedAttributes struct {
	Name string `json:"name,omitempty"`

	Inputs []payload.Payload `json:"inputs,omitempty"`
}
