package history

import (
	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/internal/orcherrors"
)

type OrchestrationCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`
}

type OrchestrationFailedAttributes struct {
	Error *orcherrors.Error `json:"error,omitempty"`
}

type OrchestrationTerminatedAttributes struct {
	Reason string `json:"reason,omitempty"`
}
