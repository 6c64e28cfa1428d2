package history

import (
	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/internal/orcherrors"
)

type ActivityCompletedAttributes struct {
	Result payload.Payload `json:"result,omitempty"`

	// Attempts is the number of tries the dispatcher needed.
	Attempts int `json:"attempts,omitempty"`
}

type ActivityFailedAttributes struct {
	Error *orcherrors.Error `json:"error,omitempty"`

	Attempts int `json:"attempts,omitempty"`
}
