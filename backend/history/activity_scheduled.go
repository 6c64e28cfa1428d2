package history

import (
	"time"

	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/retry"
)

type ActivityScheduledAttributes struct {
	Name string `json:"name,omitempty"`

	Inputs []payload.Payload `json:"inputs,omitempty"`

	// Retry is the policy governing additional attempts for this step. It is
	// recorded with the step so retry decisions survive worker crashes.
	Retry retry.Policy `json:"retry,omitempty"`

	// Timeout bounds a single activity attempt.
	Timeout time.Duration `json:"timeout,omitempty"`
}
