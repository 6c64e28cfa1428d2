package command

import (
	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/orcherrors"
)

type CompleteOrchestrationCommand struct {
	command

	Result payload.Payload
	Error  *orcherrors.Error
}

var _ Command = (*CompleteOrchestrationCommand)(nil)

func NewCompleteOrchestrationCommand(id int64, result payload.Payload, err *orcherrors.Error) *CompleteOrchestrationCommand {
	return &CompleteOrchestrationCommand{
		command: command{
			state: CommandState_Pending,
			id:    id,
		},
		Result: result,
		Error:  err,
	}
}

func (*CompleteOrchestrationCommand) Type() string {
	return "CompleteOrchestration"
}

func (c *CompleteOrchestrationCommand) Commit(clock clock.Clock) *CommandResult {
	c.commit()

	if c.Error != nil {
		return &CommandResult{
			State: core.InstanceStateFailed,
			Events: []*history.Event{
				history.NewPendingEvent(
					clock.Now(),
					history.EventType_OrchestrationFailed,
					&history.OrchestrationFailedAttributes{
						Error: c.Error,
					},
				),
			},
		}
	}

	return &CommandResult{
		State: core.InstanceStateCompleted,
		Events: []*history.Event{
			history.NewPendingEvent(
				clock.Now(),
				history.EventType_OrchestrationCompleted,
				&history.OrchestrationCompletedAttributes{
					Result: c.Result,
				},
			),
		},
	}
}
