package command

import (
	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/core"
)

type SetCustomStatusCommand struct {
	command

	Status payload.Payload
}

var _ Command = (*SetCustomStatusCommand)(nil)

func NewSetCustomStatusCommand(id int64, status payload.Payload) *SetCustomStatusCommand {
	return &SetCustomStatusCommand{
		command: command{
			state: CommandState_Pending,
			id:    id,
		},
		Status: status,
	}
}

func (*SetCustomStatusCommand) Type() string {
	return "SetCustomStatus"
}

func (c *SetCustomStatusCommand) Commit(clock clock.Clock) *CommandResult {
	c.commit()

	return &CommandResult{
		State: core.InstanceStateRunning,
		Events: []*history.Event{
			history.NewPendingEvent(
				clock.Now(),
				history.EventType_CustomStatusSet,
				&history.CustomStatusSetAttributes{
					Status: c.Status,
				},
				history.ScheduleEventID(c.id)),
		},
	}
}
