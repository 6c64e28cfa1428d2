package command

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/retry"
)

type ScheduleActivityCommand struct {
	command

	Name    string
	Inputs  []payload.Payload
	Retry   retry.Policy
	Timeout time.Duration
}

var _ Command = (*ScheduleActivityCommand)(nil)

func NewScheduleActivityCommand(id int64, name string, inputs []payload.Payload, policy retry.Policy, timeout time.Duration) *ScheduleActivityCommand {
	return &ScheduleActivityCommand{
		command: command{
			state: CommandState_Pending,
			id:    id,
		},
		Name:    name,
		Inputs:  inputs,
		Retry:   policy,
		Timeout: timeout,
	}
}

func (*ScheduleActivityCommand) Type() string {
	return "ScheduleActivity"
}

func (c *ScheduleActivityCommand) Commit(clock clock.Clock) *CommandResult {
	c.commit()

	event := history.NewPendingEvent(
		clock.Now(),
		history.EventType_ActivityScheduled,
		&history.ActivityScheduledAttributes{
			Name:    c.Name,
			Inputs:  c.Inputs,
			Retry:   c.Retry,
			Timeout: c.Timeout,
		},
		history.ScheduleEventID(c.id))

	return &CommandResult{
		State:          core.InstanceStateRunning,
		Events:         []*history.Event{event},
		ActivityEvents: []*history.Event{event},
	}
}
