package command

import (
	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/core"
)

type CommandState int

const (
	CommandState_Pending CommandState = iota
	CommandState_Committed
	CommandState_Done
)

// Command is a side effect the orchestration function decided on during one
// execution: schedule an activity, record a custom status, or finish the
// instance. Commands turn into history events when committed.
type Command interface {
	ID() int64

	State() CommandState

	Type() string

	// Commit transitions the command to committed and produces its events.
	Commit(clock clock.Clock) *CommandResult

	// Done marks the command's result as applied.
	Done()
}

type CommandResult struct {
	// State is the instance state this command moves the instance to.
	// States compare by severity; the executor keeps the highest one.
	State core.InstanceState

	Events []*history.Event

	// ActivityEvents are the subset of Events that have to be enqueued for
	// the activity dispatcher.
	ActivityEvents []*history.Event
}

type command struct {
	state CommandState

	id int64
}

func (c *command) commit() {
	if c.state != CommandState_Pending {
		panic("command already committed")
	}

	c.state = CommandState_Committed
}

func (c *command) ID() int64 {
	return c.id
}

func (c *command) State() CommandState {
	return c.state
}

func (c *command) Done() {
	c.state = CommandState_Done
}
