package command

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/backend/payload"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/orcherrors"
	"github.com/corvid-labs/durable/retry"
)

func TestScheduleActivityCommand(t *testing.T) {
	cl := clock.NewMock()

	c := NewScheduleActivityCommand(3, "VerifyInventory", []payload.Payload{[]byte(`1`)}, retry.DefaultPolicy, time.Minute)
	require.Equal(t, int64(3), c.ID())
	require.Equal(t, CommandState_Pending, c.State())

	r := c.Commit(cl)
	require.Equal(t, CommandState_Committed, c.State())
	require.Equal(t, core.InstanceStateRunning, r.State)
	require.Len(t, r.Events, 1)

	// Scheduled events go to history and the dispatcher
	require.Equal(t, r.Events, r.ActivityEvents)

	event := r.Events[0]
	require.Equal(t, history.EventType_ActivityScheduled, event.Type)
	require.Equal(t, int64(3), event.ScheduleEventID)

	attr := event.Attributes.(*history.ActivityScheduledAttributes)
	require.Equal(t, "VerifyInventory", attr.Name)
	require.Equal(t, retry.DefaultPolicy, attr.Retry)
	require.Equal(t, time.Minute, attr.Timeout)
}

func TestCompleteOrchestrationCommand(t *testing.T) {
	cl := clock.NewMock()

	c := NewCompleteOrchestrationCommand(5, []byte(`"done"`), nil)
	r := c.Commit(cl)
	require.Equal(t, core.InstanceStateCompleted, r.State)
	require.Empty(t, r.ActivityEvents)
	require.Equal(t, history.EventType_OrchestrationCompleted, r.Events[0].Type)
	require.Equal(t, payload.Payload(`"done"`), r.Events[0].Attributes.(*history.OrchestrationCompletedAttributes).Result)

	f := NewCompleteOrchestrationCommand(5, nil, orcherrors.FromError(errors.New("boom")))
	rf := f.Commit(cl)
	require.Equal(t, core.InstanceStateFailed, rf.State)
	require.Equal(t, history.EventType_OrchestrationFailed, rf.Events[0].Type)
	require.Equal(t, "boom", rf.Events[0].Attributes.(*history.OrchestrationFailedAttributes).Error.Message)
}

func TestSetCustomStatusCommand(t *testing.T) {
	cl := clock.NewMock()

	c := NewSetCustomStatusCommand(2, []byte(`"verifying inventory"`))
	r := c.Commit(cl)
	require.Equal(t, core.InstanceStateRunning, r.State)
	require.Equal(t, history.EventType_CustomStatusSet, r.Events[0].Type)
	require.Equal(t, int64(2), r.Events[0].ScheduleEventID)
}

func TestCommand_DoubleCommitPanics(t *testing.T) {
	c := NewSetCustomStatusCommand(1, nil)
	c.Commit(clock.NewMock())

	require.Panics(t, func() {
		c.Commit(clock.NewMock())
	})
}
