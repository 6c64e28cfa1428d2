package orchestration

import (
	"github.com/corvid-labs/durable/backend/history"
	"github.com/corvid-labs/durable/internal/command"
	"github.com/corvid-labs/durable/internal/orcherrors"
	"github.com/corvid-labs/durable/internal/orchstate"
)

// SetCustomStatus sets the custom status of the current instance. The value
// is serialized and surfaced on the instance snapshot. The status is a
// recorded step: replay consumes it instead of emitting it again.
func SetCustomStatus(ctx Context, status any) error {
	s := orchstate.FromContext(ctx)

	step, isNew, err := s.NextStep(history.EventType_CustomStatusSet, "")
	if err != nil {
		panic(orchstate.Abort{Err: orcherrors.NewNonDeterminismError(err.Error())})
	}

	if !isNew {
		return nil
	}

	p, err := s.Converter().To(status)
	if err != nil {
		return err
	}

	s.AddCommand(command.NewSetCustomStatusCommand(step.ID, p))

	return nil
}
