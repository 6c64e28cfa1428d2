package orchestration

import (
	"context"
	"log/slog"

	"github.com/corvid-labs/durable/internal/log"
	"github.com/corvid-labs/durable/internal/orchstate"
)

// Context is the context passed to orchestration functions. Orchestrations
// receive a plain context.Context; determinism is enforced by the replay
// cursor carried in its values, not by a dedicated context type.
type Context = context.Context

// InstanceID returns the instance ID of the currently executing orchestration.
func InstanceID(ctx Context) string {
	return orchstate.FromContext(ctx).Instance().InstanceID
}

// Replaying reports whether the orchestration is re-executing steps already
// recorded in history. Use it to gate side effects like logging that should
// happen once per logical step.
func Replaying(ctx Context) bool {
	return orchstate.FromContext(ctx).Replaying()
}

// Logger returns a logger scoped to the current instance. Records emitted
// during replay carry the replay attribute so they can be filtered out.
func Logger(ctx Context) *slog.Logger {
	s := orchstate.FromContext(ctx)

	return s.Logger().With(log.IsReplayingKey, s.Replaying())
}
