package dispatch

import (
	"context"
	"time"

	"aspor-backend/internal/shared/telemetry"
)

// InProc runs the worker in a goroutine of the serving process. Used for local
// development and the long-running server deployment, where there is no
// separate worker function to invoke.
type InProc struct {
	Handler func(ctx context.Context, m Message) error
	Timeout time.Duration
}

// Dispatch starts the handler in the background and returns immediately. The
// handler gets a fresh context so it survives the request that enqueued it.
func (d *InProc) Dispatch(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := d.Handler(ctx, m); err != nil {
			telemetry.Error("background analysis failed", map[string]any{
				"run_id": m.RunID,
				"error":  err.Error(),
			})
		}
	}()
	return nil
}

var _ Dispatcher = (*InProc)(nil)
