package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/registry/internal/queue"
)

// Handler registers the finalization task handlers.
func (f *Finalizer) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.PromoteBatchTask, f.handle(f.Promote))
	mux.HandleFunc(queue.PurgeBatchTask, f.handle(f.Purge))
	return mux
}

func (f *Finalizer) handle(fn func(context.Context, queue.BatchPayload) error) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		payload, err := queue.Decode(task.Payload())
		if err != nil {
			f.logger.Error("dropping malformed task", "type", task.Type(), "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err := fn(ctx, payload); err != nil {
			f.logger.Error("finalize failed", "type", task.Type(), "batch", payload.Token, "error", err)
			return err
		}
		return nil
	}
}
