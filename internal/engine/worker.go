package engine

import (
	"context"
	"log/slog"

	"github.com/chatforge/convoflow/pkg/convoflow/domain"
)

// Worker processes claimed tasks from the queue until the context is cancelled.
func Worker(ctx context.Context, id int, engine *TaskEngine, taskQueue <-chan domain.ScheduledTask) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker stopping due to context cancel", "worker_id", id)
			return
		case task := <-taskQueue:
			slog.Info("Worker starting task", "worker_id", id, "task_id", task.ID)
			engine.processClaimed(ctx, task)
			slog.Info("Worker finished task", "worker_id", id, "task_id", task.ID)
		}
	}
}
