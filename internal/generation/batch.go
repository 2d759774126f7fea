package generation

import (
	"context"

	"github.com/example/stable-scheduler/internal/persistence"
)

// DefaultBatchSize keeps each commit below persistence.MaxBatchOperations.
const DefaultBatchSize = 400

func clampBatchSize(size int) int {
	if size <= 0 {
		return DefaultBatchSize
	}
	if size > persistence.MaxBatchOperations {
		return persistence.MaxBatchOperations
	}
	return size
}

// batchWriter queues instance writes and commits whenever the queue reaches
// size, plus once more on flush for the remainder.
type batchWriter struct {
	repo  persistence.InstanceRepository
	size  int
	batch persistence.InstanceBatch

	queuedCreates int
	commits       int
	inserted      int
	conflicts     int
	deleted       int
}

func newBatchWriter(repo persistence.InstanceRepository, size int) *batchWriter {
	return &batchWriter{repo: repo, size: clampBatchSize(size)}
}

func (w *batchWriter) current() persistence.InstanceBatch {
	if w.batch == nil {
		w.batch = w.repo.NewInstanceBatch()
	}
	return w.batch
}

func (w *batchWriter) create(ctx context.Context, instance persistence.ActivityInstance) error {
	if err := w.current().CreateIfAbsent(instance); err != nil {
		return err
	}
	w.queuedCreates++
	return w.flushIfFull(ctx)
}

func (w *batchWriter) delete(ctx context.Context, id string) error {
	if err := w.current().Delete(id); err != nil {
		return err
	}
	return w.flushIfFull(ctx)
}

func (w *batchWriter) flushIfFull(ctx context.Context) error {
	if w.batch.Len() < w.size {
		return nil
	}
	return w.flush(ctx)
}

// flush commits the pending batch, if any. Creates that found an existing row
// are counted as conflicts.
func (w *batchWriter) flush(ctx context.Context) error {
	if w.batch == nil || w.batch.Len() == 0 {
		return nil
	}
	pending := w.batch
	queued := w.queuedCreates
	deletes := pending.Len() - queued
	w.batch = nil
	w.queuedCreates = 0

	inserted, err := pending.Commit(ctx)
	if err != nil {
		return err
	}
	w.commits++
	w.inserted += inserted
	w.conflicts += queued - inserted
	w.deleted += deletes
	return nil
}
