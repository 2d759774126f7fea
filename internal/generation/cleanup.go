package generation

import (
	"context"
	"log/slog"

	"github.com/example/stable-scheduler/internal/logging"
	"github.com/example/stable-scheduler/internal/persistence"
)

// CleanupResult counts the instances touched by a cleanup.
type CleanupResult struct {
	Deleted   int `json:"deleted"`
	Preserved int `json:"preserved"`
	Commits   int `json:"commits"`
}

// InstanceCleaner removes the instances of deleted definitions while keeping
// completed and in-progress history.
type InstanceCleaner struct {
	definitions persistence.DefinitionRepository
	instances   persistence.InstanceRepository
	batchSize   int
	logger      *slog.Logger
}

// NewInstanceCleaner constructs a cleaner with the default logger.
func NewInstanceCleaner(definitions persistence.DefinitionRepository, instances persistence.InstanceRepository, batchSize int) *InstanceCleaner {
	return NewInstanceCleanerWithLogger(definitions, instances, batchSize, nil)
}

// NewInstanceCleanerWithLogger constructs a cleaner with a specified logger.
func NewInstanceCleanerWithLogger(definitions persistence.DefinitionRepository, instances persistence.InstanceRepository, batchSize int, logger *slog.Logger) *InstanceCleaner {
	return &InstanceCleaner{
		definitions: definitions,
		instances:   instances,
		batchSize:   clampBatchSize(batchSize),
		logger:      logging.Default(logger),
	}
}

// RemoveForDefinition deletes the removable instances of one definition.
func (c *InstanceCleaner) RemoveForDefinition(ctx context.Context, definitionID string) (CleanupResult, error) {
	if c == nil || c.instances == nil {
		return CleanupResult{}, ErrNotConfigured
	}
	logger := logging.Component(ctx, c.logger, "InstanceCleaner", "RemoveForDefinition", "definition_id", definitionID)

	writer := newBatchWriter(c.instances, c.batchSize)
	var result CleanupResult
	err := c.remove(ctx, writer, definitionID, &result)
	if err == nil {
		err = writer.flush(ctx)
	}
	result.Deleted = writer.deleted
	result.Commits = writer.commits
	if err != nil {
		logger.ErrorContext(ctx, "instance cleanup failed", "error", err, "error_kind", ErrorKind(err), "deleted", result.Deleted)
		return result, err
	}
	logger.InfoContext(ctx, "instances removed", "deleted", result.Deleted, "preserved", result.Preserved)
	return result, nil
}

// RemoveForSchedule deletes the removable instances of every definition that
// belongs to scheduleID.
func (c *InstanceCleaner) RemoveForSchedule(ctx context.Context, scheduleID string) (CleanupResult, error) {
	if c == nil || c.instances == nil || c.definitions == nil {
		return CleanupResult{}, ErrNotConfigured
	}
	logger := logging.Component(ctx, c.logger, "InstanceCleaner", "RemoveForSchedule", "schedule_id", scheduleID)

	definitions, err := c.definitions.ListDefinitionsForSchedule(ctx, scheduleID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list schedule definitions", "error", err, "error_kind", ErrorKind(err))
		return CleanupResult{}, err
	}

	writer := newBatchWriter(c.instances, c.batchSize)
	var result CleanupResult
	for _, def := range definitions {
		if err = c.remove(ctx, writer, def.ID, &result); err != nil {
			break
		}
	}
	if err == nil {
		err = writer.flush(ctx)
	}
	result.Deleted = writer.deleted
	result.Commits = writer.commits
	if err != nil {
		logger.ErrorContext(ctx, "instance cleanup failed", "error", err, "error_kind", ErrorKind(err), "deleted", result.Deleted)
		return result, err
	}
	logger.InfoContext(ctx, "instances removed",
		"definitions", len(definitions),
		"deleted", result.Deleted,
		"preserved", result.Preserved,
	)
	return result, nil
}

func (c *InstanceCleaner) remove(ctx context.Context, writer *batchWriter, definitionID string, result *CleanupResult) error {
	instances, err := c.instances.ListInstances(ctx, persistence.InstanceFilter{DefinitionID: definitionID})
	if err != nil {
		return definitionError(definitionID, StageExisting, err)
	}
	for _, inst := range instances {
		if preserved(inst.Status) {
			result.Preserved++
			continue
		}
		if err := writer.delete(ctx, inst.ID); err != nil {
			return definitionError(definitionID, StageCommit, err)
		}
	}
	return nil
}

func preserved(status persistence.InstanceStatus) bool {
	return status == persistence.InstanceCompleted || status == persistence.InstanceInProgress
}
