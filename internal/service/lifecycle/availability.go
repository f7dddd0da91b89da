package lifecycle

import (
	"context"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/repository"
	"github.com/jwalitptl/roadside-api/pkg/errors"
)

type directoryAvailability struct {
	directory repository.UserDirectory
}

// NewDirectoryAvailability accepts any user the directory lists as a worker.
// Scheduling and skills matching belong to the dispatch desk, not this check.
func NewDirectoryAvailability(directory repository.UserDirectory) Availability {
	return &directoryAvailability{directory: directory}
}

func (a *directoryAvailability) CheckAvailable(ctx context.Context, workerID string) error {
	workers, err := a.directory.ListIDsByRole(ctx, model.RoleWorker)
	if err != nil {
		return err
	}
	for _, id := range workers {
		if id == workerID {
			return nil
		}
	}
	return errors.PreconditionViolation("worker %s is not available", workerID)
}
