// Package domain defines the run model and the service the HTTP layer delegates to.
package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when a run cannot be located.
var ErrRunNotFound = errors.New("run not found")

// RunRepository captures persistence operations.
type RunRepository interface {
	FindAll(ctx context.Context) ([]Run, error)
	FindByID(ctx context.Context, id int64) (*Run, error)
	Create(ctx context.Context, run Run) (int64, error)
	Update(ctx context.Context, run Run, id int64) error
	Delete(ctx context.Context, id int64) error
	FindByLocation(ctx context.Context, location Location) ([]Run, error)
	Count(ctx context.Context) (int, error)
	SaveAll(ctx context.Context, runs []Run) error
	Ping(ctx context.Context) error
}

// Service orchestrates run workflows.
type Service struct {
	repo RunRepository
}

// NewService constructs a Service.
func NewService(repo RunRepository) *Service {
	return &Service{repo: repo}
}

// ListRuns returns every stored run in store order.
func (s *Service) ListRuns(ctx context.Context) ([]Run, error) {
	return s.repo.FindAll(ctx)
}

// GetRun fetches by ID.
func (s *Service) GetRun(ctx context.Context, id int64) (*Run, error) {
	run, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// CreateRun validates and persists a new run. Any caller supplied ID is
// discarded and timestamps are truncated to TimestampPrecision.
func (s *Service) CreateRun(ctx context.Context, run Run) (*Run, error) {
	run = run.Normalized()
	run.ID = 0
	if err := run.Validate(); err != nil {
		return nil, err
	}
	id, err := s.repo.Create(ctx, run)
	if err != nil {
		return nil, err
	}
	run.ID = id
	return &run, nil
}

// UpdateRun replaces the whole record stored under id.
// It returns ErrRunNotFound when id does not exist.
func (s *Service) UpdateRun(ctx context.Context, id int64, run Run) error {
	run = run.Normalized()
	if err := run.Validate(); err != nil {
		return err
	}
	run.ID = id
	return s.repo.Update(ctx, run, id)
}

// DeleteRun removes the run; deleting a missing run is not an error.
func (s *Service) DeleteRun(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// ListRunsByLocation returns runs whose location matches exactly.
func (s *Service) ListRunsByLocation(ctx context.Context, location Location) ([]Run, error) {
	if !location.Valid() {
		verr := &ValidationError{}
		verr.Add("location", "must be one of indoor, outdoor")
		return nil, verr
	}
	return s.repo.FindByLocation(ctx, location)
}

// ImportRuns bulk loads runs into an empty store. It returns the number of
// runs written, which is zero when the store already holds data.
func (s *Service) ImportRuns(ctx context.Context, runs []Run) (int, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 || len(runs) == 0 {
		return 0, nil
	}
	batch := make([]Run, len(runs))
	for i, run := range runs {
		run = run.Normalized()
		if err := run.Validate(); err != nil {
			return 0, fmt.Errorf("run %d: %w", i, err)
		}
		run.ID = 0
		batch[i] = run
	}
	if err := s.repo.SaveAll(ctx, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
