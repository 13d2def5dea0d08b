// Package jobstest provides an in-memory job store for tests.
package jobstest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orca/internal/jobs"
	"orca/internal/status"
)

type FakeStore struct {
	mu     sync.Mutex
	nextID int64

	Jobs    map[int64]*jobs.Job
	Staged  []jobs.StagingImport
	Dropped []int64

	// Errors returned once, in order, by the named operation.
	InsertErrors []error
	UpdateErrors []error
	StageErrors  []error

	InsertCalls int
	UpdateCalls int
	StageCalls  int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{Jobs: make(map[int64]*jobs.Job)}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *FakeStore) InsertJob(ctx context.Context, reportSource string, created time.Time, s status.OrcaStatus, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InsertCalls++
	if err := pop(&f.InsertErrors); err != nil {
		return 0, err
	}
	f.nextID++
	f.Jobs[f.nextID] = &jobs.Job{
		ID:                    f.nextID,
		ReportSource:          reportSource,
		InventoryCreationTime: created,
		Status:                s,
		StartTime:             now,
		LastUpdate:            now,
	}
	return f.nextID, nil
}

func (f *FakeStore) UpdateJob(ctx context.Context, id int64, update jobs.JobUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if err := pop(&f.UpdateErrors); err != nil {
		return err
	}
	job, ok := f.Jobs[id]
	if !ok {
		return jobs.ErrorJobNotFound(id)
	}
	job.Status = update.Status
	job.LastUpdate = update.LastUpdate
	job.EndTime = update.EndTime
	job.ErrorMessage = update.ErrorMessage
	return nil
}

func (f *FakeStore) GetJob(ctx context.Context, id int64) (jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[id]
	if !ok {
		return jobs.Job{}, jobs.ErrorJobNotFound(id)
	}
	return *job, nil
}

func (f *FakeStore) StageInventory(ctx context.Context, imp jobs.StagingImport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StageCalls++
	if err := pop(&f.StageErrors); err != nil {
		return err
	}
	if _, ok := f.Jobs[imp.JobID]; !ok {
		return fmt.Errorf("staging for unknown job %d", imp.JobID)
	}
	f.Staged = append(f.Staged, imp)
	return nil
}

func (f *FakeStore) DropStagingTable(ctx context.Context, jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Dropped = append(f.Dropped, jobID)
	return nil
}

// Job returns a copy of the stored job, or nil.
func (f *FakeStore) Job(id int64) *jobs.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[id]
	if !ok {
		return nil
	}
	c := *job
	return &c
}
