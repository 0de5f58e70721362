package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/projecthub-backend/pkg/logger"
)

type fakeLock struct {
	held     bool
	err      error
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name     string
	err      error
	runs     int
	deadline bool
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	_, t.deadline = ctx.Deadline()
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	})
	require.NoError(t, err)
	return svc
}

func TestRunOnceRunsAllJobsAndAggregatesFailures(t *testing.T) {
	success := &testJob{name: "success"}
	failA := &testJob{name: "fail-a", err: errors.New("boom")}
	failB := &testJob{name: "fail-b", err: errors.New("bang")}
	lock := &fakeLock{}
	svc := newTestService(t, lock, failA, success, failB)

	err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail-a: boom")
	assert.Contains(t, err.Error(), "fail-b: bang")
	assert.Equal(t, 1, success.runs)
	assert.Equal(t, 1, failA.runs)
	assert.Equal(t, 1, failB.runs)
	assert.True(t, success.deadline)
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "sweep"}
	svc := newTestService(t, &fakeLock{held: true}, job)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
}

func TestRunOnceSurfacesLockError(t *testing.T) {
	job := &testJob{name: "sweep"}
	svc := newTestService(t, &fakeLock{err: errors.New("redis down")}, job)

	require.Error(t, svc.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "sweep"}
	svc := newTestService(t, &fakeLock{}, job)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, job.runs)
}

func TestNewServiceDefaults(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Lock:       &fakeLock{},
		JobTimeout: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, svc.interval)
	assert.Equal(t, defaultInterval, svc.jobTimeout)

	_, err = NewService(ServiceParams{Lock: &fakeLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "cron-test"})})
	assert.Error(t, err)
}
