package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rito-w/drone/pkg/queue"
)

func TestScheduler_NewScheduler(t *testing.T) {
	t.Parallel()

	scheduler, err := queue.NewScheduler(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	assert.Nil(t, scheduler)

	storage := queue.NewMemoryStorage()
	defer storage.Close()

	scheduler, err = queue.NewScheduler(storage, queue.WithCheckInterval(time.Second), queue.WithSchedulerLogger(quietLogger()))
	require.NoError(t, err)
	require.NotNil(t, scheduler)
}

func TestScheduler_AddRemoveList(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	defer storage.Close()

	scheduler, err := queue.NewScheduler(storage, queue.WithSchedulerLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, scheduler.AddTask("retries", queue.EveryInterval(time.Minute)))
	require.NoError(t, scheduler.AddTask("purge", queue.DailyAt(2, 0), queue.WithTaskQueue("maintenance")))
	assert.ErrorIs(t, scheduler.AddTask("retries", queue.EveryInterval(time.Minute)), queue.ErrTaskAlreadyRegistered)
	assert.ElementsMatch(t, []string{"retries", "purge"}, scheduler.ListTasks())

	scheduler.RemoveTask("purge")
	assert.Equal(t, []string{"retries"}, scheduler.ListTasks())
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	t.Run("requires tasks", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		scheduler, err := queue.NewScheduler(storage, queue.WithSchedulerLogger(quietLogger()))
		require.NoError(t, err)
		assert.ErrorIs(t, scheduler.Start(context.Background()), queue.ErrSchedulerNotConfigured)
	})

	t.Run("creates one outstanding task per name", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		scheduler, err := queue.NewScheduler(storage,
			queue.WithCheckInterval(10*time.Millisecond),
			queue.WithSchedulerLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, scheduler.AddTask("retries", queue.EveryInterval(time.Hour),
			queue.WithTaskQueue("maintenance"),
			queue.WithTaskPriority(queue.PriorityHigh),
			queue.WithTaskMaxRetries(1)))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- scheduler.Start(ctx) }()

		require.Eventually(t, func() bool {
			return len(storage.ListTasks("maintenance")) == 1
		}, time.Second, 10*time.Millisecond)

		time.Sleep(50 * time.Millisecond)
		cancel()
		require.NoError(t, <-done)

		tasks := storage.ListTasks("maintenance")
		require.Len(t, tasks, 1)
		assert.Equal(t, "retries", tasks[0].TaskName)
		assert.Equal(t, queue.TaskTypePeriodic, tasks[0].TaskType)
		assert.Equal(t, queue.PriorityHigh, tasks[0].Priority)
		assert.Equal(t, int8(1), tasks[0].MaxRetries)
		assert.True(t, tasks[0].ScheduledAt.After(time.Now().Add(50*time.Minute)))
	})
}

func TestScheduler_PeriodicTaskRunsThroughWorker(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	defer storage.Close()

	scheduler, err := queue.NewScheduler(storage,
		queue.WithCheckInterval(10*time.Millisecond),
		queue.WithSchedulerLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, scheduler.AddTask("tick", queue.EveryInterval(20*time.Millisecond)))

	ran := make(chan struct{}, 8)
	worker, err := queue.NewWorker(storage,
		queue.WithPullInterval(10*time.Millisecond),
		queue.WithWorkerLogger(quietLogger()))
	require.NoError(t, err)
	worker.RegisterHandler(queue.NewPeriodicTaskHandler("tick", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = scheduler.Start(ctx) }()
	require.NoError(t, worker.Start(ctx))
	defer worker.Stop()

	for range 2 {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("periodic task did not run")
		}
	}
}
