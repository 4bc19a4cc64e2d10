package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rito-w/drone/pkg/queue"
)

type MockWorkerRepository struct {
	mock.Mock
}

func (m *MockWorkerRepository) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	args := m.Called(ctx, workerID, queues, lockDuration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Task), args.Error(1)
}

func (m *MockWorkerRepository) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *MockWorkerRepository) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return m.Called(ctx, taskID, errorMsg).Error(0)
}

func (m *MockWorkerRepository) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *MockWorkerRepository) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	return m.Called(ctx, taskID, duration).Error(0)
}

type testPayload struct {
	Message string `json:"message"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_NewWorker(t *testing.T) {
	t.Parallel()

	worker, err := queue.NewWorker(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	assert.Nil(t, worker)

	worker, err = queue.NewWorker(new(MockWorkerRepository),
		queue.WithQueues("a", "b"),
		queue.WithPullInterval(time.Second),
		queue.WithLockTimeout(time.Minute),
		queue.WithMaxConcurrentTasks(3),
		queue.WithWorkerLogger(quietLogger()),
	)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, worker.ID())
}

func TestWorker_StartStop(t *testing.T) {
	t.Parallel()

	t.Run("no handlers", func(t *testing.T) {
		t.Parallel()

		worker, err := queue.NewWorker(new(MockWorkerRepository), queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		assert.ErrorIs(t, worker.Start(context.Background()), queue.ErrNoHandlers)
	})

	t.Run("double start and stop", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		worker, err := queue.NewWorker(storage, queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		worker.RegisterHandler(queue.NewTaskHandler(func(context.Context, testPayload) error { return nil }))

		assert.ErrorIs(t, worker.Stop(), queue.ErrWorkerNotStarted)
		require.NoError(t, worker.Start(context.Background()))
		assert.ErrorIs(t, worker.Start(context.Background()), queue.ErrWorkerStarted)
		require.NoError(t, worker.Stop())
	})
}

func TestWorker_ProcessesTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	var handled atomic.Int32
	worker, err := queue.NewWorker(storage,
		queue.WithPullInterval(10*time.Millisecond),
		queue.WithMaxConcurrentTasks(2),
		queue.WithWorkerLogger(quietLogger()),
	)
	require.NoError(t, err)
	worker.RegisterHandler(queue.NewTaskHandler(func(ctx context.Context, p testPayload) error {
		task, ok := queue.TaskFromContext(ctx)
		if !ok || task.Queue != queue.DefaultQueueName {
			return errors.New("task missing from context")
		}
		handled.Add(1)
		return nil
	}))

	for range 5 {
		require.NoError(t, enqueuer.Enqueue(ctx, testPayload{Message: "x"}))
	}

	require.NoError(t, worker.Start(ctx))
	defer worker.Stop()

	assert.Eventually(t, func() bool { return handled.Load() == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		for _, task := range storage.ListTasks(queue.DefaultQueueName) {
			if task.Status != queue.TaskStatusCompleted {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_QueueHandler(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	seen := make(chan queue.Task, 1)
	worker, err := queue.NewWorker(storage,
		queue.WithQueues("dlq"),
		queue.WithPullInterval(10*time.Millisecond),
		queue.WithWorkerLogger(quietLogger()),
	)
	require.NoError(t, err)
	worker.RegisterQueueHandler("dlq", queue.NewRawHandler("dlq-consumer", func(_ context.Context, task queue.Task) error {
		seen <- task
		return nil
	}))

	require.NoError(t, enqueuer.Enqueue(ctx, testPayload{Message: "late"}, queue.WithQueue("dlq")))
	require.NoError(t, worker.Start(ctx))
	defer worker.Stop()

	select {
	case task := <-seen:
		assert.Equal(t, "dlq", task.Queue)
		assert.JSONEq(t, `{"message":"late"}`, string(task.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("queue handler was not invoked")
	}
}

func TestWorker_FailureHandling(t *testing.T) {
	t.Parallel()

	t.Run("retries left keeps the task out of the dlq", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		task := &queue.Task{ID: uuid.New(), Queue: queue.DefaultQueueName, TaskName: "queue_test.testPayload", Payload: []byte(`{}`), MaxRetries: 3}

		repo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(task, nil).Once()
		repo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, queue.ErrNoTaskToClaim)
		failed := make(chan struct{})
		repo.On("FailTask", mock.Anything, task.ID, "boom").Return(nil).Once().Run(func(mock.Arguments) { close(failed) })

		worker, err := queue.NewWorker(repo, queue.WithPullInterval(10*time.Millisecond), queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		worker.RegisterHandler(queue.NewTaskHandler(func(context.Context, testPayload) error { return errors.New("boom") }))

		require.NoError(t, worker.Start(context.Background()))
		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatal("task was not failed")
		}
		require.NoError(t, worker.Stop())

		repo.AssertCalled(t, "FailTask", mock.Anything, task.ID, "boom")
		repo.AssertNotCalled(t, "MoveToDLQ", mock.Anything, mock.Anything)
	})

	t.Run("last attempt moves to dlq", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		task := &queue.Task{ID: uuid.New(), Queue: queue.DefaultQueueName, TaskName: "queue_test.testPayload", Payload: []byte(`{}`), RetryCount: 2, MaxRetries: 3}

		moved := make(chan struct{})
		repo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(task, nil).Once()
		repo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, queue.ErrNoTaskToClaim)
		repo.On("FailTask", mock.Anything, task.ID, mock.Anything).Return(nil).Once()
		repo.On("MoveToDLQ", mock.Anything, task.ID).Return(nil).Once().Run(func(mock.Arguments) { close(moved) })

		worker, err := queue.NewWorker(repo, queue.WithPullInterval(10*time.Millisecond), queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		worker.RegisterHandler(queue.NewTaskHandler(func(context.Context, testPayload) error { panic("kaboom") }))

		require.NoError(t, worker.Start(context.Background()))
		select {
		case <-moved:
		case <-time.After(2 * time.Second):
			t.Fatal("task was not moved to dlq")
		}
		require.NoError(t, worker.Stop())
	})

	t.Run("missing handler goes straight to dlq", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		task := &queue.Task{ID: uuid.New(), Queue: queue.DefaultQueueName, TaskName: "unknown", MaxRetries: 3}

		moved := make(chan struct{})
		repo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(task, nil).Once()
		repo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, queue.ErrNoTaskToClaim)
		repo.On("FailTask", mock.Anything, task.ID, mock.Anything).Return(nil).Once()
		repo.On("MoveToDLQ", mock.Anything, task.ID).Return(nil).Once().Run(func(mock.Arguments) { close(moved) })

		worker, err := queue.NewWorker(repo, queue.WithPullInterval(10*time.Millisecond), queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		worker.RegisterHandler(queue.NewPeriodicTaskHandler("other", func(context.Context) error { return nil }))

		require.NoError(t, worker.Start(context.Background()))
		select {
		case <-moved:
		case <-time.After(2 * time.Second):
			t.Fatal("task was not moved to dlq")
		}
		require.NoError(t, worker.Stop())
	})
}

func TestWorker_Run(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	defer storage.Close()

	worker, err := queue.NewWorker(storage, queue.WithWorkerLogger(quietLogger()))
	require.NoError(t, err)
	worker.RegisterHandler(queue.NewPeriodicTaskHandler("noop", func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx)() }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
