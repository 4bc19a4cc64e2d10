package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Rito-w/drone/pkg/logger"
	"github.com/Rito-w/drone/pkg/queue"
)

var errBoom = errors.New("boom")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testQueue enqueues into a real in-memory task queue and can be switched
// into a failing mode.
type testQueue struct {
	storage *queue.MemoryStorage
	enq     *queue.Enqueuer

	mu  sync.Mutex
	err error
}

func newTestQueue(t *testing.T, clock *testClock) *testQueue {
	t.Helper()

	storage := queue.NewMemoryStorage(queue.WithClock(clock.Now))
	t.Cleanup(func() { _ = storage.Close() })

	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)
	return &testQueue{storage: storage, enq: enq}
}

func (q *testQueue) Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error {
	q.mu.Lock()
	err := q.err
	q.mu.Unlock()
	if err != nil {
		return err
	}
	return q.enq.Enqueue(ctx, payload, opts...)
}

func (q *testQueue) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

// attempts returns the notification IDs queued on queueName.
func (q *testQueue) attempts(t *testing.T, queueName string) []uuid.UUID {
	t.Helper()

	var ids []uuid.UUID
	for _, task := range q.storage.ListTasks(queueName) {
		var msg AttemptMessage
		require.NoError(t, json.Unmarshal(task.Payload, &msg))
		ids = append(ids, msg.NotificationID)
	}
	return ids
}

// scriptedSender replays results in order and repeats the last one.
type scriptedSender struct {
	mu      sync.Mutex
	results []Result
	calls   int
}

func newScriptedSender(results ...Result) *scriptedSender {
	return &scriptedSender{results: results}
}

func (s *scriptedSender) Send(context.Context, Notification) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.results) == 0 {
		return Delivered()
	}
	idx := min(s.calls-1, len(s.results)-1)
	return s.results[idx]
}

func (s *scriptedSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// failingStore wraps a Store and injects errors into selected methods.
type failingStore struct {
	Store
	insertErr func(n Notification) error
	updateErr func(expected SendStatus, patch StatusPatch) error
	countErr  error
}

func (s *failingStore) UpdateStatus(ctx context.Context, id uuid.UUID, expected SendStatus, patch StatusPatch) error {
	if s.updateErr != nil {
		if err := s.updateErr(expected, patch); err != nil {
			return err
		}
	}
	return s.Store.UpdateStatus(ctx, id, expected, patch)
}

// failUpdateOnce returns errBoom the first time match accepts a status update.
func failUpdateOnce(match func(expected SendStatus, patch StatusPatch) bool) func(SendStatus, StatusPatch) error {
	var failed bool
	return func(expected SendStatus, patch StatusPatch) error {
		if !failed && match(expected, patch) {
			failed = true
			return errBoom
		}
		return nil
	}
}

// flakySink fails the first n Record calls, then records into the wrapped
// sink.
type flakySink struct {
	DeadLetterSink

	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakySink) Record(ctx context.Context, n Notification) error {
	s.mu.Lock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errBoom
	}
	s.mu.Unlock()
	return s.DeadLetterSink.Record(ctx, n)
}

func (s *failingStore) Insert(ctx context.Context, n Notification) error {
	if s.insertErr != nil {
		if err := s.insertErr(n); err != nil {
			return err
		}
	}
	return s.Store.Insert(ctx, n)
}

func (s *failingStore) CountUnread(ctx context.Context, r Recipient) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.Store.CountUnread(ctx, r)
}

type engine struct {
	clock      *testClock
	store      Store
	mem        *MemoryStore
	queue      *testQueue
	senders    *Senders
	sink       *MemoryDeadLetterSink
	retry      *RetryScheduler
	dispatcher *Dispatcher
	service    *Service
}

type engineOption func(*engineConfig)

type engineConfig struct {
	wrap     func(Store) Store
	wrapSink func(DeadLetterSink) DeadLetterSink
	dispOpt  []DispatcherOption
}

func withStore(wrap func(Store) Store) engineOption {
	return func(c *engineConfig) { c.wrap = wrap }
}

func withSink(wrap func(DeadLetterSink) DeadLetterSink) engineOption {
	return func(c *engineConfig) { c.wrapSink = wrap }
}

func withDispatcherOptions(opts ...DispatcherOption) engineOption {
	return func(c *engineConfig) { c.dispOpt = append(c.dispOpt, opts...) }
}

func newEngine(t *testing.T, opts ...engineOption) *engine {
	t.Helper()

	cfg := &engineConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &engine{
		clock:   newTestClock(),
		mem:     NewMemoryStore(),
		senders: NewSenders(),
		sink:    NewMemoryDeadLetterSink(),
	}
	e.store = e.mem
	if cfg.wrap != nil {
		e.store = cfg.wrap(e.mem)
	}
	e.queue = newTestQueue(t, e.clock)

	var sink DeadLetterSink = e.sink
	if cfg.wrapSink != nil {
		sink = cfg.wrapSink(e.sink)
	}

	log := logger.Discard()
	var err error
	e.retry, err = NewRetryScheduler(e.store, e.queue, sink,
		WithRetryLogger(log),
		WithRetryClock(e.clock.Now))
	require.NoError(t, err)

	dispOpts := append([]DispatcherOption{
		WithDispatcherLogger(log),
		WithDispatcherClock(e.clock.Now),
	}, cfg.dispOpt...)
	e.dispatcher, err = NewDispatcher(e.store, e.queue, e.senders, e.retry, dispOpts...)
	require.NoError(t, err)

	e.service, err = NewService(e.dispatcher, WithServiceLogger(log), WithServiceClock(e.clock.Now))
	require.NoError(t, err)
	return e
}

func (e *engine) get(t *testing.T, id uuid.UUID) Notification {
	t.Helper()
	n, err := e.mem.GetByID(context.Background(), id)
	require.NoError(t, err)
	return n
}

func inAppRequest(recipientID int64) SendRequest {
	return SendRequest{
		Title:         "Order shipped",
		Content:       "Your parcel is on its way",
		Category:      CategoryOrder,
		Channel:       ChannelInApp,
		RecipientID:   recipientID,
		RecipientType: RecipientCustomer,
		BusinessID:    "ORD-1001",
		BusinessType:  "order",
	}
}

func customer(id int64) Recipient {
	return Recipient{ID: id, Type: RecipientCustomer}
}
