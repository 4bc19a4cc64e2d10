package mongostore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Rito-w/drone/pkg/notifications"
)

func sample() notifications.Notification {
	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	retry := created.Add(5 * time.Minute)
	return notifications.Notification{
		ID:             uuid.New(),
		Title:          "Payment failed",
		Content:        "Card declined",
		Category:       notifications.CategoryPayment,
		Level:          notifications.LevelUrgent,
		Channel:        notifications.ChannelSMS,
		RecipientID:    42,
		RecipientType:  notifications.RecipientPilot,
		TemplateParams: map[string]string{"amount": "10.00"},
		SendStatus:     notifications.SendFailed,
		FailReason:     "carrier down",
		RetryCount:     1,
		MaxRetryCount:  3,
		NextRetryTime:  &retry,
		Generation:     1,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestDocument_RoundTrip(t *testing.T) {
	t.Parallel()

	n := sample()
	raw, err := bson.Marshal(toDocument(n))
	require.NoError(t, err)

	var doc document
	require.NoError(t, bson.Unmarshal(raw, &doc))
	got, err := doc.notification()
	require.NoError(t, err)

	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.Category, got.Category)
	assert.Equal(t, n.RecipientType, got.RecipientType)
	assert.Equal(t, n.TemplateParams, got.TemplateParams)
	assert.Equal(t, n.RetryCount, got.RetryCount)
	assert.Equal(t, 1, got.Generation)
	require.NotNil(t, got.NextRetryTime)
	assert.True(t, n.NextRetryTime.Equal(*got.NextRetryTime))
	assert.Nil(t, got.SendTime)
	assert.True(t, n.CreatedAt.Equal(got.CreatedAt))
}

func TestDocument_BadID(t *testing.T) {
	t.Parallel()

	_, err := document{ID: "not-a-uuid"}.notification()
	assert.Error(t, err)
}

func TestFilterDoc(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bson.D{{Key: "deleted", Value: false}}, filterDoc(notifications.Filter{}))

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	got := filterDoc(notifications.Filter{
		Title:         "a.b",
		RecipientType: notifications.RecipientAdmin,
		ReadStatus:    notifications.Read.Ptr(),
		CreatedFrom:   &from,
		CreatedTo:     &to,
	})
	assert.Equal(t, bson.D{
		{Key: "deleted", Value: false},
		{Key: "title", Value: bson.Regex{Pattern: `a\.b`, Options: "i"}},
		{Key: "recipient_type", Value: int32(3)},
		{Key: "read_status", Value: int32(1)},
		{Key: "created_at", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lt", Value: to}}},
	}, got)
}

func TestStatusUpdate(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("sent", func(t *testing.T) {
		t.Parallel()
		got := statusUpdate(notifications.StatusPatch{
			SendStatus: notifications.SendSent,
			SendTime:   &now,
			UpdatedAt:  now,
		})
		assert.Equal(t, bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "send_status", Value: int32(notifications.SendSent)},
				{Key: "send_time", Value: now},
			}},
			{Key: "$max", Value: bson.D{{Key: "updated_at", Value: now}}},
		}, got)
	})

	t.Run("requeue clears the retry time", func(t *testing.T) {
		t.Parallel()
		got := statusUpdate(notifications.StatusPatch{
			SendStatus:         notifications.SendPending,
			ClearNextRetryTime: true,
			NextRetryTime:      &now,
			UpdatedAt:          now,
		})
		require.Len(t, got, 3)
		assert.Equal(t, "$unset", got[2].Key)
		set := got[0].Value.(bson.D)
		assert.Len(t, set, 1)
	})

	t.Run("failure with retry", func(t *testing.T) {
		t.Parallel()
		reason, count := "timeout", 2
		got := statusUpdate(notifications.StatusPatch{
			SendStatus:    notifications.SendFailed,
			FailReason:    &reason,
			RetryCount:    &count,
			NextRetryTime: &now,
			UpdatedAt:     now,
		})
		assert.Equal(t, bson.D{
			{Key: "send_status", Value: int32(notifications.SendFailed)},
			{Key: "fail_reason", Value: "timeout"},
			{Key: "retry_count", Value: int32(2)},
			{Key: "next_retry_time", Value: now},
		}, got[0].Value)
	})
}

func TestRetryableFilter(t *testing.T) {
	t.Parallel()

	now := time.Now()
	f := retryableFilter(now)
	keys := make([]string, 0, len(f))
	for _, e := range f {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"deleted", "send_status", "next_retry_time", "$expr"}, keys)
}

func TestNew_NilDatabase(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.ErrorIs(t, err, notifications.ErrStoreNil)
	_, err = NewDeadLetterSink(nil)
	assert.ErrorIs(t, err, notifications.ErrStoreNil)
}

func TestStalledFilter(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, bson.D{
		{Key: "deleted", Value: false},
		{Key: "send_status", Value: int32(notifications.SendSending)},
		{Key: "updated_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	}, stalledFilter(cutoff))
}

type updateCall struct {
	filter, update any
	opts           int
}

// fakeCollection scripts UpdateOne and FindOne; other methods are not used
// by these tests and panic through the nil embedded interface.
type fakeCollection struct {
	collection

	updates []updateResult
	found   []*mongo.SingleResult
	calls   []updateCall
}

type updateResult struct {
	matched int64
	err     error
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error) {
	c.calls = append(c.calls, updateCall{filter: filter, update: update, opts: len(opts)})
	res := c.updates[0]
	c.updates = c.updates[1:]
	if res.err != nil {
		return nil, res.err
	}
	return &mongo.UpdateResult{MatchedCount: res.matched, ModifiedCount: res.matched}, nil
}

func (c *fakeCollection) FindOne(context.Context, any, ...options.Lister[options.FindOneOptions]) *mongo.SingleResult {
	res := c.found[0]
	c.found = c.found[1:]
	return res
}

func missing() *mongo.SingleResult {
	return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
}

func TestStore_UpdateStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	id := uuid.New()
	patch := notifications.StatusPatch{SendStatus: notifications.SendSending, UpdatedAt: time.Now()}

	t.Run("applied", func(t *testing.T) {
		t.Parallel()
		coll := &fakeCollection{updates: []updateResult{{matched: 1}}}
		s := &Store{coll: coll, now: time.Now}

		require.NoError(t, s.UpdateStatus(ctx, id, notifications.SendPending, patch))
		require.Len(t, coll.calls, 1)
		assert.Equal(t, bson.D{
			{Key: "_id", Value: id.String()},
			{Key: "deleted", Value: false},
			{Key: "send_status", Value: int32(notifications.SendPending)},
		}, coll.calls[0].filter)
	})

	t.Run("status changed concurrently", func(t *testing.T) {
		t.Parallel()
		current := sample()
		current.ID = id
		current.SendStatus = notifications.SendSent
		coll := &fakeCollection{
			updates: []updateResult{{matched: 0}},
			found:   []*mongo.SingleResult{mongo.NewSingleResultFromDocument(toDocument(current), nil, nil)},
		}
		s := &Store{coll: coll, now: time.Now}

		err := s.UpdateStatus(ctx, id, notifications.SendPending, patch)
		assert.ErrorIs(t, err, notifications.ErrStatusConflict)
		assert.Contains(t, err.Error(), "is sent, expected pending")
	})

	t.Run("record gone", func(t *testing.T) {
		t.Parallel()
		coll := &fakeCollection{
			updates: []updateResult{{matched: 0}},
			found:   []*mongo.SingleResult{missing()},
		}
		s := &Store{coll: coll, now: time.Now}

		assert.ErrorIs(t, s.UpdateStatus(ctx, id, notifications.SendPending, patch), notifications.ErrNotFound)
	})

	t.Run("driver error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("server selection timeout")
		coll := &fakeCollection{updates: []updateResult{{err: boom}}}
		s := &Store{coll: coll, now: time.Now}

		err := s.UpdateStatus(ctx, id, notifications.SendPending, patch)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, notifications.ErrStatusConflict)
	})
}

func TestStatusUpdate_Generation(t *testing.T) {
	t.Parallel()

	zero, generation := 0, 3
	got := statusUpdate(notifications.StatusPatch{
		SendStatus: notifications.SendPending,
		RetryCount: &zero,
		Generation: &generation,
		UpdatedAt:  time.Now(),
	})
	assert.Contains(t, got[0].Value, bson.E{Key: "generation", Value: int32(3)})
}

func TestDeadLetterSink_Record(t *testing.T) {
	t.Parallel()

	n := sample()
	n.SendStatus = notifications.SendFailed
	n.FailReason = notifications.ReasonRetriesExhausted

	coll := &fakeCollection{updates: []updateResult{{matched: 0}, {matched: 0}}}
	sink := &DeadLetterSink{coll: coll, now: time.Now}
	require.NoError(t, sink.Record(context.Background(), n))

	resent := n
	resent.Generation = 2
	require.NoError(t, sink.Record(context.Background(), resent))

	require.Len(t, coll.calls, 2)
	assert.Equal(t, bson.D{{Key: "_id", Value: n.ID.String() + "/1"}}, coll.calls[0].filter)
	assert.Equal(t, bson.D{{Key: "_id", Value: n.ID.String() + "/2"}}, coll.calls[1].filter)
	assert.Equal(t, 1, coll.calls[0].opts)
}
