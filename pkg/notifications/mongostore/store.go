package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Rito-w/drone/pkg/notifications"
)

// DefaultCollection holds notification documents.
const DefaultCollection = "notifications"

// collection is the part of *mongo.Collection the store and sink use.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateManyOptions]) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) *mongo.SingleResult
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongo.DeleteResult, error)
	Indexes() mongo.IndexView
}

var _ collection = (*mongo.Collection)(nil)

// Store keeps notifications in a MongoDB collection.
type Store struct {
	coll collection
	now  func() time.Time
}

var _ notifications.Store = (*Store)(nil)

func New(db *mongo.Database) (*Store, error) {
	if db == nil {
		return nil, notifications.ErrStoreNil
	}
	return &Store{coll: db.Collection(DefaultCollection), now: time.Now}, nil
}

// EnsureIndexes creates the indexes the store's queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "recipient_type", Value: 1}, {Key: "recipient_id", Value: 1}, {Key: "read_status", Value: 1}}},
		{Keys: bson.D{{Key: "send_status", Value: 1}, {Key: "next_retry_time", Value: 1}}},
		{Keys: bson.D{{Key: "send_status", Value: 1}, {Key: "updated_at", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "business_type", Value: 1}, {Key: "business_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, n notifications.Notification) error {
	if _, err := s.coll.InsertOne(ctx, toDocument(n)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("notification %s already exists: %w", n.ID, err)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (notifications.Notification, error) {
	var doc document
	err := s.coll.FindOne(ctx, live(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notifications.Notification{}, notifications.ErrNotFound
	}
	if err != nil {
		return notifications.Notification{}, fmt.Errorf("get notification %s: %w", id, err)
	}
	return doc.notification()
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, expected notifications.SendStatus, patch notifications.StatusPatch) error {
	filter := append(live(id), bson.E{Key: "send_status", Value: int32(expected)})

	res, err := s.coll.UpdateOne(ctx, filter, statusUpdate(patch))
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, expected %s", notifications.ErrStatusConflict,
		id, current.SendStatus, expected)
}

// statusUpdate renders patch as an update document. updated_at only moves
// forward.
func statusUpdate(p notifications.StatusPatch) bson.D {
	set := bson.D{{Key: "send_status", Value: int32(p.SendStatus)}}
	if p.SendTime != nil {
		set = append(set, bson.E{Key: "send_time", Value: *p.SendTime})
	}
	if p.FailReason != nil {
		set = append(set, bson.E{Key: "fail_reason", Value: *p.FailReason})
	}
	if p.RetryCount != nil {
		set = append(set, bson.E{Key: "retry_count", Value: int32(*p.RetryCount)})
	}
	if p.Generation != nil {
		set = append(set, bson.E{Key: "generation", Value: int32(*p.Generation)})
	}
	if !p.ClearNextRetryTime && p.NextRetryTime != nil {
		set = append(set, bson.E{Key: "next_retry_time", Value: *p.NextRetryTime})
	}

	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$max", Value: bson.D{{Key: "updated_at", Value: p.UpdatedAt}}},
	}
	if p.ClearNextRetryTime {
		update = append(update, bson.E{Key: "$unset", Value: bson.D{{Key: "next_retry_time", Value: ""}}})
	}
	return update
}

func (s *Store) Query(ctx context.Context, f notifications.Filter) (notifications.Page, error) {
	f = f.Normalize()
	filter := filterDoc(f)

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return notifications.Page{}, fmt.Errorf("count notifications: %w", err)
	}

	page := notifications.Page{Total: total, Page: f.Page, Size: f.Size, Items: []notifications.Notification{}}
	if total == 0 || int64(f.Offset()) >= total {
		return page, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(f.Offset())).
		SetLimit(int64(f.Size))
	page.Items, err = s.find(ctx, filter, opts)
	if err != nil {
		return notifications.Page{}, fmt.Errorf("query notifications: %w", err)
	}
	return page, nil
}

// filterDoc renders f as a query document. Soft-deleted documents never
// match.
func filterDoc(f notifications.Filter) bson.D {
	filter := bson.D{{Key: "deleted", Value: false}}
	add := func(key string, value any) {
		filter = append(filter, bson.E{Key: key, Value: value})
	}

	if f.Title != "" {
		add("title", bson.Regex{Pattern: regexp.QuoteMeta(f.Title), Options: "i"})
	}
	if f.Category != 0 {
		add("category", int32(f.Category))
	}
	if f.Level != 0 {
		add("level", int32(f.Level))
	}
	if f.Channel != 0 {
		add("channel", int32(f.Channel))
	}
	if f.RecipientID != 0 {
		add("recipient_id", f.RecipientID)
	}
	if f.RecipientType != 0 {
		add("recipient_type", int32(f.RecipientType))
	}
	if f.SendStatus != 0 {
		add("send_status", int32(f.SendStatus))
	}
	if f.ReadStatus != nil {
		add("read_status", int32(*f.ReadStatus))
	}
	if f.BusinessID != "" {
		add("business_id", f.BusinessID)
	}
	if f.BusinessType != "" {
		add("business_type", f.BusinessType)
	}

	var created bson.D
	if f.CreatedFrom != nil {
		created = append(created, bson.E{Key: "$gte", Value: *f.CreatedFrom})
	}
	if f.CreatedTo != nil {
		created = append(created, bson.E{Key: "$lt", Value: *f.CreatedTo})
	}
	if len(created) > 0 {
		add("created_at", created)
	}
	return filter
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) (notifications.Notification, error) {
	var before document
	err := s.coll.FindOneAndUpdate(ctx, live(id), bson.D{
		{Key: "$set", Value: bson.D{{Key: "deleted", Value: true}}},
		{Key: "$max", Value: bson.D{{Key: "updated_at", Value: s.now()}}},
	}).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notifications.Notification{}, notifications.ErrNotFound
	}
	if err != nil {
		return notifications.Notification{}, fmt.Errorf("delete notification %s: %w", id, err)
	}
	return before.notification()
}

func (s *Store) DeleteBatch(ctx context.Context, ids []uuid.UUID) ([]notifications.Notification, error) {
	var deleted []notifications.Notification
	for _, id := range ids {
		n, err := s.Delete(ctx, id)
		if errors.Is(err, notifications.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		deleted = append(deleted, n)
	}
	return deleted, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "created_at", Value: bson.D{{Key: "$lt", Value: cutoff}}}})
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (notifications.Notification, bool, error) {
	filter := append(live(id), bson.E{Key: "read_status", Value: int32(notifications.Unread)})

	var doc document
	err := s.coll.FindOneAndUpdate(ctx, filter, readUpdate(at),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		n, err := doc.notification()
		return n, err == nil, err
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return notifications.Notification{}, false, fmt.Errorf("mark %s read: %w", id, err)
	}

	n, err := s.GetByID(ctx, id)
	if err != nil {
		return notifications.Notification{}, false, err
	}
	return n, false, nil
}

func (s *Store) MarkAllRead(ctx context.Context, r notifications.Recipient, at time.Time) (int64, error) {
	filter := append(recipient(r), bson.E{Key: "read_status", Value: int32(notifications.Unread)})

	res, err := s.coll.UpdateMany(ctx, filter, readUpdate(at))
	if err != nil {
		return 0, fmt.Errorf("mark all read for %s: %w", r, err)
	}
	return res.ModifiedCount, nil
}

func readUpdate(at time.Time) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "read_status", Value: int32(notifications.Read)},
			{Key: "read_time", Value: at},
		}},
		{Key: "$max", Value: bson.D{{Key: "updated_at", Value: at}}},
	}
}

func (s *Store) CountUnread(ctx context.Context, r notifications.Recipient) (int64, error) {
	filter := append(recipient(r),
		bson.E{Key: "send_status", Value: int32(notifications.SendSent)},
		bson.E{Key: "read_status", Value: int32(notifications.Unread)},
	)
	count, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", r, err)
	}
	return count, nil
}

func (s *Store) ListRetryable(ctx context.Context, now time.Time, limit int) ([]notifications.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "next_retry_time", Value: 1}}).
		SetLimit(int64(limit))

	found, err := s.find(ctx, retryableFilter(now), opts)
	if err != nil {
		return nil, fmt.Errorf("list retryable notifications: %w", err)
	}

	due := found[:0]
	for _, n := range found {
		if n.RetryDue(now) {
			due = append(due, n)
		}
	}
	return due, nil
}

func retryableFilter(now time.Time) bson.D {
	return bson.D{
		{Key: "deleted", Value: false},
		{Key: "send_status", Value: int32(notifications.SendFailed)},
		{Key: "next_retry_time", Value: bson.D{{Key: "$ne", Value: nil}, {Key: "$lte", Value: now}}},
		{Key: "$expr", Value: bson.D{{Key: "$lt", Value: bson.A{"$retry_count", "$max_retry_count"}}}},
	}
}

func (s *Store) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]notifications.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(int64(limit))

	stalled, err := s.find(ctx, stalledFilter(cutoff), opts)
	if err != nil {
		return nil, fmt.Errorf("list stalled notifications: %w", err)
	}
	return stalled, nil
}

func stalledFilter(cutoff time.Time) bson.D {
	return bson.D{
		{Key: "deleted", Value: false},
		{Key: "send_status", Value: int32(notifications.SendSending)},
		{Key: "updated_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	}
}

func (s *Store) find(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]notifications.Notification, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	items := make([]notifications.Notification, 0, len(docs))
	for _, d := range docs {
		n, err := d.notification()
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, nil
}

func live(id uuid.UUID) bson.D {
	return bson.D{{Key: "_id", Value: id.String()}, {Key: "deleted", Value: false}}
}

func recipient(r notifications.Recipient) bson.D {
	return bson.D{
		{Key: "recipient_id", Value: r.ID},
		{Key: "recipient_type", Value: int32(r.Type)},
		{Key: "deleted", Value: false},
	}
}
