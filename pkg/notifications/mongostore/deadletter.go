package mongostore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Rito-w/drone/pkg/notifications"
)

const DeadLetterCollection = "notification_dead_letters"

// DeadLetterSink keeps one document per exhausted notification and
// generation.
type DeadLetterSink struct {
	coll collection
	now  func() time.Time
}

var _ notifications.DeadLetterSink = (*DeadLetterSink)(nil)

func NewDeadLetterSink(db *mongo.Database) (*DeadLetterSink, error) {
	if db == nil {
		return nil, notifications.ErrStoreNil
	}
	return &DeadLetterSink{coll: db.Collection(DeadLetterCollection), now: time.Now}, nil
}

// Record upserts by notification id and generation, keeping the first
// snapshot.
func (s *DeadLetterSink) Record(ctx context.Context, n notifications.Notification) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: deadLetterID(n)}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{
			{Key: "notification_id", Value: n.ID.String()},
			{Key: "generation", Value: int32(n.Generation)},
			{Key: "snapshot", Value: toDocument(n)},
			{Key: "recorded_at", Value: s.now()},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("record dead letter %s: %w", n.ID, err)
	}
	return nil
}

func deadLetterID(n notifications.Notification) string {
	return n.ID.String() + "/" + strconv.Itoa(n.Generation)
}
