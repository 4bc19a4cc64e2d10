package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Rito-w/drone/pkg/notifications"
	"github.com/Rito-w/drone/pkg/pg"
)

// DB is the subset of *pgxpool.Pool (and pgx.Tx) the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps notifications in the notifications table.
type Store struct {
	db DB
}

var _ notifications.Store = (*Store)(nil)

func New(db DB) (*Store, error) {
	if db == nil {
		return nil, notifications.ErrStoreNil
	}
	return &Store{db: db}, nil
}

const columns = `id, title, content, category, level, channel,
	recipient_id, recipient_type, recipient_address,
	business_id, business_type, template_id, template_params, extra_data,
	send_status, send_time, fail_reason, retry_count, max_retry_count, next_retry_time,
	read_status, read_time, created_at, updated_at, deleted, generation`

func (s *Store) Insert(ctx context.Context, n notifications.Notification) error {
	params, err := marshalMap(n.TemplateParams)
	if err != nil {
		return fmt.Errorf("encode template params: %w", err)
	}
	extra, err := marshalMap(n.ExtraData)
	if err != nil {
		return fmt.Errorf("encode extra data: %w", err)
	}

	_, err = s.db.Exec(ctx, `INSERT INTO notifications (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		n.ID, n.Title, n.Content, int16(n.Category), int16(n.Level), int16(n.Channel),
		n.RecipientID, int16(n.RecipientType), n.RecipientAddress,
		n.BusinessID, n.BusinessType, n.TemplateID, params, extra,
		int16(n.SendStatus), n.SendTime, n.FailReason, n.RetryCount, n.MaxRetryCount, n.NextRetryTime,
		int16(n.ReadStatus), n.ReadTime, n.CreatedAt, n.UpdatedAt, n.Deleted, int32(n.Generation),
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("notification %s already exists: %w", n.ID, err)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (notifications.Notification, error) {
	row := s.db.QueryRow(ctx, `SELECT `+columns+` FROM notifications
		WHERE id = $1 AND NOT deleted`, id)

	n, err := scanNotification(row)
	if pg.IsNotFoundError(err) {
		return notifications.Notification{}, notifications.ErrNotFound
	}
	if err != nil {
		return notifications.Notification{}, fmt.Errorf("get notification %s: %w", id, err)
	}
	return n, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, expected notifications.SendStatus, patch notifications.StatusPatch) error {
	var retryCount *int16
	if patch.RetryCount != nil {
		v := int16(*patch.RetryCount)
		retryCount = &v
	}
	var generation *int32
	if patch.Generation != nil {
		v := int32(*patch.Generation)
		generation = &v
	}

	tag, err := s.db.Exec(ctx, `UPDATE notifications SET
			send_status = $3,
			send_time = COALESCE($4::timestamptz, send_time),
			fail_reason = COALESCE($5::text, fail_reason),
			retry_count = COALESCE($6::smallint, retry_count),
			next_retry_time = CASE WHEN $7::boolean THEN NULL
				ELSE COALESCE($8::timestamptz, next_retry_time) END,
			updated_at = GREATEST(updated_at, $9),
			generation = COALESCE($10::integer, generation)
		WHERE id = $1 AND send_status = $2 AND NOT deleted`,
		id, int16(expected), int16(patch.SendStatus),
		patch.SendTime, patch.FailReason, retryCount,
		patch.ClearNextRetryTime, patch.NextRetryTime, patch.UpdatedAt,
		generation,
	)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing matched: tell a vanished record from a status race.
	var current int16
	err = s.db.QueryRow(ctx, `SELECT send_status FROM notifications
		WHERE id = $1 AND NOT deleted`, id).Scan(&current)
	if pg.IsNotFoundError(err) {
		return notifications.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s is %s, expected %s", notifications.ErrStatusConflict,
		id, notifications.SendStatus(current), expected)
}

func (s *Store) Query(ctx context.Context, f notifications.Filter) (notifications.Page, error) {
	f = f.Normalize()
	where, args := buildWhere(f)

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE `+where, args...).Scan(&total); err != nil {
		return notifications.Page{}, fmt.Errorf("count notifications: %w", err)
	}

	page := notifications.Page{Total: total, Page: f.Page, Size: f.Size, Items: []notifications.Notification{}}
	if total == 0 || int64(f.Offset()) >= total {
		return page, nil
	}

	limit := len(args) + 1
	args = append(args, f.Size, f.Offset())
	rows, err := s.db.Query(ctx, `SELECT `+columns+` FROM notifications WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $`+strconv.Itoa(limit)+` OFFSET $`+strconv.Itoa(limit+1), args...)
	if err != nil {
		return notifications.Page{}, fmt.Errorf("query notifications: %w", err)
	}
	page.Items, err = collect(rows)
	if err != nil {
		return notifications.Page{}, fmt.Errorf("query notifications: %w", err)
	}
	return page, nil
}

// Delete and DeleteBatch return the rows as they were before the update.
const softDelete = `WITH before AS (
		SELECT ` + columns + ` FROM notifications
		WHERE id = ANY($1) AND NOT deleted
		FOR UPDATE
	)
	UPDATE notifications n SET deleted = TRUE, updated_at = GREATEST(n.updated_at, now())
	FROM before b
	WHERE n.id = b.id
	RETURNING b.id, b.title, b.content, b.category, b.level, b.channel,
		b.recipient_id, b.recipient_type, b.recipient_address,
		b.business_id, b.business_type, b.template_id, b.template_params, b.extra_data,
		b.send_status, b.send_time, b.fail_reason, b.retry_count, b.max_retry_count, b.next_retry_time,
		b.read_status, b.read_time, b.created_at, b.updated_at, b.deleted, b.generation`

func (s *Store) Delete(ctx context.Context, id uuid.UUID) (notifications.Notification, error) {
	deleted, err := s.DeleteBatch(ctx, []uuid.UUID{id})
	if err != nil {
		return notifications.Notification{}, err
	}
	if len(deleted) == 0 {
		return notifications.Notification{}, notifications.ErrNotFound
	}
	return deleted[0], nil
}

func (s *Store) DeleteBatch(ctx context.Context, ids []uuid.UUID) ([]notifications.Notification, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, softDelete, ids)
	if err != nil {
		return nil, fmt.Errorf("delete notifications: %w", err)
	}
	deleted, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("delete notifications: %w", err)
	}
	return deleted, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (notifications.Notification, bool, error) {
	row := s.db.QueryRow(ctx, `UPDATE notifications
		SET read_status = $2, read_time = $3, updated_at = GREATEST(updated_at, $3)
		WHERE id = $1 AND read_status = $4 AND NOT deleted
		RETURNING `+columns,
		id, int16(notifications.Read), at, int16(notifications.Unread))

	n, err := scanNotification(row)
	if err == nil {
		return n, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return notifications.Notification{}, false, fmt.Errorf("mark %s read: %w", id, err)
	}

	// Already read, or gone.
	n, err = s.GetByID(ctx, id)
	if err != nil {
		return notifications.Notification{}, false, err
	}
	return n, false, nil
}

func (s *Store) MarkAllRead(ctx context.Context, r notifications.Recipient, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE notifications
		SET read_status = $3, read_time = $4, updated_at = GREATEST(updated_at, $4)
		WHERE recipient_id = $1 AND recipient_type = $2 AND read_status = $5 AND NOT deleted`,
		r.ID, int16(r.Type), int16(notifications.Read), at, int16(notifications.Unread))
	if err != nil {
		return 0, fmt.Errorf("mark all read for %s: %w", r, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountUnread(ctx context.Context, r notifications.Recipient) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM notifications
		WHERE recipient_id = $1 AND recipient_type = $2
			AND send_status = $3 AND read_status = $4 AND NOT deleted`,
		r.ID, int16(r.Type), int16(notifications.SendSent), int16(notifications.Unread),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", r, err)
	}
	return count, nil
}

func (s *Store) ListRetryable(ctx context.Context, now time.Time, limit int) ([]notifications.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+columns+` FROM notifications
		WHERE send_status = $1 AND next_retry_time IS NOT NULL AND next_retry_time <= $2
			AND retry_count < max_retry_count AND NOT deleted
		ORDER BY next_retry_time
		LIMIT $3`,
		int16(notifications.SendFailed), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable notifications: %w", err)
	}
	due, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("list retryable notifications: %w", err)
	}
	return due, nil
}

func (s *Store) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]notifications.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+columns+` FROM notifications
		WHERE send_status = $1 AND updated_at < $2 AND NOT deleted
		ORDER BY updated_at
		LIMIT $3`,
		int16(notifications.SendSending), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled notifications: %w", err)
	}
	stalled, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("list stalled notifications: %w", err)
	}
	return stalled, nil
}

// buildWhere renders f as a WHERE clause with positional arguments. It
// always excludes soft-deleted rows.
func buildWhere(f notifications.Filter) (string, []any) {
	conds := []string{"NOT deleted"}
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	if f.Title != "" {
		add("title ILIKE ?", "%"+escapeLike(f.Title)+"%")
	}
	if f.Category != 0 {
		add("category = ?", int16(f.Category))
	}
	if f.Level != 0 {
		add("level = ?", int16(f.Level))
	}
	if f.Channel != 0 {
		add("channel = ?", int16(f.Channel))
	}
	if f.RecipientID != 0 {
		add("recipient_id = ?", f.RecipientID)
	}
	if f.RecipientType != 0 {
		add("recipient_type = ?", int16(f.RecipientType))
	}
	if f.SendStatus != 0 {
		add("send_status = ?", int16(f.SendStatus))
	}
	if f.ReadStatus != nil {
		add("read_status = ?", int16(*f.ReadStatus))
	}
	if f.BusinessID != "" {
		add("business_id = ?", f.BusinessID)
	}
	if f.BusinessType != "" {
		add("business_type = ?", f.BusinessType)
	}
	if f.CreatedFrom != nil {
		add("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at < ?", *f.CreatedTo)
	}
	return strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func collect(rows pgx.Rows) ([]notifications.Notification, error) {
	defer rows.Close()

	items := []notifications.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func scanNotification(row pgx.Row) (notifications.Notification, error) {
	var (
		n                                                             notifications.Notification
		category, level, channel, recipientType, sendStatus, readStat int16
		retryCount, maxRetryCount                                     int16
		generation                                                    int32
		params, extra                                                 []byte
	)
	if err := row.Scan(
		&n.ID, &n.Title, &n.Content, &category, &level, &channel,
		&n.RecipientID, &recipientType, &n.RecipientAddress,
		&n.BusinessID, &n.BusinessType, &n.TemplateID, &params, &extra,
		&sendStatus, &n.SendTime, &n.FailReason, &retryCount, &maxRetryCount, &n.NextRetryTime,
		&readStat, &n.ReadTime, &n.CreatedAt, &n.UpdatedAt, &n.Deleted, &generation,
	); err != nil {
		return notifications.Notification{}, err
	}

	n.Category = notifications.Category(category)
	n.Level = notifications.Level(level)
	n.Channel = notifications.Channel(channel)
	n.RecipientType = notifications.RecipientType(recipientType)
	n.SendStatus = notifications.SendStatus(sendStatus)
	n.ReadStatus = notifications.ReadStatus(readStat)
	n.RetryCount = int(retryCount)
	n.MaxRetryCount = int(maxRetryCount)
	n.Generation = int(generation)

	if err := unmarshalMap(params, &n.TemplateParams); err != nil {
		return notifications.Notification{}, fmt.Errorf("decode template params: %w", err)
	}
	if err := unmarshalMap(extra, &n.ExtraData); err != nil {
		return notifications.Notification{}, fmt.Errorf("decode extra data: %w", err)
	}
	return n, nil
}

// marshalMap stores empty maps as NULL.
func marshalMap[M ~map[string]V, V any](m M) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap[M ~map[string]V, V any](raw []byte, dst *M) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
