package pg_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/Rito-w/drone/migrations"
	"github.com/Rito-w/drone/pkg/pg"
)

func TestErrorClassifiers(t *testing.T) {
	t.Parallel()

	assert.True(t, pg.IsNotFoundError(fmt.Errorf("load: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(nil))
	assert.False(t, pg.IsNotFoundError(errors.New("other")))

	assert.True(t, pg.IsDuplicateKeyError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, pg.IsDuplicateKeyError(&pgconn.PgError{Code: "23503"}))
	assert.False(t, pg.IsDuplicateKeyError(nil))
}

func TestMigrate_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slog.Default()

	err := pg.Migrate(ctx, nil, nil, pg.Config{}, log)
	assert.ErrorIs(t, err, pg.ErrMigrationsNotProvided)

	err = pg.Migrate(ctx, nil, fstest.MapFS{}, pg.Config{MigrationsPath: "missing"}, log)
	assert.ErrorIs(t, err, pg.ErrMigrationsDirNotFound)
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	entries, err := migrations.FS.ReadDir(".")
	assert.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{
		"00001_notifications.sql",
		"00002_notification_dead_letters.sql",
		"00003_queue_tasks.sql",
	}, names)
}
