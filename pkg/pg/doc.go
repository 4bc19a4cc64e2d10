// Package pg bootstraps PostgreSQL access with pgx/v5: a retrying pool
// constructor, a readiness probe, goose migrations from an fs.FS and a few
// error classifiers.
//
//	cfg := config.MustLoad[pg.Config]()
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, slog.Default()); err != nil {
//		return err
//	}
package pg
