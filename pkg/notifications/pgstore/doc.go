// Package pgstore persists notifications in PostgreSQL through pgx/v5.
//
// The schema lives in the root migrations package and is applied with
// pg.Migrate. Status changes are single conditional UPDATE statements, so
// concurrent workers racing on the same notification see exactly one winner.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	store, err := pgstore.New(pool)
//	if err != nil {
//		return err
//	}
//	sink, _ := pgstore.NewDeadLetterSink(pool)
package pgstore
