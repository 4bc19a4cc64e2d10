// Package httpserver runs the operational HTTP endpoint of the notifier: a
// chi router exposing liveness, readiness and Prometheus metrics, served
// until the context passed to Run is cancelled.
//
//	router := httpserver.NewOpsRouter(httpserver.OpsRoutes{
//		Checks: map[string]httpserver.Check{
//			"postgres": pg.Healthcheck(pool),
//			"redis":    redis.Healthcheck(client),
//		},
//		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
//		Logger:  log,
//	})
//
//	srv := httpserver.New(cfg, router, httpserver.WithLogger(log))
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
//
// Listen failures wrap ErrStart and shutdown failures wrap ErrShutdown.
package httpserver
