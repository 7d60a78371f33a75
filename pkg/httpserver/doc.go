// Package httpserver runs an http.Handler with configured timeouts and a
// graceful shutdown tied to a context, and provides liveness and readiness
// handlers for probes.
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// Run blocks until ctx is canceled, then drains in-flight requests for at
// most Config.ShutdownTimeout. Listen failures wrap ErrStart and shutdown
// failures wrap ErrShutdown.
package httpserver
