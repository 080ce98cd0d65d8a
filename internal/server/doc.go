// Package server provides an HTTP server for exposing Prometheus metrics.
//
// Available endpoints (GET only):
//   - /           : Web UI showing collector status and task settings
//   - /metrics    : Prometheus metrics endpoint
//   - /health     : Liveness probe (always returns 200)
//   - /ready      : Readiness probe (200 only after a successful collection)
//
// Timeouts:
//   - Read timeout: 15 seconds
//   - Write timeout: 15 seconds
//   - Idle timeout: 60 seconds
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(costCollector)
//	srv := server.NewServer(cfg, costCollector, reg, log)
//
//	serverErrors := make(chan error, 1)
//	go func() {
//		serverErrors <- srv.Start()
//	}()
//
//	select {
//	case err := <-serverErrors:
//		return err
//	case <-ctx.Done():
//		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//		defer cancel()
//		return srv.Shutdown(shutdownCtx)
//	}
package server
