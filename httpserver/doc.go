// Package httpserver provides the HTTP server hosting the key escrow API.
//
// The server mounts the escrow endpoints from api/escrowhandler behind a
// request logging middleware and adds the operational endpoints every
// deployment needs:
//
//   - GET /livez: liveness check, always responds 200 while the process runs.
//   - GET /readyz: readiness check, responds 503 while draining.
//   - GET /drain: marks the server not ready so load balancers stop routing
//     new clients to it.
//   - GET /undrain: marks the server ready again.
//   - /debug: pprof handlers, only when enabled in the config.
//
// The server runs in the background and shuts down gracefully, waiting for
// in-flight requests up to the configured shutdown duration.
package httpserver
