// Package http provides the read-only operations surface of the generator.
//
// The router exposes the following endpoints:
//   - GET /healthz: reports whether the activity store answers a ping.
//     Response: {"status":"ok"} or 503 with {"status":"unavailable","message"}.
//   - GET /runs/latest: the statistics of the most recent generation run as
//     recorded by the orchestrator, plus the next scheduled trigger when a
//     scheduler is wired. Returns 404 before the first run.
//
// There is deliberately no endpoint that triggers a run.
package http
