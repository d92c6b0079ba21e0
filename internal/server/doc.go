// Package server provides HTTP routing, middleware, and the JSON API for the practice tracker.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with per-path method dispatch.
//
// # API
//
// [API] exposes the practice and goal services:
//
//	GET  /health
//	POST /api/practice           save minutes, merged into the day's record
//	GET  /api/practice           ?from=&to= list records
//	GET  /api/calendar           ?month=YYYY-MM daily totals plus calendar goals
//	GET  /api/goals              ?include_completed=&calendar=&instrument=
//	POST /api/goals              create a goal
//	POST /api/goals/complete     {"id": "...", "completed": true}
//	GET  /api/capabilities       optional goal column states
//
// Responses are services.Result values. Saves parked in the offline queue answer 202.
//
// The caller is identified by a bearer token resolved through [UserResolver]. Without a token
// (or when the session lookup times out) requests act as the configured local user.
//
// # Middleware
//
// [Logging] writes one log line per request and [Recover] converts handler panics into 500s.
package server
