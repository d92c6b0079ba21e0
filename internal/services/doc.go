// Package services sits between the repositories and the outer surfaces (CLI and HTTP API).
//
// # Backend Client
//
// [RESTClient] implements backend.Client for the hosted backend. Filters are encoded PostgREST
// style (col=eq.value, col=in.(a,b), col=is.null). Requests are throttled by a
// [rate.Limiter] and authenticated through an [oauth2.TokenSource]. Error bodies decode into
// backend.Error so the repositories can branch on the backend's error codes.
//
// # Sessions
//
// [AuthService] resolves an access token into a [Session]. The lookup races a timeout and falls
// back to "signed out" rather than hanging.
//
// # Results
//
// [PracticeService] and [GoalService] convert repository (value, error) pairs into [Result]
// values with stable error codes from shared.ErrorCode. Failures are logged, never panicked on.
// Practice saves that hit a transient backend failure are parked in the offline queue and report
// the code queued_offline.
package services
