// Package api implements the local HTTP control surface and state stream.
//
// A host UI (or a script) drives the device reconciliation manager over
// plain JSON:
//
//	GET  /api/v1/health            status of the server and optional components
//	GET  /api/v1/device            current reconciliation state
//	GET  /api/v1/device/info       this installation's device, 404 if unregistered
//	POST /api/v1/device/register   {"owner_user_id": "..."} (optional)
//	POST /api/v1/device/reset
//	GET  /api/v1/devices           the user's device list and selection
//	POST /api/v1/devices/fetch     {"owner_user_id": "..."} (or the session user)
//	POST /api/v1/devices/select    {"device_id": "..."}
//	GET|PUT|DELETE /api/v1/session access token hand-over
//	GET  /api/v1/report?date=      behaviour report view for a day
//	POST /api/v1/report/date       {"days": -1}
//	POST /api/v1/report/toggle     {"time": "09-30"}
//	GET  /api/v1/ws                WebSocket; subscribe to "device.state_changed"
//
// Errors use one body shape: {"status": 409, "code": "...", "message": "..."}.
//
// # Security
//
// The server binds to 127.0.0.1 by default. When api.auth_token is set
// every route except /health requires it as a bearer token (or ?token=
// on /ws). Optional per-client rate limiting uses a token bucket.
package api
