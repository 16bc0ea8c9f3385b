// Package backend is the REST client for the hosted WatchMe database.
//
// The backend exposes PostgREST-style tables under /rest/v1. This client
// covers the three calls the agent needs:
//
//   - UpsertDevice: insert or merge a device row keyed on platform_identifier
//   - ListDevicesByOwner: every device owned by a user
//   - FetchBehaviorReport: one device's behaviour summary for one day
//
// Every request carries the project API key and a bearer token from a
// TokenSource. There is no retry at this layer; callers decide.
//
// Usage:
//
//	client, err := backend.New(backend.Config{
//	    URL:     cfg.Backend.URL,
//	    APIKey:  cfg.Backend.APIKey,
//	    Timeout: cfg.GetBackendTimeout(),
//	    Tokens:  sess,
//	})
//	dev, err := client.UpsertDevice(ctx, backend.DeviceInsert{...})
package backend
