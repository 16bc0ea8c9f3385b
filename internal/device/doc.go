// Package device reconciles this installation with its device record on
// the backend and tracks which of the user's devices is active.
//
// # State machine
//
//	              RegisterDevice            upsert ok
//	Unregistered ───────────────▶ Registering ─────────▶ Registered
//	     ▲                          │    ▲
//	     │                upsert err│    │RegisterDevice (retry)
//	     │                          ▼    │
//	     └──── Reset ──────── RegistrationFailed
//
// ResetDeviceRegistration forces Unregistered from any phase. A manager
// constructed over a stored, registered record starts in Registered
// without touching the network.
//
// FetchUserDevices is independent of the registration phase. It replaces
// the user's device list and selects the first device returned.
//
// # Observation
//
// Every change produces an immutable State snapshot. Consumers either
// poll Snapshot, read a Subscribe channel (latest snapshot wins when the
// consumer falls behind) or register a synchronous observer with
// AddObserver.
package device
