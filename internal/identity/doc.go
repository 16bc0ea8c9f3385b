// Package identity persists the local device registration record.
//
// The record maps this installation (its platform identifier) to the
// server-assigned device id. It is stored as a single JSON value under
// one key so a write is all-or-nothing. Three backends are available:
// SQLite (the default, table identity_kv), BadgerDB, and an in-memory map
// for tests and ephemeral runs.
//
// Installs written by older clients kept the same data in three separate
// keys. Store.Load folds those into the single record on first read.
package identity
