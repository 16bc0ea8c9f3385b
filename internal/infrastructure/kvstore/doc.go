// Package kvstore provides an embedded BadgerDB key/value store.
//
// It backs the "badger" identity backend: a handful of small string
// values that must survive restarts. Values are written with synchronous
// writes by default.
//
// Usage:
//
//	store, err := kvstore.Open(kvstore.Config{Path: cfg.Badger.Path, SyncWrites: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
package kvstore
