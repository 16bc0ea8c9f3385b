// Package report models the daily behaviour report and the headless view
// that browses it one day at a time.
//
// A report carries a ranking of detected events and up to 48 half-hour
// time blocks keyed "HH-MM". The View resolves which device to show (the
// selected device, else this installation's own device), refuses to fetch
// without an authenticated session, and keeps track of which time blocks
// are expanded.
package report
