package report

import "errors"

var (
	// ErrNoActiveSession is returned when a load is attempted without an
	// authenticated user session.
	ErrNoActiveSession = errors.New("report: login required")

	// ErrNoDeviceRegistered is returned when neither a selected nor an own
	// device id is available.
	ErrNoDeviceRegistered = errors.New("report: no device registered")

	// ErrInvalidTimeBlocks is returned when time_blocks has neither the
	// object nor the array form.
	ErrInvalidTimeBlocks = errors.New("report: invalid time_blocks")
)
