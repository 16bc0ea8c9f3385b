// Package influxdb records device operation telemetry in InfluxDB v2.
//
// Every register, device-list fetch and reset performed by the device
// manager becomes one point in the device_operations measurement, tagged
// with the operation and its outcome. Dashboards use it to spot backend
// slowness and failing registrations across a fleet of installations.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	switch {
//	case errors.Is(err, influxdb.ErrDisabled):
//	    // run without telemetry
//	case err != nil:
//	    return err
//	}
//	defer client.Close()
//
//	deps.Recorder = client // device.OperationRecorder
//
// Writes are batched per batch_size and flush_interval and never block the
// caller. Asynchronous write errors are delivered via SetOnError.
package influxdb
