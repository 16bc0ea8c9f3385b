package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceOperations holds one point per finished register,
// fetch or reset.
const MeasurementDeviceOperations = "device_operations"

// RecordOperation writes a device_operations point. It never blocks and
// is a no-op once the client is closed, so it can sit directly on the
// device manager's hot path.
//
//	tags:   operation, outcome
//	fields: duration_ms (float), device_count (int)
func (c *Client) RecordOperation(op, outcome string, duration time.Duration, deviceCount int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(operationPoint(op, outcome, duration, deviceCount, time.Now()))
}

func operationPoint(op, outcome string, duration time.Duration, deviceCount int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDeviceOperations,
		map[string]string{
			"operation": op,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"duration_ms":  float64(duration) / float64(time.Millisecond),
			"device_count": deviceCount,
		},
		ts,
	)
}
