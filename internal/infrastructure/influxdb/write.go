package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the registry.
const (
	MeasurementDeviceStatus    = "device_status"
	MeasurementInstantActivity = "instant_activity"
)

// WriteDeviceStatus records a device liveness transition. device is a token
// fingerprint; previous is empty for a newly promoted device.
func (c *Client) WriteDeviceStatus(device, kind, status, previous string, silence time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(deviceStatusPoint(device, kind, status, previous, silence, at))
}

// WriteInstantActivity records count instants asked, answered or deleted
// for one recipient fingerprint.
func (c *Client) WriteInstantActivity(recipient, event, instantType string, count int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(instantActivityPoint(recipient, event, instantType, count, at))
}

// WritePointWithTime writes an arbitrary point, such as a sweep summary.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}

func deviceStatusPoint(device, kind, status, previous string, silence time.Duration, at time.Time) *write.Point {
	tags := map[string]string{
		"device": device,
		"kind":   kind,
		"status": status,
	}
	if previous != "" {
		tags["previous"] = previous
	}

	healthy := 0
	if status == "green" {
		healthy = 1
	}

	return write.NewPoint(
		MeasurementDeviceStatus,
		tags,
		map[string]interface{}{
			"healthy":         healthy,
			"silence_seconds": silence.Seconds(),
		},
		at,
	)
}

func instantActivityPoint(recipient, event, instantType string, count int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementInstantActivity,
		map[string]string{
			"recipient": recipient,
			"event":     event,
			"type":      instantType,
		},
		map[string]interface{}{
			"count": count,
		},
		at,
	)
}
