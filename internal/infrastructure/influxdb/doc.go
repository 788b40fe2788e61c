// Package influxdb records registry activity in InfluxDB.
//
// Two measurements are written:
//   - device_status: one point per liveness transition (tags device, kind,
//     status, previous; fields healthy, silence_seconds)
//   - instant_activity: one point per instant mutation (tags recipient,
//     event, type; field count)
//
// Device and recipient tags are token fingerprints. Every point also carries
// the site and registry_version default tags from Identity. Writes are
// non-blocking and batched; failures are counted by WriteErrors and reported
// through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.Identity{Site: cfg.Site.ID, Version: version})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceStatus(fp, "web", "red", "green", silence, time.Now())
package influxdb
