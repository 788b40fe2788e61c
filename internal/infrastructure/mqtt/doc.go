// Package mqtt provides MQTT client connectivity for the Gray Logic registry.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Publishing registry events with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The registry publishes, it never subscribes. Panels and automation
// services on the hub's bus follow device liveness and instant activity
// without polling the registry documents.
//
//	Registry → MQTT Broker → Panels / Automation
//
// # Topics
//
//	<prefix>/system/status                     retained online/offline (SystemStatusMessage)
//	<prefix>/device/<fingerprint>/status       retained green/red
//	<prefix>/instant/<fingerprint>/<event>     asked/answered/deleted
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Topics and payloads carry token fingerprints, never raw tokens
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Identity{Site: cfg.Site.ID, Version: version})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.PublishDeviceStatus(mqtt.DeviceStatusMessage{
//	    Device: auth.Fingerprint(token),
//	    Status: "red",
//	})
package mqtt
