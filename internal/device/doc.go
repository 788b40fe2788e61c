// Package device provides the Device Registry for the Gray Logic registry.
//
// A device is a promoted token: once a pending token has been validated, the
// registry writes a persistent device record keyed by that token and
// consumes the token entry, so a token is either pending or promoted, never
// both. Removing a device cascades to the documents that reference it
// (properties and instants) through the Cascade interface.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                       Device Registry                         │
//	│                                                               │
//	│  ┌──────────────────┐   ┌───────────────┐   ┌──────────────┐  │
//	│  │     Registry     │──▶│  TokenSource  │   │   Cascade    │  │
//	│  │  (registry.go)   │   │ (auth.Manager)│   │ (properties, │  │
//	│  │                  │   └───────────────┘   │  instants)   │  │
//	│  │ • Promote/Remove │───────────────────────▶              │  │
//	│  │ • Heartbeat      │                       └──────────────┘  │
//	│  │ • Liveness sweep │──▶ StatusObserver (MQTT, InfluxDB)      │
//	│  └──────────────────┘                                         │
//	│           │                                                   │
//	└───────────│───────────────────────────────────────────────────┘
//	            ▼
//	     store.Devices document
//
// # Liveness
//
// Each device is green or red. Positive contact (Heartbeat with
// madeContact) refreshes LastActive and forces green. A no-contact check
// flips a green device red once LastActive is more than StaleAfter in the
// past. Nothing else changes the status; SweepLiveness applies the
// no-contact check to every device in one locked pass.
//
// # Usage
//
//	reg := device.NewRegistry(st, tokens, device.Options{StaleAfter: 20 * time.Second})
//	reg.SetCascades(props, instants)
//
//	d, err := reg.Promote(ctx, device.PromoteRequest{
//	    Token: tk, IP: "192.168.1.20", Name: "Kitchen panel",
//	    Kind: device.KindWeb, PermissionLevel: 2,
//	})
package device
