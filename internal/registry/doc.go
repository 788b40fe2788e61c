// Package registry wires the token manager, device registry, property store,
// and instant channel over one document store.
//
// The components only know each other through small interfaces (the token
// manager asks a DeviceLookup, the device registry consumes a TokenSource
// and runs Cascades, the property store asks a DeviceIndex). Hub is where
// those interfaces are satisfied.
package registry
