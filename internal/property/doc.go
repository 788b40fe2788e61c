// Package property stores per-device key/value attributes.
//
// Each device owns one bag of properties in the properties document, created
// lazily by the first Set. Values are arbitrary JSON. A bag should only exist
// for a registered device: Set refuses unknown devices and the device
// registry removes the bag when the device is removed.
//
// The device check and the properties write take different document locks,
// so a Remove can commit between them. Set checks the device again after
// writing and deletes the bag if the device has gone. A process that crashes
// between the write and that second check can still leave an orphaned bag;
// removing the device again clears it.
package property
