package models

// DeviceKind is the capture kind of a local media input device.
type DeviceKind string

const (
	VideoInput DeviceKind = "videoinput"
	AudioInput DeviceKind = "audioinput"
)

// DeviceDescriptor is an immutable snapshot of one enumerated input device.
// Re-enumeration produces fresh descriptors; a descriptor is never mutated.
type DeviceDescriptor struct {
	DeviceID string     `json:"device_id"`
	Kind     DeviceKind `json:"kind"`
	Label    string     `json:"label"`
}
