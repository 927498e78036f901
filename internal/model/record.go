package model

import "time"

const (
	// UnknownIdentity is used when a plaintext payload carries no sender identifier.
	UnknownIdentity = "UNKNOWN"

	// ReceivedAtLayout renders ReceivedAt with minute resolution.
	ReceivedAtLayout = "2006-01-02 15:04"
)

// DecodedRecord is the structured form of one telemetry payload.
type DecodedRecord struct {
	Identity     string         `json:"identity"`
	SensorData   map[string]any `json:"data"`
	AuthToken    string         `json:"-"`
	HasAuthToken bool           `json:"-"`
	ReceivedAt   time.Time      `json:"received_at"`
}

// ReceivedAtString formats ReceivedAt the way it is delivered to the collector.
func (r DecodedRecord) ReceivedAtString() string {
	return r.ReceivedAt.Format(ReceivedAtLayout)
}

// Forwardable reports whether the record carries both an identity and sensor readings.
func (r DecodedRecord) Forwardable() bool {
	return r.Identity != "" && len(r.SensorData) > 0
}
