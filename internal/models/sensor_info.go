package models

import "time"

// SensorInfo contains metadata about a producing sensor device
type SensorInfo struct {
	ID         string    `json:"id"`
	Location   string    `json:"location"`
	DeviceType string    `json:"device_type"`
	Version    string    `json:"version"`
	StartTime  time.Time `json:"start_time"`
}

// Uptime returns the duration since the sensor started
func (s *SensorInfo) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// NewSensorInfo creates a new SensorInfo with the current time as start time
func NewSensorInfo(id, location, deviceType, version string) *SensorInfo {
	return &SensorInfo{
		ID:         id,
		Location:   location,
		DeviceType: deviceType,
		Version:    version,
		StartTime:  time.Now(),
	}
}

// Stamp copies the device metadata onto a reading produced by this sensor.
func (s *SensorInfo) Stamp(r *Reading) {
	r.SensorID = s.ID
	if r.Location == "" {
		r.Location = s.Location
	}
	if r.DeviceType == "" {
		r.DeviceType = s.DeviceType
	}
}
