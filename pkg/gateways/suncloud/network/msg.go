package network

// PointReading is one point value forwarded to the broker.
type PointReading struct {
	PointID string      `json:"point_id"`
	Name    string      `json:"name,omitempty"`
	Unit    string      `json:"unit,omitempty"`
	Value   interface{} `json:"value"`
}

// ReadingsSent is the body published after a successful poll.
type ReadingsSent struct {
	PlantKey   string         `json:"ps_key"`
	DeviceTime string         `json:"device_time,omitempty"`
	Readings   []PointReading `json:"readings"`
}
