package entities

import (
	"sort"
	"strings"
)

// Bootstrap steps, in dependency order.
const (
	StepAuthenticate    string = "authenticate"
	StepResolvePlant    string = "resolvePlant"
	StepResolveDevice   string = "resolveDevice"
	StepResolvePlantKey string = "resolvePlantKey"
	StepDiscoverPoints  string = "discoverPoints"
	StepRealtimeData    string = "realtimeData"
)

// PointInfo describes one telemetry point of the catalog.
type PointInfo struct {
	Name string `yaml:"name" json:"name"`
	Unit string `yaml:"unit" json:"unit"`
}

// PointCatalog maps a bare point id to its metadata.
type PointCatalog map[string]PointInfo

// Readings maps a bare point id to the value reported by the realtime call.
// Values are json.Number for numeric points and string otherwise.
type Readings map[string]interface{}

// Cache is the record persisted between process starts.
type Cache struct {
	Points       PointCatalog `yaml:"points"`
	PlantKey     string       `yaml:"ps_key"`
	DeviceSerial string       `yaml:"sn"`
}

// Snapshot is the result of one successful poll.
type Snapshot struct {
	PlantKey   string
	DeviceTime string
	Readings   Readings
}

// IDs returns the catalog point ids in a stable order.
func (c PointCatalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Class infers a device class from the unit and the point name.
func (p PointInfo) Class() string {
	unit := strings.ToLower(p.Unit)
	name := strings.ToLower(p.Name)
	switch unit {
	case "kwh", "wh", "mwh":
		return "energy"
	case "w", "kw":
		return "power"
	case "v":
		return "voltage"
	case "a":
		return "current"
	}
	switch {
	case strings.Contains(name, "co2"):
		return "carbon_dioxide"
	case strings.Contains(name, "temp"):
		return "temperature"
	case strings.Contains(name, "hour"):
		return "duration"
	}
	return ""
}
