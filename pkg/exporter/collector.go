package exporter

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/entities"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Collector implements prometheus.Collector over the last successful poll.
type Collector struct {
	log *logrus.Entry

	mu          sync.RWMutex
	catalog     entities.PointCatalog
	readings    entities.Readings
	success     bool
	lastSuccess time.Time

	pointValue    *prometheus.Desc
	pollSuccess   *prometheus.Desc
	lastSuccessTS *prometheus.Desc
	catalogPoints *prometheus.Desc
}

// NewCollector creates a collector with no poll recorded yet.
func NewCollector(log *logrus.Entry) *Collector {
	return &Collector{
		log:      log,
		catalog:  entities.PointCatalog{},
		readings: entities.Readings{},
		pointValue: prometheus.NewDesc(
			"suncloud_point_value",
			"Last value reported for a telemetry point",
			[]string{"point_id", "name", "unit", "class"},
			nil,
		),
		pollSuccess: prometheus.NewDesc(
			"suncloud_poll_success",
			"Whether the last poll was successful",
			nil,
			nil,
		),
		lastSuccessTS: prometheus.NewDesc(
			"suncloud_last_success_timestamp_seconds",
			"Unix time of the last successful poll",
			nil,
			nil,
		),
		catalogPoints: prometheus.NewDesc(
			"suncloud_catalog_points",
			"Number of points in the telemetry catalog",
			nil,
			nil,
		),
	}
}

// Update records a successful poll.
func (c *Collector) Update(catalog entities.PointCatalog, readings entities.Readings, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = catalog
	c.readings = readings
	c.success = true
	c.lastSuccess = at
}

// MarkFailure records a failed poll. Point values of the last success are kept.
func (c *Collector) MarkFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.success = false
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pointValue
	ch <- c.pollSuccess
	ch <- c.lastSuccessTS
	ch <- c.catalogPoints
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	success := 0.0
	if c.success {
		success = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.pollSuccess, prometheus.GaugeValue, success)
	ch <- prometheus.MustNewConstMetric(c.catalogPoints, prometheus.GaugeValue, float64(len(c.catalog)))
	if !c.lastSuccess.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastSuccessTS, prometheus.GaugeValue, float64(c.lastSuccess.UnixNano())/1e9)
	}

	for id, raw := range c.readings {
		value, ok := toFloat(raw)
		if !ok {
			c.log.Debugf("point %s has non-numeric value %v", id, raw)
			continue
		}
		point := c.catalog[id]
		ch <- prometheus.MustNewConstMetric(c.pointValue, prometheus.GaugeValue, value, id, point.Name, point.Unit, point.Class())
	}
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
