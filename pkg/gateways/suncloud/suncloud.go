package suncloud

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	bloomFilter "github.com/bits-and-blooms/bloom/v3"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/entities"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/gateways/suncloud/network"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DUPLICATION_FILTER            = "1"
	FILTER_CAPACITY               = "100000"
	DUPLICATION_PROBABILITY       = "0.01"
	RESET_FILTER_USAGE_PERCENTAGE = "0.75"

	maxRealtimeRejections = 2
)

// FilterConfig tunes the duplicate-reading filter applied before publishing.
type FilterConfig struct {
	Enabled                      bool
	Capacity                     uint
	DuplicationProbability       float64
	MaximumPercentageFilterUsage float32
}

// FilterConfigFromEnvironment reads the filter settings, falling back to defaults.
func FilterConfigFromEnvironment() (FilterConfig, error) {
	conf := FilterConfig{}
	conf.Enabled = utils.GetValueFromEnvironmentVariable("DUPLICATION_FILTER", DUPLICATION_FILTER) != "0"

	capacity, err := strconv.ParseUint(utils.GetValueFromEnvironmentVariable("FILTER_CAPACITY", FILTER_CAPACITY), 10, 0)
	if err != nil || capacity == 0 {
		return conf, fmt.Errorf("FILTER_CAPACITY environment variable with invalid value")
	}
	probability, err := strconv.ParseFloat(utils.GetValueFromEnvironmentVariable("DUPLICATION_PROBABILITY", DUPLICATION_PROBABILITY), 64)
	if err != nil || probability <= 0 || probability >= 1 {
		return conf, fmt.Errorf("DUPLICATION_PROBABILITY environment variable with invalid value")
	}
	usage, err := strconv.ParseFloat(utils.GetValueFromEnvironmentVariable("RESET_FILTER_USAGE_PERCENTAGE", RESET_FILTER_USAGE_PERCENTAGE), 32)
	if err != nil || usage <= 0 || usage > 1 {
		return conf, fmt.Errorf("RESET_FILTER_USAGE_PERCENTAGE environment variable with invalid value")
	}

	conf.Capacity = uint(capacity)
	conf.DuplicationProbability = probability
	conf.MaximumPercentageFilterUsage = float32(usage)
	return conf, nil
}

// Integration polls one account and forwards fresh readings to a publisher.
type Integration struct {
	client    *Client
	publisher network.Publisher
	log       *logrus.Entry

	filterMutex                  sync.Mutex
	filter                       *bloomFilter.BloomFilter
	filterCapacity               uint
	filterItems                  uint
	maximumPercentageFilterUsage float32
	isReadingDuplicatedFunction  func(deviceTime, pointID string) bool

	rejectionMutex     sync.Mutex
	realtimeRejections int
}

// NewSunCloudIntegration wires a client to an optional publisher.
func NewSunCloudIntegration(client *Client, publisher network.Publisher, filter FilterConfig, log *logrus.Entry) *Integration {
	i := &Integration{
		client:    client,
		publisher: publisher,
		log:       log,
	}
	i.isReadingDuplicatedFunction = func(string, string) bool { return false }
	if filter.Enabled {
		i.filter = bloomFilter.NewWithEstimates(filter.Capacity, filter.DuplicationProbability)
		i.filterCapacity = filter.Capacity
		i.maximumPercentageFilterUsage = filter.MaximumPercentageFilterUsage
		i.isReadingDuplicatedFunction = i.isReadingDuplicated
	}
	return i
}

// Client returns the underlying account client.
func (i *Integration) Client() *Client {
	return i.client
}

// Refresh polls the account once and transmits the readings.
func (i *Integration) Refresh(ctx context.Context) (entities.Snapshot, error) {
	snapshot, err := i.client.PollSnapshot(ctx)
	if err != nil {
		var protocolErr *ProtocolError
		if errors.As(err, &protocolErr) && protocolErr.Endpoint == realtimeDataEndpoint {
			i.handleRealtimeRejection()
		}
		return entities.Snapshot{}, err
	}
	i.rejectionMutex.Lock()
	i.realtimeRejections = 0
	i.rejectionMutex.Unlock()

	if err := i.Transmit(snapshot); err != nil {
		i.log.Errorf("failed to publish readings: %v", err)
	}
	return snapshot, nil
}

// Transmit publishes the readings of a snapshot that were not sent before.
func (i *Integration) Transmit(snapshot entities.Snapshot) error {
	if i.publisher == nil {
		return nil
	}
	catalog := i.client.Points()
	message := network.ReadingsSent{PlantKey: snapshot.PlantKey, DeviceTime: snapshot.DeviceTime}

	i.filterMutex.Lock()
	for _, id := range sortedReadingIDs(snapshot.Readings) {
		if i.isReadingDuplicatedFunction(snapshot.DeviceTime, id) {
			continue
		}
		i.updateDuplicationFilter(snapshot.DeviceTime, id)
		point := catalog[id]
		message.Readings = append(message.Readings, network.PointReading{
			PointID: id,
			Name:    point.Name,
			Unit:    point.Unit,
			Value:   snapshot.Readings[id],
		})
	}
	i.filterMutex.Unlock()

	if len(message.Readings) == 0 {
		i.log.Debug("no new readings to publish")
		return nil
	}
	if err := i.publisher.PublishReadings(message); err != nil {
		return err
	}
	i.log.Infof("published %d readings", len(message.Readings))
	return nil
}

// handleRealtimeRejection logs in again on the next tick. A rejection right
// after a new login means the cached device serial or plant key went stale,
// so those are resolved again too.
func (i *Integration) handleRealtimeRejection() {
	i.rejectionMutex.Lock()
	defer i.rejectionMutex.Unlock()

	i.realtimeRejections++
	if i.realtimeRejections < maxRealtimeRejections {
		i.client.Invalidate()
		return
	}
	i.log.Warnf("realtime data rejected %d times in a row, resolving device and plant key again", i.realtimeRejections)
	i.client.InvalidatePlant()
	i.realtimeRejections = 0
}

// Close releases the client connections.
func (i *Integration) Close() error {
	return i.client.Close()
}

func (i *Integration) isReadingDuplicated(deviceTime, pointID string) bool {
	if deviceTime == "" {
		return false
	}
	return i.filter.Test(filterKey(deviceTime, pointID))
}

func (i *Integration) updateDuplicationFilter(deviceTime, pointID string) {
	if i.filter == nil || deviceTime == "" {
		return
	}
	i.resetDuplicationFilter()
	i.filter.Add(filterKey(deviceTime, pointID))
	i.filterItems++
}

// resetDuplicationFilter clears the filter once the items added reach the
// configured share of its capacity in items.
func (i *Integration) resetDuplicationFilter() {
	usage := float32(i.filterItems) / float32(i.filterCapacity)
	if usage >= i.maximumPercentageFilterUsage {
		i.log.Debugf("resetting duplication filter after %d readings", i.filterItems)
		i.filter.ClearAll()
		i.filterItems = 0
	}
}

func filterKey(deviceTime, pointID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", deviceTime, pointID))
}

func sortedReadingIDs(readings entities.Readings) []string {
	ids := make([]string, 0, len(readings))
	for id := range readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
