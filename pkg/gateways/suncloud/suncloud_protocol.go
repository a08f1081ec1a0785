package suncloud

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/entities"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/logging"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	loginType        = "1"
	loggedIn         = "1"
	plantPageSize    = 1
	devicePageSize   = 50
	pointPageSize    = 999
	telemetryKind    = 2
	withPlantRemarks = "1"
	deviceTimeField  = "device_time"
)

// pointKey matches the prefixed point ids of a realtime answer, e.g. p83022.
var pointKey = regexp.MustCompile(`^p([0-9]+)$`)

type loginResult struct {
	Token      string   `json:"token"`
	LoginState opaqueID `json:"login_state"`
}

type plantEntry struct {
	PlantID opaqueID `json:"ps_id"`
	Name    string   `json:"ps_name"`
}

type plantList struct {
	PageList []plantEntry `json:"pageList"`
}

type deviceEntry struct {
	DeviceType          opaqueID `json:"device_type"`
	Name                string   `json:"device_name"`
	Serial              opaqueID `json:"device_sn"`
	CommunicationSerial opaqueID `json:"communication_dev_sn"`
}

type deviceList struct {
	PageList []deviceEntry `json:"pageList"`
}

type plantDetail struct {
	PlantKey opaqueID `json:"ps_key"`
	Name     string   `json:"ps_name"`
}

type pointEntry struct {
	PointID     opaqueID `json:"point_id"`
	Name        string   `json:"point_name"`
	StorageUnit string   `json:"storage_unit"`
	ShowUnit    string   `json:"show_unit"`
}

type pointList struct {
	PageList []pointEntry `json:"pageList"`
}

type realtimeResult struct {
	DevicePointList []struct {
		DevicePoint map[string]interface{} `json:"device_point"`
	} `json:"device_point_list"`
}

// Client holds the session of one SunCloud account. Token and plant id
// live in memory only; device serial, plant key and the point catalog are
// cached on disk.
type Client struct {
	mu             sync.Mutex
	conf           entities.SunCloudConfig
	transport      *transport
	fileManagement filesystemManagement
	log            *logrus.Entry
	bootstrap      stateHandler

	token        string
	plantID      string
	deviceSerial string
	plantKey     string
	points       entities.PointCatalog
}

// NewClient validates the configuration and loads the cache file.
func NewClient(conf entities.SunCloudConfig, log *logrus.Entry) (*Client, error) {
	return newClient(conf, log, new(fileManagement))
}

func newClient(conf entities.SunCloudConfig, log *logrus.Entry, fileManagement filesystemManagement) (*Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid suncloud configuration")
	}
	if _, err := parsePublicKey(conf.RSAPublicKey); err != nil {
		return nil, errors.Wrap(err, "invalid rsa_key")
	}

	c := &Client{
		conf:           conf,
		fileManagement: fileManagement,
		log:            log,
		points:         entities.PointCatalog{},
		transport: &transport{
			baseURL:   conf.BaseURL,
			appKey:    conf.AppKey,
			accessKey: conf.AccessKey,
			publicKey: conf.RSAPublicKey,
			timeout:   conf.RequestTimeout(),
			log:       log,
		},
	}
	c.bootstrap = newBootstrapChain(c)
	c.loadCache()
	return c, nil
}

func (c *Client) loadCache() {
	cache, err := utils.ConfigurationParser(c.conf.CachePath, entities.Cache{})
	if os.IsNotExist(err) {
		c.log.Debugf("no cache file at %s", c.conf.CachePath)
		return
	}
	if err != nil {
		c.log.Errorf("failed to load cache %s: %v", c.conf.CachePath, err)
		return
	}
	if cache.Points != nil {
		c.points = cache.Points
	}
	c.plantKey = cache.PlantKey
	c.deviceSerial = cache.DeviceSerial
	c.log.Debugf("loaded %d points from cache", len(c.points))
}

func (c *Client) writeCacheFile() error {
	data, err := yaml.Marshal(&entities.Cache{
		Points:       c.points,
		PlantKey:     c.plantKey,
		DeviceSerial: c.deviceSerial,
	})
	if err != nil {
		return err
	}
	if err := c.fileManagement.writeCacheFile(c.conf.CachePath, data); err != nil {
		return err
	}
	c.log.Debugf("wrote cache file %s", c.conf.CachePath)
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	var result loginResult
	fields := map[string]interface{}{
		"login_type":    loginType,
		"user_account":  c.conf.Username,
		"user_password": c.conf.Password,
	}
	if err := c.transport.call(ctx, loginEndpoint, fields, "", &result); err != nil {
		return err
	}
	if result.LoginState != "" && result.LoginState != loggedIn {
		return &ProtocolError{Endpoint: loginEndpoint, Code: successCode, Message: "login_state " + string(result.LoginState)}
	}
	if result.Token == "" {
		return missingField(loginEndpoint, "token")
	}
	c.token = result.Token
	c.log.Infof("authenticated, token %s", logging.Mask(c.token))
	return nil
}

func (c *Client) resolvePlant(ctx context.Context) error {
	var result plantList
	fields := map[string]interface{}{"curPage": 1, "size": plantPageSize}
	if err := c.transport.call(ctx, plantListEndpoint, fields, c.token, &result); err != nil {
		return err
	}
	if len(result.PageList) == 0 {
		return errors.New("account has no plant")
	}
	plant := result.PageList[0]
	if plant.PlantID == "" {
		return missingField(plantListEndpoint, "pageList[0].ps_id")
	}
	c.plantID = string(plant.PlantID)
	c.log.Infof("resolved plant %q (%s)", plant.Name, c.plantID)
	return nil
}

func (c *Client) resolveDevice(ctx context.Context) error {
	var result deviceList
	fields := map[string]interface{}{"curPage": 1, "size": devicePageSize, "ps_id": c.plantID}
	if err := c.transport.call(ctx, deviceListEndpoint, fields, c.token, &result); err != nil {
		return err
	}
	wanted := opaqueID(strconv.Itoa(c.conf.DeviceTypeCode))
	for _, device := range result.PageList {
		if device.DeviceType != wanted {
			continue
		}
		serial := device.Serial
		if serial == "" {
			serial = device.CommunicationSerial
		}
		if serial == "" {
			continue
		}
		c.deviceSerial = string(serial)
		c.log.Infof("resolved device %q (%s)", device.Name, c.deviceSerial)
		return nil
	}
	return errors.Errorf("no device of type %d found among %d devices of plant %s", c.conf.DeviceTypeCode, len(result.PageList), c.plantID)
}

func (c *Client) resolvePlantKey(ctx context.Context) error {
	var result plantDetail
	fields := map[string]interface{}{"sn": c.deviceSerial, "is_get_ps_remarks": withPlantRemarks}
	if err := c.transport.call(ctx, plantDetailEndpoint, fields, c.token, &result); err != nil {
		return err
	}
	if result.PlantKey == "" {
		return missingField(plantDetailEndpoint, "ps_key")
	}
	c.plantKey = string(result.PlantKey)
	c.log.Infof("resolved plant key for %q", result.Name)
	if len(c.points) > 0 {
		if err := c.writeCacheFile(); err != nil {
			c.log.Errorf("failed to save cache: %v", err)
		}
	}
	return nil
}

func (c *Client) discoverPoints(ctx context.Context) error {
	var result pointList
	fields := map[string]interface{}{
		"device_type": c.conf.PointDeviceType,
		"type":        telemetryKind,
		"curPage":     1,
		"size":        pointPageSize,
	}
	if c.conf.DeviceModelID != "" {
		fields["device_model_id"] = c.conf.DeviceModelID
	}
	if err := c.transport.call(ctx, pointInfoEndpoint, fields, c.token, &result); err != nil {
		return err
	}

	points := make(entities.PointCatalog, len(result.PageList))
	for _, point := range result.PageList {
		if point.PointID == "" {
			continue
		}
		unit := point.StorageUnit
		if unit == "" {
			unit = point.ShowUnit
		}
		points[string(point.PointID)] = entities.PointInfo{Name: point.Name, Unit: unit}
	}
	if len(points) == 0 {
		return errors.New("no telemetry points found")
	}

	c.points = points
	c.log.Infof("discovered %d telemetry points", len(points))
	if err := c.writeCacheFile(); err != nil {
		c.log.Errorf("failed to save cache: %v", err)
	}
	return nil
}

// EnsureReady runs the bootstrap steps whose output is still missing.
func (c *Client) EnsureReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrap.execute(ctx)
}

// RepopulatePoints discovers the point catalog again and overwrites the cache.
// It logs in only when no token is held and never re-resolves plant, device or key.
func (c *Client) RepopulatePoints(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" {
		if err := c.authenticate(ctx); err != nil {
			return &BootstrapError{Step: entities.StepAuthenticate, Err: err}
		}
	}
	if err := c.discoverPoints(ctx); err != nil {
		return &BootstrapError{Step: entities.StepDiscoverPoints, Err: err}
	}
	return nil
}

// SelectPoints restricts the catalog to the given ids and saves it.
func (c *Client) SelectPoints(ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	selected := entities.PointCatalog{}
	for _, id := range ids {
		if point, ok := c.points[id]; ok {
			selected[id] = point
		}
	}
	if len(selected) == 0 {
		return errors.New("selection contains no known point")
	}
	c.points = selected
	return errors.Wrap(c.writeCacheFile(), "save point selection")
}

// Points returns a copy of the point catalog.
func (c *Client) Points() entities.PointCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()

	points := make(entities.PointCatalog, len(c.points))
	for id, point := range c.points {
		points[id] = point
	}
	return points
}

// Invalidate drops the token and plant id so the next bootstrap logs in again.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = ""
	c.plantID = ""
}

// InvalidatePlant drops the session together with the device serial and
// plant key, which the next bootstrap resolves again. The catalog is kept.
func (c *Client) InvalidatePlant() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = ""
	c.plantID = ""
	c.deviceSerial = ""
	c.plantKey = ""
}

// Poll returns the current value of every catalog point.
func (c *Client) Poll(ctx context.Context) (entities.Readings, error) {
	snapshot, err := c.PollSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Readings, nil
}

// PollSnapshot bootstraps the session if needed and fetches the realtime data.
// No realtime call is made when the bootstrap fails.
func (c *Client) PollSnapshot(ctx context.Context) (entities.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.bootstrap.execute(ctx); err != nil {
		return entities.Snapshot{}, err
	}

	var result realtimeResult
	fields := map[string]interface{}{
		"device_type":   c.conf.PointDeviceType,
		"point_id_list": c.points.IDs(),
		"ps_key_list":   []string{c.plantKey},
	}
	if err := c.transport.call(ctx, realtimeDataEndpoint, fields, c.token, &result); err != nil {
		c.log.WithField("step", entities.StepRealtimeData).Errorln(err)
		return entities.Snapshot{}, err
	}

	snapshot, err := parseRealtime(result, c.log)
	if err != nil {
		c.log.WithField("step", entities.StepRealtimeData).Errorln(err)
		return entities.Snapshot{}, err
	}
	snapshot.PlantKey = c.plantKey
	c.log.Infof("%d points updated", len(snapshot.Readings))
	return snapshot, nil
}

func parseRealtime(result realtimeResult, log *logrus.Entry) (entities.Snapshot, error) {
	if len(result.DevicePointList) == 0 || len(result.DevicePointList[0].DevicePoint) == 0 {
		return entities.Snapshot{}, errors.Wrap(ErrNoTelemetry, realtimeDataEndpoint)
	}

	devicePoint := result.DevicePointList[0].DevicePoint
	snapshot := entities.Snapshot{Readings: entities.Readings{}}
	if deviceTime, ok := devicePoint[deviceTimeField].(string); ok {
		snapshot.DeviceTime = deviceTime
	}
	for key, value := range devicePoint {
		match := pointKey.FindStringSubmatch(key)
		if match == nil {
			if key != deviceTimeField {
				log.Debugf("ignoring realtime key %q", key)
			}
			continue
		}
		if value == nil {
			continue
		}
		snapshot.Readings[match[1]] = value
	}
	if len(snapshot.Readings) == 0 {
		return entities.Snapshot{}, errors.Wrap(ErrNoTelemetry, realtimeDataEndpoint)
	}
	return snapshot, nil
}

// Close releases the HTTP connections. The client stays usable.
func (c *Client) Close() error {
	c.transport.Close()
	return nil
}
