package entities

import (
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultBaseURL             = "https://gateway.isolarcloud.eu"
	DefaultPollIntervalSeconds = 300
	DefaultRequestTimeout      = 20
	DefaultDeviceTypeCode      = 22
	DefaultPointDeviceType     = 11
	DefaultCachePath           = "suncloud_cache.yaml"
)

// SunCloudConfig is the configuration bundle of one SunCloud account.
type SunCloudConfig struct {
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	AppKey                string `yaml:"appkey"`
	AccessKey             string `yaml:"access_key"`
	RSAPublicKey          string `yaml:"rsa_key"`
	BaseURL               string `yaml:"base_url"`
	PollIntervalSeconds   int    `yaml:"poll_interval"`
	RequestTimeoutSeconds int    `yaml:"request_timeout"`
	DeviceTypeCode        int    `yaml:"device_type_code"`
	PointDeviceType       int    `yaml:"point_device_type"`
	DeviceModelID         string `yaml:"device_model_id"`
	CachePath             string `yaml:"cache_path"`
}

// Validate fills in defaults and checks the required fields.
func (c *SunCloudConfig) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"username", c.Username},
		{"password", c.Password},
		{"appkey", c.AppKey},
		{"access_key", c.AccessKey},
		{"rsa_key", c.RSAPublicKey},
	}
	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("missing %s", field.name)
		}
	}

	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}

	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.PollIntervalSeconds < 0 {
		return fmt.Errorf("invalid poll_interval %d", c.PollIntervalSeconds)
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if c.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("invalid request_timeout %d", c.RequestTimeoutSeconds)
	}
	if c.DeviceTypeCode == 0 {
		c.DeviceTypeCode = DefaultDeviceTypeCode
	}
	if c.PointDeviceType == 0 {
		c.PointDeviceType = DefaultPointDeviceType
	}
	if c.CachePath == "" {
		c.CachePath = DefaultCachePath
	}
	return nil
}

func (c SunCloudConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c SunCloudConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
