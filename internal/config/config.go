package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NetatmoConfig holds the air-quality vendor credentials and device selection.
type NetatmoConfig struct {
	// ClientID is the OAuth2 client identifier issued by Netatmo.
	ClientID string `yaml:"client_id"`
	// ClientSecret is the OAuth2 client secret issued by Netatmo.
	ClientSecret string `yaml:"client_secret"`
	// DeviceMAC is the MAC address of the home coach station to sample.
	DeviceMAC string `yaml:"device_mac"`
}

// HueConfig holds the lighting vendor credentials and actuation targets.
type HueConfig struct {
	// ClientID is the OAuth2 client identifier issued by Hue remote API.
	ClientID string `yaml:"client_id"`
	// ClientSecret is the OAuth2 client secret issued by Hue remote API.
	ClientSecret string `yaml:"client_secret"`
	// GroupID is the light group whose state is pushed during an alert.
	GroupID string `yaml:"group_id"`
	// BaselineScene is the human-readable name of the smart scene restored after an alert.
	BaselineScene string `yaml:"baseline_scene"`
	// DeviceType identifies this application during bridge whitelist registration.
	DeviceType string `yaml:"device_type"`
}

// Config holds all settings of the co2light daemon.
type Config struct {
	// ListenAddress is the address the callback HTTP server binds to.
	ListenAddress string `yaml:"listen_addr"`
	// PublicBaseURL is the externally reachable base URL used to build
	// OAuth redirect URLs. Derived from ListenAddress when empty.
	PublicBaseURL string `yaml:"public_base_url"`
	// Netatmo configures the air-quality vendor.
	Netatmo NetatmoConfig `yaml:"netatmo"`
	// Hue configures the lighting vendor.
	Hue HueConfig `yaml:"hue"`
	// RefreshInterval is the period of the token expiry checks.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// SampleInterval is the period of the sample-decide-act cycle.
	SampleInterval time.Duration `yaml:"sample_interval"`
	// ActiveFromHour is the first local hour (inclusive) alerts may fire.
	ActiveFromHour int `yaml:"active_from_hour"`
	// ActiveUntilHour is the local hour (exclusive) alerts stop firing.
	ActiveUntilHour int `yaml:"active_until_hour"`
}

const (
	// DefaultConfigFilename is the default filename for daemon settings.
	DefaultConfigFilename = "co2light-settings.yaml"

	// DefaultListenAddress is the default callback server bind address.
	DefaultListenAddress = ":3005"

	// DefaultRefreshInterval is the default token expiry check period.
	DefaultRefreshInterval = 15 * time.Second

	// DefaultSampleInterval is the default sample cycle period.
	DefaultSampleInterval = time.Minute

	// DefaultActiveFromHour is the default start of the daily active window.
	DefaultActiveFromHour = 7

	// DefaultActiveUntilHour is the default end of the daily active window.
	DefaultActiveUntilHour = 22

	// DefaultGroupID is the default Hue light group driven during alerts.
	DefaultGroupID = "1"

	// DefaultDeviceType is the default application identifier for whitelist registration.
	DefaultDeviceType = "co2light bridge"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNetatmoCredentialsRequired is returned when the Netatmo client credentials are missing.
	errNetatmoCredentialsRequired = errors.New("netatmo client_id and client_secret must be provided")
	// errNetatmoDeviceRequired is returned when the home coach MAC address is missing.
	errNetatmoDeviceRequired = errors.New("netatmo device_mac must be provided")
	// errHueCredentialsRequired is returned when the Hue client credentials are missing.
	errHueCredentialsRequired = errors.New("hue client_id and client_secret must be provided")
	// errBaselineSceneRequired is returned when the baseline scene name is missing.
	errBaselineSceneRequired = errors.New("hue baseline_scene must be provided")
	// errActiveWindowInvalid is returned when the daily window hours are out of order or range.
	errActiveWindowInvalid = errors.New("active window hours must satisfy 0 <= from < until <= 24")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file carries vendor secrets.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills in defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Netatmo.ClientID == "" || cfg.Netatmo.ClientSecret == "" {
		return errNetatmoCredentialsRequired
	}

	if cfg.Netatmo.DeviceMAC == "" {
		return errNetatmoDeviceRequired
	}

	if cfg.Hue.ClientID == "" || cfg.Hue.ClientSecret == "" {
		return errHueCredentialsRequired
	}

	if cfg.Hue.BaselineScene == "" {
		return errBaselineSceneRequired
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = publicBaseURL(cfg.ListenAddress)
	}

	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return fmt.Errorf("invalid public base URL: %w", err)
	}

	if cfg.Hue.GroupID == "" {
		cfg.Hue.GroupID = DefaultGroupID
	}

	if cfg.Hue.DeviceType == "" {
		cfg.Hue.DeviceType = DefaultDeviceType
	}

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}

	if cfg.ActiveFromHour == 0 && cfg.ActiveUntilHour == 0 {
		cfg.ActiveFromHour = DefaultActiveFromHour
		cfg.ActiveUntilHour = DefaultActiveUntilHour
	}

	if cfg.ActiveFromHour < 0 || cfg.ActiveUntilHour > 24 || cfg.ActiveFromHour >= cfg.ActiveUntilHour {
		return errActiveWindowInvalid
	}

	return nil
}

// publicBaseURL derives a loopback base URL from the listen address.
func publicBaseURL(listenAddress string) string {
	host, port, err := net.SplitHostPort(listenAddress)
	if err != nil {
		return "http://localhost"
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return fmt.Sprintf("http://%s:%s", host, port)
}
