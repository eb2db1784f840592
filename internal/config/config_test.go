package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// validConfig returns a minimal configuration that passes validation.
func validConfig() *Config {
	return &Config{
		Netatmo: NetatmoConfig{
			ClientID:     "netatmo-id",
			ClientSecret: "netatmo-secret",
			DeviceMAC:    "70:ee:50:00:00:01",
		},
		Hue: HueConfig{
			ClientID:      "hue-id",
			ClientSecret:  "hue-secret",
			BaselineScene: "Natural light",
		},
	}
}

// TestValidate checks required fields, daily window bounds and defaulting.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing everything.
	err := Validate(new(Config))
	require.Error(t, err)

	// Missing device MAC.
	cfg := validConfig()
	cfg.Netatmo.DeviceMAC = ""

	err = Validate(cfg)
	require.ErrorIs(t, err, errNetatmoDeviceRequired)

	// Missing baseline scene.
	cfg = validConfig()
	cfg.Hue.BaselineScene = ""

	err = Validate(cfg)
	require.ErrorIs(t, err, errBaselineSceneRequired)

	// Inverted window.
	cfg = validConfig()
	cfg.ActiveFromHour = 22
	cfg.ActiveUntilHour = 7

	err = Validate(cfg)
	require.ErrorIs(t, err, errActiveWindowInvalid)

	// Okay with defaults filled in.
	cfg = validConfig()

	err = Validate(cfg)
	require.NoError(t, err)
	require.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	require.Equal(t, "http://localhost:3005", cfg.PublicBaseURL)
	require.Equal(t, DefaultGroupID, cfg.Hue.GroupID)
	require.Equal(t, DefaultDeviceType, cfg.Hue.DeviceType)
	require.Equal(t, DefaultRefreshInterval, cfg.RefreshInterval)
	require.Equal(t, DefaultSampleInterval, cfg.SampleInterval)
	require.Equal(t, DefaultActiveFromHour, cfg.ActiveFromHour)
	require.Equal(t, DefaultActiveUntilHour, cfg.ActiveUntilHour)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := validConfig()
	cfg.ListenAddress = "127.0.0.1:3050"
	cfg.SampleInterval = 30 * time.Second

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Netatmo, loaded.Netatmo)
	require.Equal(t, cfg.Hue, loaded.Hue)
	require.Equal(t, cfg.ListenAddress, loaded.ListenAddress)
	require.Equal(t, 30*time.Second, loaded.SampleInterval)
}
