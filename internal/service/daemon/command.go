package daemon

import (
	"context"
	"fmt"

	"github.com/co2light/co2light/internal/config"
	"github.com/co2light/co2light/internal/hue"
	"github.com/co2light/co2light/internal/logger"
	"github.com/co2light/co2light/internal/netatmo"
	"github.com/co2light/co2light/internal/oauth"
	"github.com/co2light/co2light/internal/server"
	"github.com/co2light/co2light/internal/service/actuator"
	"github.com/co2light/co2light/internal/service/watcher"
)

// Options controls the daemon process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Debug ignores the daily active window for testing purposes.
	Debug bool
}

// Run wires the daemon together and blocks until the context is canceled.
// Loads configuration first, builds both token stores and vendor clients,
// then runs the callback server and the watcher side by side.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "co2light")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	netatmoStore := oauth.NewStore("netatmo", oauth.Endpoint{
		AuthorizeURL: netatmo.AuthorizeURL,
		TokenURL:     netatmo.TokenURL,
		ClientID:     cfg.Netatmo.ClientID,
		ClientSecret: cfg.Netatmo.ClientSecret,
		Scope:        netatmo.ScopeReadHomeCoach,
		RedirectURL:  cfg.PublicBaseURL + server.NetatmoCallbackPath,
	})

	hueStore := oauth.NewStore("hue", oauth.Endpoint{
		AuthorizeURL: hue.AuthorizeURL,
		TokenURL:     hue.TokenURL,
		ClientID:     cfg.Hue.ClientID,
		ClientSecret: cfg.Hue.ClientSecret,
		RedirectURL:  cfg.PublicBaseURL + server.HueCallbackPath,
		BasicAuth:    true,
	})

	sensor := netatmo.NewClient(netatmoStore, cfg.Netatmo.DeviceMAC)
	lights := hue.NewClient(hueStore, cfg.Hue.DeviceType)
	act := actuator.New(lights, cfg.Hue.GroupID, cfg.Hue.BaselineScene)

	watch := watcher.New(sensor, act,
		[]watcher.TokenRefresher{netatmoStore, hueStore},
		watcher.Options{
			RefreshInterval: cfg.RefreshInterval,
			SampleInterval:  cfg.SampleInterval,
			ActiveFromHour:  cfg.ActiveFromHour,
			ActiveUntilHour: cfg.ActiveUntilHour,
			Debug:           opts.Debug,
		})

	callbackServer := server.New(cfg.ListenAddress, netatmoStore, hueStore)

	// Both flows have to be completed once per process through a browser.
	logger.Infof(ctx, "Authorize Netatmo at: %s", netatmoStore.AuthorizationURL())
	logger.Infof(ctx, "Authorize Hue at: %s", hueStore.AuthorizationURL())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		errCh <- callbackServer.Run(runCtx)
	}()

	go func() {
		errCh <- watch.Run(runCtx)
	}()

	// First error (or clean stop) wins; the cancel drains the other loop.
	err = <-errCh
	cancel()
	<-errCh

	return err
}
