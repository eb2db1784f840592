package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/co2light/co2light/internal/domain/alert"
	"github.com/co2light/co2light/internal/logger"
	"github.com/co2light/co2light/internal/metrics"
	"github.com/co2light/co2light/internal/netatmo"
)

// SensorReader supplies the latest CO2 measurement.
type SensorReader interface {
	// LatestReading fetches the most recent measurement of the station.
	LatestReading(ctx context.Context) (*netatmo.Reading, error)
}

// AlertRunner executes the lighting side effect for a decision.
type AlertRunner interface {
	// RunAlertSequence shows the level's color and restores the baseline.
	RunAlertSequence(ctx context.Context, level alert.Level) error
}

// TokenRefresher keeps one vendor credential fresh.
type TokenRefresher interface {
	// Name identifies the vendor in logs.
	Name() string
	// EnsureFresh refreshes the credential if it is about to expire.
	EnsureFresh(ctx context.Context, now time.Time) bool
}

// Options controls the watcher's cadence and daily window.
type Options struct {
	// RefreshInterval is the period of the token expiry checks.
	RefreshInterval time.Duration
	// SampleInterval is the period of the sample-decide-act cycle.
	SampleInterval time.Duration
	// ActiveFromHour is the first local hour (inclusive) alerts may fire.
	ActiveFromHour int
	// ActiveUntilHour is the local hour (exclusive) alerts stop firing.
	ActiveUntilHour int
	// Debug ignores the daily window for testing purposes.
	Debug bool
}

const (
	// refreshTickTimeout bounds one token expiry check tick.
	refreshTickTimeout = 10 * time.Second

	// cycleTimeout bounds one sample cycle, dwell and restore retry included.
	// Shorter than the sample interval so a hung vendor call cannot cascade
	// into later ticks.
	cycleTimeout = 45 * time.Second
)

// Watcher owns the two periodic loops of the daemon: the token expiry check
// and the sample-decide-act cycle. The loops are independent goroutines, so
// a stalled sample cycle can never starve the shorter refresh period.
type Watcher struct {
	// sensor reads CO2 measurements.
	sensor SensorReader
	// policy decides whether a reading drives the lights.
	policy *alert.Policy
	// runner executes alert sequences.
	runner AlertRunner
	// stores are the credentials kept fresh every refresh tick.
	stores []TokenRefresher
	// opts holds cadence and window settings.
	opts Options
	// now supplies the current instant, injectable for tests.
	now func() time.Time
	// cycleRunning guards against overlapping sample cycles. A tick firing
	// while the previous cycle still runs is skipped, not queued.
	cycleRunning atomic.Bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithNow overrides the time source, used by tests to simulate the window.
func WithNow(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a watcher over the given collaborators.
func New(sensor SensorReader, runner AlertRunner, stores []TokenRefresher, opts Options, optFns ...Option) *Watcher {
	w := &Watcher{
		sensor: sensor,
		policy: new(alert.Policy),
		runner: runner,
		stores: stores,
		opts:   opts,
		now:    time.Now,
	}

	for _, fn := range optFns {
		fn(w)
	}

	return w
}

// Run starts both loops and blocks until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "watcher")

	logger.InfoKV(ctx, "Watcher started",
		"refresh_interval", w.opts.RefreshInterval.String(),
		"sample_interval", w.opts.SampleInterval.String(),
		"active_from_hour", w.opts.ActiveFromHour,
		"active_until_hour", w.opts.ActiveUntilHour)

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		w.refreshLoop(ctx)
	}()

	go func() {
		defer wg.Done()
		w.sampleLoop(ctx)
	}()

	wg.Wait()
	logger.Info(ctx, "Watcher stopped")

	return nil
}

// refreshLoop drives the token expiry checks for both vendors.
func (w *Watcher) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refreshTick(ctx)
		}
	}
}

// refreshTick runs one bounded expiry check across all stores.
func (w *Watcher) refreshTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, refreshTickTimeout)
	defer cancel()

	now := w.now()
	for _, store := range w.stores {
		if !store.EnsureFresh(tickCtx, now) {
			// The stale credential stays in use until a resource call
			// rejects it; the failure counter makes repeats visible.
			logger.ErrorKV(ctx, "Token refresh failed", "vendor", store.Name())
		}
	}
}

// sampleLoop drives the sample-decide-act cycle.
func (w *Watcher) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks run detached so the ticker keeps its cadence; the
			// single-flight guard in sampleTick drops overlapping ones.
			go w.sampleTick(ctx)
		}
	}
}

// sampleTick gates one tick on the daily window and the overlap guard,
// then runs the cycle under a bounded timeout.
func (w *Watcher) sampleTick(ctx context.Context) {
	now := w.now()

	if !w.opts.Debug && !w.inActiveWindow(now) {
		metrics.SampleCycles.WithLabelValues(metrics.CycleOutcomeOutOfWindow).Inc()
		logger.Debugf(ctx, "Outside active window, skipping sample tick")

		return
	}

	if !w.cycleRunning.CompareAndSwap(false, true) {
		metrics.SampleCycles.WithLabelValues(metrics.CycleOutcomeSkipped).Inc()
		logger.Warn(ctx, "Previous sample cycle still running, skipping tick")

		return
	}
	defer w.cycleRunning.Store(false)

	cycleCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	w.runSampleCycle(cycleCtx, now)
}

// runSampleCycle reads the sensor, decides and conditionally acts.
// Strictly sequential: the decision needs the fresh value, the action needs
// the decision.
func (w *Watcher) runSampleCycle(ctx context.Context, now time.Time) {
	reading, err := w.sensor.LatestReading(ctx)
	if err != nil {
		// The cycle aborts for this tick only, no alert state is mutated.
		metrics.SampleCycles.WithLabelValues(metrics.CycleOutcomeNoData).Inc()
		logger.ErrorKV(ctx, "Sensor read failed", "error", err)

		return
	}

	metrics.SampleCycles.WithLabelValues(metrics.CycleOutcomeOK).Inc()

	level := w.policy.Decide(reading.CO2, now)
	logger.InfoKV(ctx, "CO2 sampled", "ppm", reading.CO2, "decision", level.String())

	if level == alert.LevelNone {
		return
	}

	if err := w.runner.RunAlertSequence(ctx, level); err != nil {
		logger.ErrorKV(ctx, "Alert sequence failed", "level", level.String(), "error", err)
	}
}

// inActiveWindow reports whether the instant falls into the daily window,
// inclusive of the start hour and exclusive of the end hour.
func (w *Watcher) inActiveWindow(now time.Time) bool {
	hour := now.Hour()

	return hour >= w.opts.ActiveFromHour && hour < w.opts.ActiveUntilHour
}
