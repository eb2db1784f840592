package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/co2light/co2light/internal/domain/alert"
	"github.com/co2light/co2light/internal/hue"
	"github.com/co2light/co2light/internal/logger"
	"github.com/co2light/co2light/internal/metrics"
)

// LightController is the subset of the Hue client the actuator drives.
type LightController interface {
	// SetGroupState pushes an immediate lighting state to a light group.
	SetGroupState(ctx context.Context, groupID string, state hue.GroupState) error
	// SmartScenes lists the vendor's smart scenes.
	SmartScenes(ctx context.Context) ([]hue.SmartScene, error)
	// ActivateSmartScene recalls the given smart scene.
	ActivateSmartScene(ctx context.Context, sceneID string) error
}

const (
	// DefaultDwell is how long the alert color stays visible before restore.
	DefaultDwell = 15 * time.Second

	// DefaultRetryCooldown is the pause before the single restore retry.
	DefaultRetryCooldown = 5 * time.Second

	// fullBrightness is the maximum Hue group brightness.
	fullBrightness = 254
)

var (
	// errBaselineNotFound means the configured scene name matched nothing.
	errBaselineNotFound = errors.New("baseline scene not found")
	// errRestoreFailed means both restore attempts failed and the room
	// stays in the alert color until the next successful sequence.
	errRestoreFailed = errors.New("baseline restore failed twice")
)

// palette maps decision levels to CIE color points.
//
//nolint:gochecknoglobals // Fixed policy, not configuration.
var palette = map[alert.Level][2]float64{
	alert.LevelClear:  {0.3, 0.6},
	alert.LevelWarn:   {0.6, 0.39},
	alert.LevelDanger: {0.75, 0.27},
}

// Actuator executes the alert side effect: push a color, hold it, restore
// the baseline scene. A sequence blocks for the dwell duration, so a
// single-flight guard drops sequences arriving while one is in progress.
type Actuator struct {
	// lights is the lighting vendor client.
	lights LightController
	// groupID is the light group driven during alerts.
	groupID string
	// baselineName is the configured name of the scene restored after an alert.
	baselineName string
	// dwell is how long the alert color stays visible.
	dwell time.Duration
	// cooldown is the pause before the single restore retry.
	cooldown time.Duration
	// sleep waits for a duration or context cancellation, injectable for tests.
	sleep func(ctx context.Context, d time.Duration)

	// seqMu is the single-flight guard around RunAlertSequence.
	seqMu sync.Mutex

	// baselineMu guards baseline.
	baselineMu sync.Mutex
	// baseline is the lazily resolved scene, nil until first resolution.
	baseline *hue.SmartScene
}

// Option configures an Actuator.
type Option func(*Actuator)

// WithDwell overrides the alert color hold duration.
func WithDwell(d time.Duration) Option {
	return func(a *Actuator) {
		if d > 0 {
			a.dwell = d
		}
	}
}

// WithRetryCooldown overrides the pause before the restore retry.
func WithRetryCooldown(d time.Duration) Option {
	return func(a *Actuator) {
		if d >= 0 {
			a.cooldown = d
		}
	}
}

// WithSleep overrides the delay primitive, used by tests to avoid real waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(a *Actuator) {
		if sleep != nil {
			a.sleep = sleep
		}
	}
}

// New creates an actuator for the given group and baseline scene name.
func New(lights LightController, groupID, baselineName string, opts ...Option) *Actuator {
	a := &Actuator{
		lights:       lights,
		groupID:      groupID,
		baselineName: baselineName,
		dwell:        DefaultDwell,
		cooldown:     DefaultRetryCooldown,
		sleep:        sleepContext,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// RunAlertSequence shows the level's color at full brightness, holds it for
// the dwell duration and restores the baseline scene, retrying the restore
// once. A sequence arriving while another is in flight is dropped, not
// queued: the policy debounce already spaces triggers further apart than a
// sequence lasts, so the guard only covers clock skew and manual triggers.
func (a *Actuator) RunAlertSequence(ctx context.Context, level alert.Level) error {
	xy, ok := palette[level]
	if !ok {
		return nil
	}

	if !a.seqMu.TryLock() {
		metrics.AlertSequencesDropped.Inc()
		logger.Warnf(ctx, "Alert sequence for %s dropped, another is in flight", level)

		return nil
	}
	defer a.seqMu.Unlock()

	// Resolve the baseline before touching any light: aborting here avoids
	// leaving the room in the alert color with nothing to restore.
	baseline, err := a.resolveBaseline(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Alert sequence aborted", "level", level.String(), "error", err)

		return err
	}

	metrics.AlertSequences.WithLabelValues(level.String()).Inc()
	logger.InfoKV(ctx, "Showing alert color", "level", level.String(), "group_id", a.groupID)

	state := hue.GroupState{On: true, Brightness: fullBrightness, XY: xy}
	if err := a.lights.SetGroupState(ctx, a.groupID, state); err != nil {
		return fmt.Errorf("set alert color: %w", err)
	}

	// Hold so the change is perceptible.
	a.sleep(ctx, a.dwell)

	return a.restoreBaseline(ctx, baseline)
}

// restoreBaseline activates the baseline scene with one retry after a cooldown.
func (a *Actuator) restoreBaseline(ctx context.Context, baseline *hue.SmartScene) error {
	if err := a.lights.ActivateSmartScene(ctx, baseline.ID); err == nil {
		logger.InfoKV(ctx, "Baseline scene restored", "scene", baseline.Name)

		return nil
	}

	metrics.RestoreRetries.Inc()
	a.sleep(ctx, a.cooldown)

	if err := a.lights.ActivateSmartScene(ctx, baseline.ID); err != nil {
		metrics.RestoreFailures.Inc()
		// The room deliberately stays in the alert color: pretending the
		// restore worked would mask a degraded device state.
		logger.WarnKV(ctx, "Baseline restore failed twice, lights left in alert color",
			"scene", baseline.Name, "error", err)

		return errRestoreFailed
	}

	logger.InfoKV(ctx, "Baseline scene restored on retry", "scene", baseline.Name)

	return nil
}

// resolveBaseline finds the configured scene by name, caching the result
// for the process lifetime. Absence is a configuration problem and is not
// retried automatically beyond the next sequence.
func (a *Actuator) resolveBaseline(ctx context.Context) (*hue.SmartScene, error) {
	a.baselineMu.Lock()
	defer a.baselineMu.Unlock()

	if a.baseline != nil {
		return a.baseline, nil
	}

	scenes, err := a.lights.SmartScenes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list smart scenes: %w", err)
	}

	for _, scene := range scenes {
		if scene.Name == a.baselineName {
			logger.InfoKV(ctx, "Baseline scene resolved", "scene", scene.Name, "id", scene.ID)
			a.baseline = &scene

			return a.baseline, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", errBaselineNotFound, a.baselineName)
}

// sleepContext waits for the duration or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
