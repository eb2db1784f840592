package actuator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/co2light/co2light/internal/domain/alert"
	"github.com/co2light/co2light/internal/hue"
)

var errSceneUnavailable = errors.New("scene unavailable")

// fakeLights is an in-memory LightController recording every call.
type fakeLights struct {
	// mu guards all fields.
	mu sync.Mutex
	// groupStates records every pushed group state.
	groupStates []hue.GroupState
	// activations records every activated scene id.
	activations []string
	// scenes is the smart scene list to return.
	scenes []hue.SmartScene
	// sceneListCalls counts SmartScenes invocations.
	sceneListCalls int
	// activateErrs are popped one by one as activation results.
	activateErrs []error
}

func (f *fakeLights) SetGroupState(_ context.Context, _ string, state hue.GroupState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.groupStates = append(f.groupStates, state)

	return nil
}

func (f *fakeLights) SmartScenes(context.Context) ([]hue.SmartScene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sceneListCalls++

	return f.scenes, nil
}

func (f *fakeLights) ActivateSmartScene(_ context.Context, sceneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.activations = append(f.activations, sceneID)

	if len(f.activateErrs) == 0 {
		return nil
	}

	err := f.activateErrs[0]
	f.activateErrs = f.activateErrs[1:]

	return err
}

// baselineScenes is the scene list used by most tests.
func baselineScenes() []hue.SmartScene {
	return []hue.SmartScene{
		{ID: "scene-movie", Name: "Movie night"},
		{ID: "scene-natural", Name: "Natural light"},
	}
}

// noSleep is a delay primitive that returns immediately.
func noSleep(context.Context, time.Duration) {}

// TestRunAlertSequenceOrder verifies the color push, dwell and restore order
// and the palette mapping for danger.
func TestRunAlertSequenceOrder(t *testing.T) {
	t.Parallel()

	lights := &fakeLights{scenes: baselineScenes()}

	var slept []time.Duration

	a := New(lights, "1", "Natural light", WithSleep(func(_ context.Context, d time.Duration) {
		slept = append(slept, d)
	}))

	require.NoError(t, a.RunAlertSequence(context.Background(), alert.LevelDanger))

	require.Equal(t, []hue.GroupState{{On: true, Brightness: 254, XY: [2]float64{0.75, 0.27}}}, lights.groupStates)
	require.Equal(t, []string{"scene-natural"}, lights.activations)
	require.Equal(t, []time.Duration{DefaultDwell}, slept)
}

// TestRunAlertSequenceBaselineCached verifies the scene list is fetched once
// across sequences.
func TestRunAlertSequenceBaselineCached(t *testing.T) {
	t.Parallel()

	lights := &fakeLights{scenes: baselineScenes()}
	a := New(lights, "1", "Natural light", WithSleep(noSleep))

	require.NoError(t, a.RunAlertSequence(context.Background(), alert.LevelWarn))
	require.NoError(t, a.RunAlertSequence(context.Background(), alert.LevelClear))

	require.Equal(t, 1, lights.sceneListCalls)
	require.Equal(t, [2]float64{0.6, 0.39}, lights.groupStates[0].XY)
	require.Equal(t, [2]float64{0.3, 0.6}, lights.groupStates[1].XY)
}

// TestRunAlertSequenceAbortsWithoutBaseline verifies no light is touched
// when the configured scene name matches nothing.
func TestRunAlertSequenceAbortsWithoutBaseline(t *testing.T) {
	t.Parallel()

	lights := &fakeLights{scenes: baselineScenes()}
	a := New(lights, "1", "Renamed scene", WithSleep(noSleep))

	err := a.RunAlertSequence(context.Background(), alert.LevelDanger)
	require.ErrorIs(t, err, errBaselineNotFound)
	require.Empty(t, lights.groupStates)
	require.Empty(t, lights.activations)
}

// TestRestoreRetrySucceeds verifies one failed activation leads to exactly
// one retry after the cooldown and a clean sequence end.
func TestRestoreRetrySucceeds(t *testing.T) {
	t.Parallel()

	lights := &fakeLights{
		scenes:       baselineScenes(),
		activateErrs: []error{errSceneUnavailable},
	}

	var slept []time.Duration

	a := New(lights, "1", "Natural light", WithSleep(func(_ context.Context, d time.Duration) {
		slept = append(slept, d)
	}))

	require.NoError(t, a.RunAlertSequence(context.Background(), alert.LevelWarn))
	require.Equal(t, []string{"scene-natural", "scene-natural"}, lights.activations)
	require.Equal(t, []time.Duration{DefaultDwell, DefaultRetryCooldown}, slept)
}

// TestRestoreRetryExhausted verifies a second failure ends the sequence
// after exactly two attempts.
func TestRestoreRetryExhausted(t *testing.T) {
	t.Parallel()

	lights := &fakeLights{
		scenes:       baselineScenes(),
		activateErrs: []error{errSceneUnavailable, errSceneUnavailable},
	}
	a := New(lights, "1", "Natural light", WithSleep(noSleep))

	err := a.RunAlertSequence(context.Background(), alert.LevelDanger)
	require.ErrorIs(t, err, errRestoreFailed)
	require.Equal(t, []string{"scene-natural", "scene-natural"}, lights.activations)
}

// TestSingleFlight verifies a sequence arriving while another is in flight
// is dropped without touching the lights.
func TestSingleFlight(t *testing.T) {
	t.Parallel()

	lights := &fakeLights{scenes: baselineScenes()}

	entered := make(chan struct{})
	release := make(chan struct{})

	// The first sequence parks inside its dwell until released.
	a := New(lights, "1", "Natural light", WithSleep(func(context.Context, time.Duration) {
		close(entered)
		<-release
	}))

	done := make(chan error, 1)
	go func() {
		done <- a.RunAlertSequence(context.Background(), alert.LevelDanger)
	}()

	<-entered

	// Second invocation while the first holds the guard: dropped.
	require.NoError(t, a.RunAlertSequence(context.Background(), alert.LevelDanger))

	close(release)
	require.NoError(t, <-done)

	// Only the first sequence reached the lights.
	require.Len(t, lights.groupStates, 1)
	require.Equal(t, []string{"scene-natural"}, lights.activations)
}

// TestNoneLevelIsNoOp verifies levels outside the palette do nothing.
func TestNoneLevelIsNoOp(t *testing.T) {
	t.Parallel()

	lights := &fakeLights{scenes: baselineScenes()}
	a := New(lights, "1", "Natural light", WithSleep(noSleep))

	require.NoError(t, a.RunAlertSequence(context.Background(), alert.LevelNone))
	require.Empty(t, lights.groupStates)
	require.Zero(t, lights.sceneListCalls)
}
