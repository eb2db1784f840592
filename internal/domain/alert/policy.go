package alert

import "time"

// Level classifies a CO2 reading relative to the fixed thresholds.
type Level int

const (
	// LevelNone means no lighting action is required.
	LevelNone Level = iota
	// LevelClear confirms recovery shortly after an alert.
	LevelClear
	// LevelWarn signals an elevated CO2 concentration.
	LevelWarn
	// LevelDanger signals a critical CO2 concentration.
	LevelDanger
)

// String returns a human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelClear:
		return "clear"
	case LevelWarn:
		return "warn"
	case LevelDanger:
		return "danger"
	default:
		return "none"
	}
}

const (
	// WarnThresholdPPM is the concentration above which a reading is elevated.
	WarnThresholdPPM = 800.0
	// DangerThresholdPPM is the concentration above which a reading is critical.
	DangerThresholdPPM = 1500.0

	// RetriggerWindow is the minimum time between two warn/danger firings.
	// CO2 decays slowly, without it the lights would flash every sample tick
	// while the room stays elevated.
	RetriggerWindow = 6*time.Minute + 30*time.Second

	// ClearWindow is the post-alert interval during which a low reading
	// actively confirms recovery. Outside it, low readings stay silent.
	ClearWindow = 5 * time.Minute
)

// Policy decides whether a reading should drive the lights.
// The only memory it keeps is the instant of the last warn/danger firing.
// It is not safe for concurrent use; the sample loop is its single caller.
type Policy struct {
	// lastAlertAt is when the last warn/danger decision fired, zero if never.
	lastAlertAt time.Time
}

// Decide maps a CO2 concentration and the current instant to a level.
//
// Window convention (inclusive lower bounds, see DESIGN.md): warn/danger
// fire iff at least RetriggerWindow elapsed since the last firing, and
// firing updates that instant. Clear fires iff a previous alert fired less
// than ClearWindow ago and does not touch the stored instant. Readings at
// exactly WarnThresholdPPM match no band and decide nothing.
func (p *Policy) Decide(ppm float64, now time.Time) Level {
	switch {
	case ppm > DangerThresholdPPM:
		if !p.fire(now) {
			return LevelNone
		}

		return LevelDanger
	case ppm > WarnThresholdPPM:
		if !p.fire(now) {
			return LevelNone
		}

		return LevelWarn
	case ppm < WarnThresholdPPM:
		if p.lastAlertAt.IsZero() || now.Sub(p.lastAlertAt) >= ClearWindow {
			return LevelNone
		}

		return LevelClear
	default:
		return LevelNone
	}
}

// LastAlertAt returns the instant of the last warn/danger firing, zero if none.
func (p *Policy) LastAlertAt() time.Time {
	return p.lastAlertAt
}

// fire reports whether a warn/danger decision may fire now and records it if so.
func (p *Policy) fire(now time.Time) bool {
	if !p.lastAlertAt.IsZero() && now.Sub(p.lastAlertAt) < RetriggerWindow {
		return false
	}

	p.lastAlertAt = now

	return true
}
