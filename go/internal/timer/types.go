package timer

import "time"

const (
	// TenthsPerSecond is the fixed-point scale for all internal duration math.
	// Durations are stored as integer tenths of a second to avoid floating
	// point drift across many decrements.
	TenthsPerSecond = 10

	// TenthsPerTick is how many tenths one tick removes from the remaining time.
	TenthsPerTick = 10

	// TickInterval is the wall-clock period of the countdown tick.
	TickInterval = time.Second

	// millisPerTenth converts remaining tenths into a wall-clock offset.
	millisPerTenth = 100
)

// State is the lifecycle state of a timer entry.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateFinished State = "finished"
)

// Timer is one registry entry, keyed by access code. The live ticker for a
// running timer is tracked separately by the Service; a Timer itself is plain
// data and can be snapshotted as-is.
type Timer struct {
	ID         string
	AccessCode string
	Duration   int64 // total duration in tenths
	Remaining  int64 // remaining duration in tenths
	State      State
	StartTime  int64 // wall-clock creation time, epoch ms
	PausedTime int64 // reserved in the snapshot format
}

// Snapshot is the persisted projection of a Timer.
type Snapshot struct {
	ID            string `json:"id"`
	AccessCode    string `json:"accessCode"`
	Duration      int64  `json:"duration"`
	RemainingTime int64  `json:"remainingTime"`
	IsRunning     bool   `json:"isRunning"`
	IsPaused      bool   `json:"isPaused"`
	StartTime     int64  `json:"startTime"`
	PausedTime    int64  `json:"pausedTime"`
}

// ToSnapshot projects the timer into its persisted form.
func (t *Timer) ToSnapshot() Snapshot {
	return Snapshot{
		ID:            t.ID,
		AccessCode:    t.AccessCode,
		Duration:      t.Duration,
		RemainingTime: t.Remaining,
		IsRunning:     t.State == StateRunning,
		IsPaused:      t.State == StatePaused,
		StartTime:     t.StartTime,
		PausedTime:    t.PausedTime,
	}
}

// FromSnapshot rebuilds a Timer from its persisted form. A restored running
// timer is seeded without a live ticker; it stays frozen until the next
// control operation.
func FromSnapshot(s Snapshot) *Timer {
	state := StateIdle
	switch {
	case s.IsRunning:
		state = StateRunning
	case s.IsPaused:
		state = StatePaused
	case s.Duration > 0 && s.RemainingTime == 0:
		state = StateFinished
	}

	return &Timer{
		ID:         s.ID,
		AccessCode: s.AccessCode,
		Duration:   s.Duration,
		Remaining:  s.RemainingTime,
		State:      state,
		StartTime:  s.StartTime,
		PausedTime: s.PausedTime,
	}
}

// Status is the projection pushed to subscribers on every change and returned
// by the status operation. targetEndTime lets a subscriber extrapolate the
// remaining time locally between pushes.
type Status struct {
	ID               *string `json:"id"`
	AccessCode       string  `json:"accessCode"`
	Duration         int64   `json:"duration"`
	RemainingTime    int64   `json:"remainingTime"`
	DurationSeconds  float64 `json:"durationSeconds"`
	RemainingSeconds float64 `json:"remainingSeconds"`
	IsRunning        bool    `json:"isRunning"`
	IsPaused         bool    `json:"isPaused"`
	Timestamp        int64   `json:"timestamp"`
	ServerTime       int64   `json:"serverTime"`
	TargetEndTime    *int64  `json:"targetEndTime"`
	Precision        float64 `json:"precision"`
}

// ElapsedStatus is the status returned by SetElapsed, extended with the
// applied elapsed value.
type ElapsedStatus struct {
	Status
	ElapsedTime    int64   `json:"elapsedTime"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

// ActiveTimer is one row of the admin listing of timers that have an id.
type ActiveTimer struct {
	AccessCode       string  `json:"accessCode"`
	ID               string  `json:"id"`
	IsRunning        bool    `json:"isRunning"`
	IsPaused         bool    `json:"isPaused"`
	RemainingSeconds float64 `json:"remainingSeconds"`
}
