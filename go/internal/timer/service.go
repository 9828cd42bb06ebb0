package timer

import (
	"context"
	"math"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var accessCodeRe = regexp.MustCompile(`^[0-9]{6,}$`)

// ValidateAccessCode checks the access code format: ASCII digits only, at
// least six of them. It runs before every operation that touches the registry.
func ValidateAccessCode(raw string) (string, error) {
	if !accessCodeRe.MatchString(raw) {
		return "", ErrInvalidAccessCode
	}
	return raw, nil
}

// SnapshotStore persists the registry. Save overwrites the full snapshot
// after every mutation; Load seeds the registry at startup.
type SnapshotStore interface {
	Save(ctx context.Context, snapshots map[string]Snapshot) error
	Load(ctx context.Context) (map[string]Snapshot, error)
}

// Broadcaster pushes a status payload to every live subscriber of an access
// code. Delivery is fire-and-forget; the service never learns about
// individual subscriber failures.
type Broadcaster interface {
	Broadcast(accessCode string, status Status)
}

// MultiBroadcaster fans a status out to several broadcasters in order.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Broadcast(accessCode string, status Status) {
	for _, b := range m {
		b.Broadcast(accessCode, status)
	}
}

// Service owns the per-access-code timer state machine. Every control
// operation and every tick runs its full mutate-persist-broadcast sequence
// under one mutex, so at most one mutation is ever in flight per process.
type Service struct {
	mu          sync.Mutex
	registry    *Registry
	store       SnapshotStore
	broadcaster Broadcaster
	clock       clockwork.Clock
	tickers     *tickerTable

	// tickGen invalidates in-flight ticks when a control operation replaces
	// or stops a timer's tick loop. Guarded by mu.
	tickGen map[string]uint64
}

func NewService(registry *Registry, store SnapshotStore, clock clockwork.Clock) *Service {
	return &Service{
		registry: registry,
		store:    store,
		clock:    clock,
		tickers:  newTickerTable(),
		tickGen:  make(map[string]uint64),
	}
}

// SetBroadcaster wires the live-update fan-out. Called once during startup,
// before the service takes traffic.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

// Restore seeds the registry from the snapshot store. Entries without an id
// are discarded. Restored running timers are not given a ticker; they stay
// frozen until the next control operation.
func (s *Service) Restore(ctx context.Context) error {
	snapshots, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for accessCode, snap := range snapshots {
		if snap.ID == "" {
			continue
		}
		s.registry.Set(accessCode, FromSnapshot(snap))
		count++
	}

	log.Info().Int("count", count).Msg("restored timer states")
	return nil
}

// Start creates a fresh timer for the access code, replacing any existing
// entry, and begins the countdown.
func (s *Service) Start(ctx context.Context, accessCode string, durationSeconds float64) (Status, error) {
	code, err := ValidateAccessCode(accessCode)
	if err != nil {
		return Status{}, err
	}
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return Status{}, ErrInvalidDuration
	}
	duration := int64(math.Round(durationSeconds * TenthsPerSecond))
	if duration < 1 {
		return Status{}, ErrInvalidDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTickingLocked(code)

	t := &Timer{
		ID:         uuid.New().String(),
		AccessCode: code,
		Duration:   duration,
		Remaining:  duration,
		State:      StateRunning,
		StartTime:  s.clock.Now().UnixMilli(),
	}
	s.registry.Set(code, t)
	s.startTickingLocked(code, t.ID)

	s.persistLocked(ctx)
	s.broadcastLocked(code)

	log.Info().
		Str("access_code", code).
		Str("timer_id", t.ID).
		Float64("duration_sec", durationSeconds).
		Msg("timer started")

	return s.statusLocked(code), nil
}

// Stop halts the countdown and zeroes the remaining time. Unlike Pause, Stop
// is a full reset of the countdown position; the total duration is preserved.
func (s *Service) Stop(ctx context.Context, accessCode string) (Status, error) {
	code, err := ValidateAccessCode(accessCode)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.registry.Get(code)
	if !ok {
		return Status{}, ErrTimerNotFound
	}

	s.stopTickingLocked(code)
	t.State = StateIdle
	t.Remaining = 0

	s.persistLocked(ctx)
	s.broadcastLocked(code)

	log.Info().Str("access_code", code).Str("timer_id", t.ID).Msg("timer stopped")
	return s.statusLocked(code), nil
}

// Pause suspends a running countdown, retaining the remaining time.
func (s *Service) Pause(ctx context.Context, accessCode string) (Status, error) {
	code, err := ValidateAccessCode(accessCode)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.registry.Get(code)
	if !ok {
		return Status{}, ErrTimerNotFound
	}
	if t.State != StateRunning {
		return Status{}, ErrInvalidTransition
	}

	s.stopTickingLocked(code)
	t.State = StatePaused

	s.persistLocked(ctx)
	s.broadcastLocked(code)

	log.Info().Str("access_code", code).Str("timer_id", t.ID).Msg("timer paused")
	return s.statusLocked(code), nil
}

// Resume continues a paused countdown from its current remaining time.
func (s *Service) Resume(ctx context.Context, accessCode string) (Status, error) {
	code, err := ValidateAccessCode(accessCode)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.registry.Get(code)
	if !ok {
		return Status{}, ErrTimerNotFound
	}
	if t.State != StatePaused {
		return Status{}, ErrInvalidTransition
	}

	t.State = StateRunning
	s.startTickingLocked(code, t.ID)

	s.persistLocked(ctx)
	s.broadcastLocked(code)

	log.Info().Str("access_code", code).Str("timer_id", t.ID).Msg("timer resumed")
	return s.statusLocked(code), nil
}

// SetElapsed seeks the countdown to a given elapsed position. An elapsed value
// equal to the total duration completes the timer. If the timer is actively
// running, the tick loop is restarted so the new remaining time is honored.
func (s *Service) SetElapsed(ctx context.Context, accessCode string, elapsedSeconds float64) (ElapsedStatus, error) {
	code, err := ValidateAccessCode(accessCode)
	if err != nil {
		return ElapsedStatus{}, err
	}
	if elapsedSeconds < 0 || math.IsNaN(elapsedSeconds) || math.IsInf(elapsedSeconds, 0) {
		return ElapsedStatus{}, ErrInvalidElapsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.registry.Get(code)
	if !ok || t.ID == "" {
		return ElapsedStatus{}, ErrTimerNotFound
	}

	elapsed := int64(math.Round(elapsedSeconds * TenthsPerSecond))
	if elapsed > t.Duration {
		return ElapsedStatus{}, ErrElapsedExceedsDuration
	}

	if elapsed >= t.Duration {
		s.stopTickingLocked(code)
		t.Remaining = 0
		t.State = StateFinished
	} else {
		t.Remaining = t.Duration - elapsed
		if t.State == StateRunning {
			s.startTickingLocked(code, t.ID)
		}
	}

	s.persistLocked(ctx)
	s.broadcastLocked(code)

	log.Info().
		Str("access_code", code).
		Str("timer_id", t.ID).
		Float64("elapsed_sec", elapsedSeconds).
		Msg("timer elapsed time set")

	return ElapsedStatus{
		Status:         s.statusLocked(code),
		ElapsedTime:    elapsed,
		ElapsedSeconds: float64(elapsed) / TenthsPerSecond,
	}, nil
}

// Status returns the current projection for an access code. A code with no
// entry yields a default empty status, not an error.
func (s *Service) Status(accessCode string) (Status, error) {
	code, err := ValidateAccessCode(accessCode)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(code), nil
}

// ActiveTimers lists every entry that has an id, for diagnostics.
func (s *Service) ActiveTimers() []ActiveTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]ActiveTimer, 0)
	for _, t := range s.registry.All() {
		if t.ID == "" {
			continue
		}
		active = append(active, ActiveTimer{
			AccessCode:       t.AccessCode,
			ID:               t.ID,
			IsRunning:        t.State == StateRunning,
			IsPaused:         t.State == StatePaused,
			RemainingSeconds: float64(t.Remaining) / TenthsPerSecond,
		})
	}
	return active
}

// Close cancels every live tick loop and writes a final snapshot. Called at
// process shutdown.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code := range s.tickGen {
		s.tickGen[code]++
	}
	s.tickers.cancelAll()
	s.persistLocked(ctx)

	log.Info().Msg("timer service closed")
}

func (s *Service) statusLocked(accessCode string) Status {
	now := s.clock.Now().UnixMilli()

	t, ok := s.registry.Get(accessCode)
	if !ok {
		return Status{
			AccessCode: accessCode,
			Timestamp:  now,
			ServerTime: now,
			Precision:  1.0,
		}
	}

	id := t.ID
	status := Status{
		ID:               &id,
		AccessCode:       accessCode,
		Duration:         t.Duration,
		RemainingTime:    t.Remaining,
		DurationSeconds:  float64(t.Duration) / TenthsPerSecond,
		RemainingSeconds: float64(t.Remaining) / TenthsPerSecond,
		IsRunning:        t.State == StateRunning,
		IsPaused:         t.State == StatePaused,
		Timestamp:        now,
		ServerTime:       now,
		Precision:        1.0,
	}

	if t.State == StateRunning {
		end := now + t.Remaining*millisPerTenth
		status.TargetEndTime = &end
	}

	return status
}

// persistLocked writes the full registry snapshot. Best-effort: a failure is
// logged and the in-memory transition stands.
func (s *Service) persistLocked(ctx context.Context) {
	all := s.registry.All()
	snapshots := make(map[string]Snapshot, len(all))
	for _, t := range all {
		snapshots[t.AccessCode] = t.ToSnapshot()
	}

	if err := s.store.Save(ctx, snapshots); err != nil {
		log.Error().Err(err).Msg("failed to save timer states")
	}
}

func (s *Service) broadcastLocked(accessCode string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast(accessCode, s.statusLocked(accessCode))
}
