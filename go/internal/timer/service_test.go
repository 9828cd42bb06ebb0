package timer

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory SnapshotStore recording every save.
type memStore struct {
	mu        sync.Mutex
	saved     map[string]Snapshot
	saveCount int
	failSaves bool
}

func newMemStore() *memStore {
	return &memStore{saved: map[string]Snapshot{}}
}

func (m *memStore) Save(ctx context.Context, snapshots map[string]Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves {
		return assert.AnError
	}
	m.saved = make(map[string]Snapshot, len(snapshots))
	for k, v := range snapshots {
		m.saved[k] = v
	}
	m.saveCount++
	return nil
}

func (m *memStore) Load(ctx context.Context) (map[string]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Snapshot, len(m.saved))
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) lastSaved(accessCode string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.saved[accessCode]
	return s, ok
}

func (m *memStore) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

// recordingBroadcaster captures every broadcast status.
type recordingBroadcaster struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *recordingBroadcaster) Broadcast(accessCode string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingBroadcaster) last() (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Status{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

func newTestService(clock clockwork.Clock) (*Service, *memStore, *recordingBroadcaster) {
	store := newMemStore()
	bc := &recordingBroadcaster{}
	svc := NewService(NewRegistry(), store, clock)
	svc.SetBroadcaster(bc)
	return svc, store, bc
}

func remaining(svc *Service, accessCode string) int64 {
	status, err := svc.Status(accessCode)
	if err != nil {
		return -1
	}
	return status.RemainingTime
}

func TestValidateAccessCode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"six digits", "123456", false},
		{"more than six digits", "1234567890", false},
		{"too short", "12345", true},
		{"empty", "", true},
		{"letters", "12345a", true},
		{"whitespace", "123456 ", true},
		{"unicode digits", "１２３４５６", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := ValidateAccessCode(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAccessCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.raw, code)
			}
		})
	}
}

func TestStart(t *testing.T) {
	svc, store, bc := newTestService(clockwork.NewFakeClock())

	status, err := svc.Start(context.Background(), "123456", 5)
	require.NoError(t, err)

	assert.Equal(t, int64(50), status.Duration)
	assert.Equal(t, int64(50), status.RemainingTime)
	assert.Equal(t, 5.0, status.DurationSeconds)
	assert.True(t, status.IsRunning)
	assert.False(t, status.IsPaused)
	require.NotNil(t, status.ID)
	assert.NotEmpty(t, *status.ID)
	require.NotNil(t, status.TargetEndTime)
	assert.Equal(t, status.ServerTime+50*100, *status.TargetEndTime)

	snap, ok := store.lastSaved("123456")
	require.True(t, ok)
	assert.Equal(t, int64(50), snap.RemainingTime)
	assert.True(t, snap.IsRunning)

	last, ok := bc.last()
	require.True(t, ok)
	assert.Equal(t, int64(50), last.RemainingTime)
}

func TestStartFractionalDurationRoundsToTenths(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())

	status, err := svc.Start(context.Background(), "123456", 2.55)
	require.NoError(t, err)
	assert.Equal(t, int64(26), status.Duration)
}

func TestStartInvalidArguments(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Start(ctx, "12345", 5)
	require.ErrorIs(t, err, ErrInvalidAccessCode)

	for _, d := range []float64{0, -1, math.NaN(), math.Inf(1), 0.01} {
		_, err := svc.Start(ctx, "123456", d)
		require.ErrorIs(t, err, ErrInvalidDuration, "duration %v", d)
	}
}

func TestStartReplacesExistingTimer(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	first, err := svc.Start(ctx, "123456", 5)
	require.NoError(t, err)
	second, err := svc.Start(ctx, "123456", 9)
	require.NoError(t, err)

	assert.NotEqual(t, *first.ID, *second.ID)
	assert.Equal(t, int64(90), second.Duration)
	assert.Equal(t, int64(90), second.RemainingTime)
}

func TestStopZeroesRemainingAndPreservesDuration(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Start(ctx, "123456", 5)
	require.NoError(t, err)

	status, err := svc.Stop(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.RemainingTime)
	assert.Equal(t, int64(50), status.Duration)
	assert.False(t, status.IsRunning)
	assert.False(t, status.IsPaused)
	assert.Nil(t, status.TargetEndTime)

	// Stopping again is a no-op on the tick side and leaves remaining at zero.
	status, err = svc.Stop(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.RemainingTime)
}

func TestStopWithoutTimer(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())

	_, err := svc.Stop(context.Background(), "123456")
	require.ErrorIs(t, err, ErrTimerNotFound)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Start(ctx, "123456", 5)
	require.NoError(t, err)

	paused, err := svc.Pause(ctx, "123456")
	require.NoError(t, err)
	assert.False(t, paused.IsRunning)
	assert.True(t, paused.IsPaused)
	assert.Equal(t, int64(50), paused.RemainingTime)
	assert.Nil(t, paused.TargetEndTime)

	resumed, err := svc.Resume(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, resumed.IsRunning)
	assert.False(t, resumed.IsPaused)
	assert.Equal(t, int64(50), resumed.RemainingTime)
}

func TestPauseResumeTransitions(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Pause(ctx, "123456")
	require.ErrorIs(t, err, ErrTimerNotFound)
	_, err = svc.Resume(ctx, "123456")
	require.ErrorIs(t, err, ErrTimerNotFound)

	_, err = svc.Start(ctx, "123456", 5)
	require.NoError(t, err)

	// Resuming a running timer is illegal.
	_, err = svc.Resume(ctx, "123456")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Stop(ctx, "123456")
	require.NoError(t, err)

	// Pausing a stopped timer is illegal.
	_, err = svc.Pause(ctx, "123456")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetElapsed(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Start(ctx, "123456", 5)
	require.NoError(t, err)

	status, err := svc.SetElapsed(ctx, "123456", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), status.RemainingTime)
	assert.Equal(t, int64(40), status.ElapsedTime)
	assert.Equal(t, 4.0, status.ElapsedSeconds)
	assert.True(t, status.IsRunning)
}

func TestSetElapsedCompletesAtFullDuration(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Start(ctx, "123456", 5)
	require.NoError(t, err)

	status, err := svc.SetElapsed(ctx, "123456", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.RemainingTime)
	assert.False(t, status.IsRunning)
	assert.False(t, status.IsPaused)

	_, err = svc.SetElapsed(ctx, "123456", 5.1)
	require.ErrorIs(t, err, ErrElapsedExceedsDuration)
}

func TestSetElapsedInvalidArguments(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.SetElapsed(ctx, "123456", 1)
	require.ErrorIs(t, err, ErrTimerNotFound)

	_, err = svc.Start(ctx, "123456", 5)
	require.NoError(t, err)

	for _, e := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := svc.SetElapsed(ctx, "123456", e)
		require.ErrorIs(t, err, ErrInvalidElapsed, "elapsed %v", e)
	}
}

func TestStatusDefaultsWhenAbsent(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())

	status, err := svc.Status("999999")
	require.NoError(t, err)
	assert.Nil(t, status.ID)
	assert.Equal(t, "999999", status.AccessCode)
	assert.Equal(t, int64(0), status.Duration)
	assert.Equal(t, int64(0), status.RemainingTime)
	assert.False(t, status.IsRunning)
	assert.False(t, status.IsPaused)
	assert.Nil(t, status.TargetEndTime)
	assert.Equal(t, 1.0, status.Precision)

	_, err = svc.Status("bad")
	require.ErrorIs(t, err, ErrInvalidAccessCode)
}

func TestTickCountdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc, _, _ := newTestService(clock)
	defer svc.Close(context.Background())

	_, err := svc.Start(context.Background(), "123456", 3)
	require.NoError(t, err)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return remaining(svc, "123456") == 20
	}, time.Second, 2*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return remaining(svc, "123456") == 10
	}, time.Second, 2*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		status, err := svc.Status("123456")
		return err == nil && status.RemainingTime == 0 && !status.IsRunning && !status.IsPaused
	}, time.Second, 2*time.Millisecond)

	// A finished timer never decrements below zero.
	clock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), remaining(svc, "123456"))
}

func TestPauseStopsTicking(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc, _, _ := newTestService(clock)
	defer svc.Close(context.Background())

	_, err := svc.Start(context.Background(), "123456", 5)
	require.NoError(t, err)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return remaining(svc, "123456") == 40
	}, time.Second, 2*time.Millisecond)

	_, err = svc.Pause(context.Background(), "123456")
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(40), remaining(svc, "123456"))
}

func TestSetElapsedWhileRunningRestartsCountdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc, _, _ := newTestService(clock)
	defer svc.Close(context.Background())
	ctx := context.Background()

	_, err := svc.Start(ctx, "123456", 5)
	require.NoError(t, err)

	status, err := svc.SetElapsed(ctx, "123456", 3)
	require.NoError(t, err)
	require.Equal(t, int64(20), status.RemainingTime)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return remaining(svc, "123456") == 10
	}, time.Second, 2*time.Millisecond)
}

func TestBroadcastAndPersistOnEveryMutation(t *testing.T) {
	svc, store, bc := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Start(ctx, "123456", 5)
	require.NoError(t, err)
	_, err = svc.Pause(ctx, "123456")
	require.NoError(t, err)
	_, err = svc.Resume(ctx, "123456")
	require.NoError(t, err)
	_, err = svc.Stop(ctx, "123456")
	require.NoError(t, err)

	assert.Equal(t, 4, bc.count())
	assert.Equal(t, 4, store.saves())
}

func TestPersistenceFailureDoesNotFailOperation(t *testing.T) {
	store := newMemStore()
	store.failSaves = true
	svc := NewService(NewRegistry(), store, clockwork.NewFakeClock())
	svc.SetBroadcaster(&recordingBroadcaster{})

	status, err := svc.Start(context.Background(), "123456", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(50), status.RemainingTime)
}

func TestRestore(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newMemStore()
	store.saved = map[string]Snapshot{
		"123456": {
			ID:            "timer-1",
			AccessCode:    "123456",
			Duration:      50,
			RemainingTime: 30,
			IsRunning:     true,
		},
		"222222": {
			ID:            "timer-2",
			AccessCode:    "222222",
			Duration:      100,
			RemainingTime: 70,
			IsPaused:      true,
		},
		"333333": {
			AccessCode: "333333",
		},
	}

	svc := NewService(NewRegistry(), store, clock)
	svc.SetBroadcaster(&recordingBroadcaster{})
	require.NoError(t, svc.Restore(context.Background()))

	status, err := svc.Status("123456")
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
	assert.Equal(t, int64(30), status.RemainingTime)

	status, err = svc.Status("222222")
	require.NoError(t, err)
	assert.True(t, status.IsPaused)
	assert.Equal(t, int64(70), status.RemainingTime)

	// Entries with no id are discarded during restore.
	status, err = svc.Status("333333")
	require.NoError(t, err)
	assert.Nil(t, status.ID)

	// A restored running timer has no live ticker until a control operation.
	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(30), remaining(svc, "123456"))
}

func TestActiveTimers(t *testing.T) {
	svc, _, _ := newTestService(clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Start(ctx, "123456", 5)
	require.NoError(t, err)
	_, err = svc.Start(ctx, "654321", 10)
	require.NoError(t, err)
	_, err = svc.Pause(ctx, "654321")
	require.NoError(t, err)

	active := svc.ActiveTimers()
	require.Len(t, active, 2)

	byCode := make(map[string]ActiveTimer, len(active))
	for _, a := range active {
		byCode[a.AccessCode] = a
	}
	assert.True(t, byCode["123456"].IsRunning)
	assert.Equal(t, 5.0, byCode["123456"].RemainingSeconds)
	assert.True(t, byCode["654321"].IsPaused)
	assert.Equal(t, 10.0, byCode["654321"].RemainingSeconds)
}

func TestScenarioStartPauseResumeSeek(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc, _, _ := newTestService(clock)
	defer svc.Close(context.Background())
	ctx := context.Background()

	status, err := svc.Start(ctx, "123456", 5)
	require.NoError(t, err)
	require.Equal(t, int64(50), status.Duration)
	require.Equal(t, int64(50), status.RemainingTime)

	for _, want := range []int64{40, 30} {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
		require.Eventually(t, func() bool {
			return remaining(svc, "123456") == want
		}, time.Second, 2*time.Millisecond)
	}

	paused, err := svc.Pause(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, int64(30), paused.RemainingTime)
	require.False(t, paused.IsRunning)
	require.True(t, paused.IsPaused)

	resumed, err := svc.Resume(ctx, "123456")
	require.NoError(t, err)
	require.True(t, resumed.IsRunning)
	require.Equal(t, int64(30), resumed.RemainingTime)

	seeked, err := svc.SetElapsed(ctx, "123456", 4)
	require.NoError(t, err)
	require.Equal(t, int64(10), seeked.RemainingTime)
}
