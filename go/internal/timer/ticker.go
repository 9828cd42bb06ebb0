package timer

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// tickerTable tracks the cancellation handle for each access code's live tick
// loop. It is a runtime-only side table; ticker handles are never part of the
// persisted snapshot. At most one tick loop exists per access code.
type tickerTable struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newTickerTable() *tickerTable {
	return &tickerTable{
		cancels: make(map[string]context.CancelFunc),
	}
}

// replace atomically swaps in a new cancellation handle for an access code,
// cancelling any existing tick loop first. Cancelling the old loop before the
// new one starts is what prevents duplicate concurrent decrement streams.
func (tt *tickerTable) replace(accessCode string, cancel context.CancelFunc) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if existing, ok := tt.cancels[accessCode]; ok {
		existing()
		log.Debug().Str("access_code", accessCode).Msg("replaced existing ticker")
	}
	tt.cancels[accessCode] = cancel
}

// cancel stops the tick loop for an access code. Idempotent: cancelling a code
// with no live loop is a no-op.
func (tt *tickerTable) cancel(accessCode string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if existing, ok := tt.cancels[accessCode]; ok {
		existing()
		delete(tt.cancels, accessCode)
	}
}

// cancelAll stops every live tick loop. Used at shutdown.
func (tt *tickerTable) cancelAll() {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	for accessCode, cancel := range tt.cancels {
		cancel()
		delete(tt.cancels, accessCode)
	}
}

// startTickingLocked launches the tick loop for a timer, replacing any
// existing loop for the same access code. Caller must hold s.mu.
func (s *Service) startTickingLocked(accessCode, timerID string) {
	s.tickGen[accessCode]++
	gen := s.tickGen[accessCode]

	ctx, cancel := context.WithCancel(context.Background())
	s.tickers.replace(accessCode, cancel)

	go s.runTicker(ctx, accessCode, timerID, gen)
}

// stopTickingLocked cancels the tick loop for an access code and invalidates
// any tick already in flight. Caller must hold s.mu.
func (s *Service) stopTickingLocked(accessCode string) {
	s.tickGen[accessCode]++
	s.tickers.cancel(accessCode)
}

func (s *Service) runTicker(ctx context.Context, accessCode, timerID string, gen uint64) {
	ticker := s.clock.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !s.tick(accessCode, timerID, gen) {
				return
			}
		}
	}
}

// tick applies one countdown decrement. It returns false when the loop should
// end, either because the timer finished or because this loop has been
// superseded. Persistence and broadcast failures are contained inside their
// components; a tick has no caller to fail.
func (s *Service) tick(accessCode, timerID string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A control operation may have replaced or transitioned the timer between
	// this tick firing and the lock being acquired. Stale ticks are dropped.
	if s.tickGen[accessCode] != gen {
		return false
	}

	t, ok := s.registry.Get(accessCode)
	if !ok || t.ID != timerID || t.State != StateRunning {
		return false
	}

	t.Remaining -= TenthsPerTick
	if t.Remaining <= 0 {
		t.Remaining = 0
		t.State = StateFinished
		s.stopTickingLocked(accessCode)
		s.persistLocked(context.Background())
		s.broadcastLocked(accessCode)
		log.Info().Str("access_code", accessCode).Str("timer_id", timerID).Msg("timer finished")
		return false
	}

	s.persistLocked(context.Background())
	s.broadcastLocked(accessCode)
	return true
}
