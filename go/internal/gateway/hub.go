// Package gateway exposes the timer service over HTTP: control endpoints,
// an SSE stream, a WebSocket stream, and an optional NATS status feed.
package gateway

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesync/go/internal/timer"
)

// Sink is one live-update destination. Send must return an error when the
// underlying transport can no longer accept payloads; the hub drops the sink
// in response.
type Sink interface {
	Send(payload []byte) error
}

// StatusProvider supplies the current status of an access code, so a new
// subscriber sees state immediately instead of waiting for the next change.
type StatusProvider interface {
	Status(accessCode string) (timer.Status, error)
}

// Hub maintains the per-access-code subscriber sets and fans status payloads
// out to them. Membership is self-healing: a sink whose write fails is removed
// as a side effect of the failed push, with no separate heartbeat.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string][]Sink
	provider    StatusProvider
}

func NewHub(provider StatusProvider) *Hub {
	return &Hub{
		subscribers: make(map[string][]Sink),
		provider:    provider,
	}
}

// Subscribe pushes the current status to a sink and then registers it for
// live updates, even when no timer exists yet. The push happens before
// registration so the sink can never observe a broadcast payload ahead of an
// older initial one; a sink whose initial push fails is never registered.
func (h *Hub) Subscribe(accessCode string, sink Sink) {
	status, err := h.provider.Status(accessCode)
	if err != nil {
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal initial status")
		return
	}
	if err := sink.Send(payload); err != nil {
		log.Warn().Err(err).Str("access_code", accessCode).Msg("failed to send initial status, dropping subscriber")
		return
	}

	h.mu.Lock()
	h.subscribers[accessCode] = append(h.subscribers[accessCode], sink)
	total := len(h.subscribers[accessCode])
	h.mu.Unlock()

	log.Debug().Str("access_code", accessCode).Int("subscribers", total).Msg("subscriber registered")
}

// Unsubscribe removes a sink. Removing the last sink for an access code frees
// that code's subscriber set. Safe to call for sinks already removed.
func (h *Hub) Unsubscribe(accessCode string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(accessCode, sink)
}

// Broadcast pushes a status to every current subscriber of an access code.
// The payload is marshalled once; sinks whose write fails are removed. Push
// order across sinks is not guaranteed to matter and pushes are not retried.
func (h *Hub) Broadcast(accessCode string, status timer.Status) {
	payload, err := json.Marshal(status)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal status for broadcast")
		return
	}

	h.mu.Lock()
	sinks := make([]Sink, len(h.subscribers[accessCode]))
	copy(sinks, h.subscribers[accessCode])
	h.mu.Unlock()

	var failed []Sink
	for _, sink := range sinks {
		if err := sink.Send(payload); err != nil {
			log.Warn().Err(err).Str("access_code", accessCode).Msg("subscriber write failed, removing")
			failed = append(failed, sink)
		}
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, sink := range failed {
			h.removeLocked(accessCode, sink)
		}
		h.mu.Unlock()
	}
}

// SubscriberCount reports how many sinks are registered for an access code.
func (h *Hub) SubscriberCount(accessCode string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[accessCode])
}

// removeLocked is the single removal path shared by explicit unsubscribes and
// failed pushes. Caller must hold h.mu.
func (h *Hub) removeLocked(accessCode string, sink Sink) {
	sinks := h.subscribers[accessCode]
	for i, s := range sinks {
		if s == sink {
			h.subscribers[accessCode] = append(sinks[:i], sinks[i+1:]...)
			break
		}
	}
	if len(h.subscribers[accessCode]) == 0 {
		delete(h.subscribers, accessCode)
	}
}
