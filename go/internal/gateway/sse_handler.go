package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesync/go/internal/timer"
)

var errStreamClosed = errors.New("stream closed")

// sseSendBuffer is how many status payloads may queue for one stream before
// the subscriber is considered stalled and dropped.
const sseSendBuffer = 64

// sseSink queues status payloads for one open event-stream response. Send
// never blocks: payloads go onto a buffered channel drained by serve, and a
// full buffer fails the Send, which makes the hub drop the subscriber. A
// stalled client therefore stalls only its own stream, never a broadcast.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	sendCh  chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newSSESink(w http.ResponseWriter, flusher http.Flusher) *sseSink {
	return &sseSink{
		w:       w,
		flusher: flusher,
		sendCh:  make(chan []byte, sseSendBuffer),
		done:    make(chan struct{}),
	}
}

func (s *sseSink) Send(payload []byte) error {
	select {
	case s.sendCh <- payload:
		return nil
	case <-s.done:
		return errStreamClosed
	default:
		s.close()
		return errSendBufferFull
	}
}

func (s *sseSink) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// serve drains queued payloads onto the response until the request context
// ends, the sink is dropped, or a write fails. It runs on the handler
// goroutine so the ResponseWriter is never touched after the handler returns.
func (s *sseSink) serve(ctx context.Context) {
	defer s.close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case payload := <-s.sendCh:
			if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
				return
			}
			s.flusher.Flush()
		}
	}
}

// StreamHandler serves the Server-Sent Events live-update stream.
type StreamHandler struct {
	hub *Hub
}

func NewStreamHandler(hub *Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// HandleStream subscribes the caller to status updates for one access code.
// The connection stays open until the client disconnects or stops reading.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("accessCode")
	if raw == "" {
		raw = r.Header.Get("X-Access-Code")
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Access code is required. Please provide it in query parameters or X-Access-Code header.")
		return
	}

	accessCode, err := timer.ValidateAccessCode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := newSSESink(w, flusher)
	h.hub.Subscribe(accessCode, sink)

	log.Info().Str("access_code", accessCode).Msg("SSE stream opened")

	sink.serve(r.Context())

	h.hub.Unsubscribe(accessCode, sink)
	log.Info().Str("access_code", accessCode).Msg("SSE stream closed")
}
