package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"aerocdp/core/events"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// Hub fans committed events out to websocket subscribers. Slow subscribers
// lose events rather than stall the engine.
type Hub struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan EventView
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan EventView)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(e events.Event) {
	typed, ok := e.(events.Typed)
	if h == nil || !ok {
		return
	}
	rendered := typed.Event()
	view := EventView{Type: rendered.Type, Attributes: rendered.Attributes}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- view:
		default:
			h.dropped++
		}
	}
}

// Subscribe registers a subscriber and returns its channel and cancel func.
func (h *Hub) Subscribe() (<-chan EventView, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan EventView, subscriberBuffer)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
		return
	}
	filter := strings.TrimSpace(r.URL.Query().Get("type"))
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, badRequest("after must be an event id"))
			return
		}
		after = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter string, after uint64) error {
	updates, cancel := s.hub.Subscribe()
	defer cancel()

	if after > 0 && s.journal != nil {
		backlog, err := s.journal.Events(ctx, filter, after, 500)
		if err != nil {
			return err
		}
		for _, record := range backlog {
			view, err := journalView(record)
			if err != nil {
				return err
			}
			if err := writeEvent(ctx, conn, view); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case view, ok := <-updates:
			if !ok {
				return nil
			}
			if filter != "" && view.Type != filter {
				continue
			}
			if err := writeEvent(ctx, conn, view); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, view EventView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// Dropped reports the number of events discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
