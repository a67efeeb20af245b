package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hark-voice/hark/pkg/types"
)

// subscriberBuf is the per-subscriber event queue depth. A subscriber that
// falls this far behind starts losing events rather than stalling the
// pipeline's turn loop.
const subscriberBuf = 16

// writeTimeout bounds a single websocket write to a subscriber.
const writeTimeout = 5 * time.Second

// TurnEvent is one completed pipeline turn as published on /events.
type TurnEvent struct {
	Seq     uint64 `json:"seq"`
	Text    string `json:"text"`
	Task    string `json:"task"`
	Tier    string `json:"tier"`
	Outcome string `json:"outcome"`
	At      string `json:"at"`
}

// Hub fans completed turns out to websocket subscribers. It implements the
// pipeline's notifier contract: TurnCompleted never blocks.
type Hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// TurnCompleted publishes the turn to every connected subscriber. Slow
// subscribers drop events.
func (h *Hub) TurnCompleted(turn types.ContextTurn) {
	ev := TurnEvent{
		Seq:     turn.Transcript.Seq,
		Text:    turn.Transcript.Text,
		Task:    string(turn.Classification.Task),
		Tier:    string(turn.Classification.Tier),
		Outcome: string(turn.Outcome),
		At:      turn.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("monitor: event marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// Subscribers returns the number of connected event subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and streams turn events
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("monitor: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case data := <-ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
