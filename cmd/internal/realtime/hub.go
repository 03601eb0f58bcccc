// Package realtime pushes alerts to connected sessions over websockets.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sullivanpt/in-true-life-1/cmd/identity/ids"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/alerts"
)

// Gauge tracks connected clients. *metrics.Metrics satisfies it.
type Gauge interface {
	AlertClients(delta float64)
}

// Hub indexes live clients by session and fans alerts out to them.
//
// Join and Leave are safe under concurrent Deliver. Deliver never blocks:
// a client whose queue is full misses the frame and can catch up with
// GET /me/alerts.
type Hub struct {
	log   *slog.Logger
	gauge Gauge

	mu       sync.RWMutex
	sessions map[string]map[string]*Client
}

// NewHub constructs a Hub. gauge may be nil.
func NewHub(log *slog.Logger, gauge Gauge) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		gauge:    gauge,
		sessions: make(map[string]map[string]*Client),
	}
}

// Join registers client under its session.
func (h *Hub) Join(client *Client) {
	if h == nil || client == nil || client.SessionID == "" || client.ID == "" {
		return
	}

	h.mu.Lock()
	set := h.sessions[client.SessionID]
	if set == nil {
		set = make(map[string]*Client)
		h.sessions[client.SessionID] = set
	}
	_, existed := set[client.ID]
	set[client.ID] = client
	h.mu.Unlock()

	if !existed && h.gauge != nil {
		h.gauge.AlertClients(1)
	}
	h.log.Info("realtime.client.join", "client", client.ID)
}

// Leave removes client and signals it to shut down.
func (h *Hub) Leave(client *Client) {
	if h == nil || client == nil {
		return
	}

	h.mu.Lock()
	set := h.sessions[client.SessionID]
	_, present := set[client.ID]
	delete(set, client.ID)
	if len(set) == 0 {
		delete(h.sessions, client.SessionID)
	}
	h.mu.Unlock()

	// Removal happens before Close so a concurrent Deliver never targets a
	// client whose goroutines are being torn down.
	client.Close()

	if present {
		if h.gauge != nil {
			h.gauge.AlertClients(-1)
		}
		h.log.Info("realtime.client.leave", "client", client.ID)
	}
}

// Connected reports how many clients are attached for sessionID.
func (h *Hub) Connected(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Deliver sends a to every client it is addressed to.
func (h *Hub) Deliver(a alerts.Alert) {
	if h == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		h.log.Error("realtime.deliver.marshal.fail", "alert", a.ID, "err", err)
		return
	}
	env := newEnvelope(TypeAlert, payload, a.CreatedAt)

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	if a.Broadcast {
		for _, set := range h.sessions {
			dropped += offerAll(set, env)
		}
	} else {
		dropped += offerAll(h.sessions[a.ToSession], env)
	}
	if dropped > 0 {
		h.log.Warn("realtime.deliver.dropped", "alert", a.ID, "clients", dropped)
	}
}

func offerAll(set map[string]*Client, env Envelope) int {
	dropped := 0
	for _, c := range set {
		if c != nil && !c.offer(env) {
			dropped++
		}
	}
	return dropped
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      ids.MustULID(ts),
		TS:      ts,
		Payload: payload,
	}
}
