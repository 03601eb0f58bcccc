package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sullivanpt/in-true-life-1/cmd/internal/alerts"
)

type gaugeRecorder struct{ v float64 }

func (g *gaugeRecorder) AlertClients(d float64) { g.v += d }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHub_DeliverAddressing(t *testing.T) {
	t.Parallel()

	g := &gaugeRecorder{}
	h := NewHub(quietLogger(), g)

	a1 := NewClient("c1", "s-a", 4)
	a2 := NewClient("c2", "s-a", 4)
	b := NewClient("c3", "s-b", 4)
	h.Join(a1)
	h.Join(a2)
	h.Join(b)
	if g.v != 3 || h.Connected("s-a") != 2 {
		t.Fatalf("expected 3 clients and 2 on s-a, got gauge=%v s-a=%d", g.v, h.Connected("s-a"))
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.Deliver(alerts.Alert{ID: "x1", Kind: alerts.KindNotice, ToSession: "s-a", CreatedAt: now})

	for _, c := range []*Client{a1, a2} {
		select {
		case env := <-c.Send:
			var got alerts.Alert
			if err := json.Unmarshal(env.Payload, &got); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if env.Type != TypeAlert || got.ID != "x1" {
				t.Fatalf("unexpected envelope %+v", env)
			}
		default:
			t.Fatalf("client %s did not receive the alert", c.ID)
		}
	}
	select {
	case env := <-b.Send:
		t.Fatalf("s-b should not receive a directed alert, got %+v", env)
	default:
	}

	h.Deliver(alerts.Alert{ID: "x2", Kind: alerts.KindNotice, Broadcast: true, CreatedAt: now})
	for _, c := range []*Client{a1, a2, b} {
		if len(c.Send) != 1 {
			t.Fatalf("client %s expected broadcast, queue=%d", c.ID, len(c.Send))
		}
	}
}

func TestHub_LeaveClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	g := &gaugeRecorder{}
	h := NewHub(quietLogger(), g)
	c := NewClient("c1", "s-a", 4)
	h.Join(c)
	h.Leave(c)
	h.Leave(c)

	if g.v != 0 || h.Connected("s-a") != 0 {
		t.Fatalf("expected empty hub, gauge=%v", g.v)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("client should be closed after Leave")
	}

	// Delivering to a departed client must not block or panic.
	h.Deliver(alerts.Alert{ID: "x", Kind: alerts.KindNotice, ToSession: "s-a"})
}

func TestHub_DeliverDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger(), nil)
	c := NewClient("c1", "s-a", 1)
	h.Join(c)

	h.Deliver(alerts.Alert{ID: "1", Kind: alerts.KindNotice, ToSession: "s-a"})
	h.Deliver(alerts.Alert{ID: "2", Kind: alerts.KindNotice, ToSession: "s-a"})
	if len(c.Send) != 1 {
		t.Fatalf("expected one queued frame, got %d", len(c.Send))
	}
}
