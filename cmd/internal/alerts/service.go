package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sullivanpt/in-true-life-1/cmd/identity/ids"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/clock"
)

// MaxTextChars bounds alert text.
const MaxTextChars = 1000

// ErrInvalid is returned for alerts with no addressee, no kind or bad text.
var ErrInvalid = errors.New("invalid alert")

// Store persists alerts.
type Store interface {
	PostAlert(ctx context.Context, a Alert) error
	AlertsFor(ctx context.Context, sessionID string, limit int) ([]Alert, error)
}

// Deliverer pushes a stored alert to live listeners.
type Deliverer interface {
	Deliver(a Alert)
}

// Service posts and lists alerts.
type Service struct {
	store Store
	live  Deliverer
	clock clock.Clock
	log   *slog.Logger
	limit int
}

// NewService builds a Service. live and clk may be nil.
func NewService(st Store, live Deliverer, clk clock.Clock, log *slog.Logger, limit int) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = slog.Default()
	}
	if limit <= 0 {
		limit = 50
	}
	return &Service{store: st, live: live, clock: clk, log: log, limit: limit}
}

// Post stamps a with an id and time, stores it and delivers it live.
func (s *Service) Post(ctx context.Context, a Alert) (Alert, error) {
	a.Kind = strings.TrimSpace(a.Kind)
	a.Text = strings.TrimSpace(a.Text)
	switch {
	case a.Kind == "":
		return Alert{}, fmt.Errorf("%w: missing kind", ErrInvalid)
	case !a.Broadcast && a.ToSession == "":
		return Alert{}, fmt.Errorf("%w: no addressee", ErrInvalid)
	case utf8.RuneCountInString(a.Text) > MaxTextChars:
		return Alert{}, fmt.Errorf("%w: text too long", ErrInvalid)
	}
	if a.Broadcast {
		a.ToSession = ""
	}

	now := s.clock.Now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Alert{}, err
	}
	a.ID = id
	a.CreatedAt = now

	if err := s.store.PostAlert(ctx, a); err != nil {
		return Alert{}, err
	}
	s.log.InfoContext(ctx, "alerts.post", "id", a.ID, "kind", a.Kind, "broadcast", a.Broadcast)
	if s.live != nil {
		s.live.Deliver(a)
	}
	return a, nil
}

// Inbox is the alert listing returned to a session.
type Inbox struct {
	Alerts []Alert `json:"alerts"`
	Unseen int     `json:"unseen"`
}

// Inbox lists alerts for sessionID, newest first, counting those created
// after seen.
func (s *Service) Inbox(ctx context.Context, sessionID string, seen time.Time) (Inbox, error) {
	list, err := s.store.AlertsFor(ctx, sessionID, s.limit)
	if err != nil {
		return Inbox{}, err
	}
	if list == nil {
		list = []Alert{}
	}
	return Inbox{Alerts: list, Unseen: Unseen(list, seen)}, nil
}

// Unseen counts alerts created after seen.
func Unseen(list []Alert, seen time.Time) int {
	n := 0
	for _, a := range list {
		if a.CreatedAt.After(seen) {
			n++
		}
	}
	return n
}
