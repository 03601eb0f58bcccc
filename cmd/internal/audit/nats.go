package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// Publisher is the slice of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NATSSink publishes each event as JSON on <prefix>.<action>.
type NATSSink struct {
	pub    Publisher
	prefix string
	log    *slog.Logger
}

// NewNATSSink wraps an existing publisher.
func NewNATSSink(pub Publisher, prefix string, log *slog.Logger) *NATSSink {
	if log == nil {
		log = slog.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "itl.auth"
	}
	return &NATSSink{pub: pub, prefix: prefix, log: log}
}

// ConnectNATS dials url and returns the connection plus a sink bound to it.
// Callers drain the connection on shutdown.
func ConnectNATS(url, prefix string, log *slog.Logger) (*nats.Conn, *NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("itl-audit"))
	if err != nil {
		return nil, nil, err
	}
	return nc, NewNATSSink(nc, prefix, log), nil
}

// Subject returns the subject used for action.
func (s *NATSSink) Subject(action string) string {
	return s.prefix + "." + action
}

func (s *NATSSink) Record(_ context.Context, ev Event) {
	if s == nil || s.pub == nil || ev.Action == "" {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("audit.nats.encode.fail", "err", err, "action", ev.Action)
		return
	}
	if err := s.pub.Publish(s.Subject(ev.Action), data); err != nil {
		s.log.Error("audit.nats.publish.fail", "err", err, "action", ev.Action)
	}
}
