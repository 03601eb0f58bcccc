package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subj string, data []byte) error {
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return f.err
}

type countingSink struct{ n int }

func (c *countingSink) Record(context.Context, Event) { c.n++ }

type fakeCounter struct{ actions []string }

func (f *fakeCounter) AuthEvent(a string) { f.actions = append(f.actions, a) }

func TestNATSSink_PublishesJSONOnActionSubject(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSink(pub, " itl.auth. ", nil)

	ev := Event{TS: time.Unix(0, 0).UTC(), Action: UserAttached, SessionName: "s-abc", UserID: "u1"}
	s.Record(context.Background(), ev)

	if len(pub.subjects) != 1 || pub.subjects[0] != "itl.auth.user.attached" {
		t.Fatalf("subjects = %v", pub.subjects)
	}
	var got Event
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got.UserID != "u1" || got.Action != UserAttached {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestNATSSink_DefaultPrefixAndErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	pub := &fakePublisher{err: errors.New("down")}
	s := NewNATSSink(pub, "", log)

	if s.Subject("x") != "itl.auth.x" {
		t.Fatalf("default subject = %q", s.Subject("x"))
	}
	s.Record(context.Background(), Event{Action: UserLocked})
	if !strings.Contains(buf.String(), "audit.nats.publish.fail") {
		t.Fatalf("expected publish failure log, got %q", buf.String())
	}

	s.Record(context.Background(), Event{})
	if len(pub.subjects) != 1 {
		t.Fatalf("empty action should not publish")
	}
}

func TestMulti_FansOutAndSkipsNil(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	fc := &fakeCounter{}
	Multi{a, nil, b, MetricsSink{Counter: fc}, Nop{}}.Record(context.Background(), Event{Action: SessionCreated})

	if a.n != 1 || b.n != 1 {
		t.Fatalf("fan out counts = %d,%d", a.n, b.n)
	}
	if len(fc.actions) != 1 || fc.actions[0] != SessionCreated {
		t.Fatalf("metrics sink = %v", fc.actions)
	}
}

func TestLogSink_OmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	LogSink{Log: slog.New(slog.NewTextHandler(&buf, nil))}.Record(context.Background(), Event{
		Action:      PasswordFailed,
		SessionName: "s-abc",
	})
	out := buf.String()
	if !strings.Contains(out, "action=password.failed") || !strings.Contains(out, "session=s-abc") {
		t.Fatalf("unexpected log: %q", out)
	}
	if strings.Contains(out, "user_id") {
		t.Fatalf("empty user id should be omitted: %q", out)
	}
}

func TestPostgresSink_NilPoolIsNoop(t *testing.T) {
	var s *PostgresSink
	s.Record(context.Background(), Event{Action: UserCreated})
	NewPostgresSink(nil, "itl", nil).Record(context.Background(), Event{Action: UserCreated})
}
