package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sethvargo/go-envconfig"

	"github.com/sullivanpt/in-true-life-1/cmd/identity/ids"
)

const (
	wsSubprotocolV1 = "itl.alerts.v1"

	wsMinSendQueueSize = 8
	wsCloseGrace       = 1 * time.Second
	wsMaxPingFailures  = 3

	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// ErrConfig is returned for invalid gateway configuration.
var ErrConfig = errors.New("invalid websocket config")

// Config tunes the alert stream gateway.
type Config struct {
	// DevInsecure disables websocket.Accept's origin verification. Dev only.
	DevInsecure bool `env:"ITL_WS_DEV_INSECURE,default=false"`

	// OriginRequired rejects upgrades without an Origin header.
	OriginRequired bool `env:"ITL_WS_ORIGIN_REQUIRED,default=true"`
	// AllowedOrigins is a comma separated allowlist. Empty uses localhost.
	AllowedOrigins string `env:"ITL_WS_ALLOWED_ORIGINS"`

	WriteTimeout    time.Duration `env:"ITL_WS_WRITE_TIMEOUT,default=5s"`
	ReadIdleTimeout time.Duration `env:"ITL_WS_READ_IDLE_TIMEOUT,default=2m"`
	SendQueueSize   int           `env:"ITL_WS_SEND_QUEUE,default=64"`

	HeartbeatEvery   time.Duration `env:"ITL_WS_HEARTBEAT_INTERVAL,default=25s"`
	HeartbeatTimeout time.Duration `env:"ITL_WS_HEARTBEAT_TIMEOUT,default=5s"`

	RateEvents int           `env:"ITL_WS_RATE_EVENTS,default=30"`
	RateWindow time.Duration `env:"ITL_WS_RATE_WINDOW,default=10s"`
}

// DefaultConfig returns the built-in gateway policy.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   true,
		WriteTimeout:     5 * time.Second,
		ReadIdleTimeout:  2 * time.Minute,
		SendQueueSize:    64,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadConfigFromEnv reads ITL_WS_* settings.
func LoadConfigFromEnv(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if cfg.WriteTimeout <= 0 || cfg.ReadIdleTimeout <= 0 || cfg.HeartbeatEvery <= 0 || cfg.HeartbeatTimeout <= 0 {
		return Config{}, fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	}
	return cfg, nil
}

// Peer is the verified session behind one stream.
type Peer interface {
	SessionID() string
	// Unseen counts unread alerts for the hello acknowledgement.
	Unseen(ctx context.Context) (int, error)
	// MarkSeen stores the read position, in unix millis.
	MarkSeen(ctx context.Context, seen int64) error
}

// WSGateway serves the alert stream. It enforces origin policy, subprotocol
// selection, rate limits and heartbeats, and registers clients with the Hub.
type WSGateway struct {
	log *slog.Logger
	hub *Hub
	cfg Config

	allowedOrigins []string
	// Derived for websocket.Accept, which only authorizes cross-origin
	// requests whose host matches one of these patterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway.
func NewWSGateway(log *slog.Logger, hub *Hub, cfg Config) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.AllowedOrigins == "" {
		cfg.AllowedOrigins = wsDefaultAllowedOrigins
	}

	g := &WSGateway{log: log, hub: hub, cfg: cfg}
	g.allowedOrigins = splitCSV(cfg.AllowedOrigins)
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)
	return g
}

// Serve upgrades r and streams alerts for peer until either side closes.
func (g *WSGateway) Serve(w http.ResponseWriter, r *http.Request, peer Peer) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(ids.MustULID(time.Now().UTC()), peer.SessionID(), g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	// shutdown does not close client.Send; Leave removes the client before
	// closing it.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.hub.Join(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "client", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	rl := newFrameLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "client", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			g.trySendError(client, "rate_limited", "too many frames")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case TypeHello:
			if err := g.onHello(ctx, client, peer); err != nil {
				g.trySendError(client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
		case TypeSeen:
			if err := g.onSeen(ctx, peer, env); err != nil {
				g.trySendError(client, "seen_failed", err.Error())
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "client", client.ID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *WSGateway) onHello(ctx context.Context, client *Client, peer Peer) error {
	unseen, err := peer.Unseen(ctx)
	if err != nil {
		g.log.ErrorContext(ctx, "ws.hello.unseen.fail", "client", client.ID, "err", err)
		return errors.New("unavailable")
	}
	payload, _ := json.Marshal(HelloAckPayload{Session: client.SessionID, Unseen: unseen})
	if !client.offer(newEnvelope(TypeHelloAck, payload, time.Now().UTC())) {
		return errors.New("backpressure: hello.ack")
	}
	return nil
}

func (g *WSGateway) onSeen(ctx context.Context, peer Peer, env Envelope) error {
	var p SeenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if p.Seen < 0 {
		return errors.New("seen must be >= 0")
	}
	if err := peer.MarkSeen(ctx, p.Seen); err != nil {
		g.log.ErrorContext(ctx, "ws.seen.fail", "err", err)
		return errors.New("unavailable")
	}
	return nil
}

func (g *WSGateway) trySendError(client *Client, code, msg string) {
	p, _ := json.Marshal(ErrorPayload{Code: code, Message: msg})
	_ = client.offer(newEnvelope(TypeError, p, time.Now().UTC()))
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, badJSONError{err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type badJSONError struct{ err error }

func (e badJSONError) Error() string { return e.err.Error() }
func (e badJSONError) Unwrap() error { return e.err }

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bad badJSONError
	switch {
	case errors.As(err, &bad):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.allowedOrigins {
		if a == "*" || origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}
	// websocket.Accept matches against the origin's host:port.
	out := make([]string, 0, 2*len(seen))
	for h := range seen {
		out = append(out, h, h+":*")
	}
	slices.Sort(out)
	return out
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
