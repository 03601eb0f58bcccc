// Package main is a CI-friendly smoke test for a running itl server.
//
// It validates:
//   - restore issues session and evidence cookies
//   - create attaches a fresh user and grants private access
//   - the alert stream rejects callers without a session
//   - hello/hello.ack over the itl.alerts.v1 subprotocol
//   - seen is accepted and the inbox reports nothing unseen
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "itl.alerts.v1"
	maxReadBytes = 1 << 16
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type helloAck struct {
	Session string `json:"session"`
	Unseen  int    `json:"unseen"`
}

type smokeClient struct {
	base *url.URL
	http *http.Client
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the stream handshake")
		prefix  = flag.String("name-prefix", "smoke", "Prefix for the created user name")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*origin) == "" {
		fatalf("invalid -origin: empty")
	}

	jar, _ := cookiejar.New(nil)
	c := &smokeClient{base: base, http: &http.Client{Jar: jar, Timeout: *timeout}}

	var restored struct {
		ID        string   `json:"id"`
		Name      string   `json:"name"`
		SetCookie []string `json:"setCookie"`
	}
	c.mustPost("/me/restore", map[string]any{}, http.StatusCreated, &restored)
	if len(restored.SetCookie) != 2 {
		fatalf("restore: expected 2 cookie directives, got %d", len(restored.SetCookie))
	}
	if *verbose {
		fmt.Printf("restored session %s\n", restored.Name)
	}

	name := fmt.Sprintf("%s-%d", *prefix, time.Now().UnixNano())
	c.mustPost("/me/user/create", map[string]any{"name": name}, http.StatusCreated, nil)
	c.mustGet("/me/private", http.StatusOK)

	root := context.Background()
	mustRejectAnonymousStream(root, base, *origin, *timeout)

	conn := c.mustDialStream(root, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	mustWrite(root, conn, envelope{V: 1, Type: "hello", TS: time.Now().UTC()}, *timeout)
	ack := mustReadType(root, conn, "hello.ack", *timeout)

	var p helloAck
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("hello.ack: bad payload: %v", err)
	}
	if p.Session != restored.ID {
		fatalf("hello.ack: session mismatch: got=%s want=%s", p.Session, restored.ID)
	}

	seen, _ := json.Marshal(map[string]int64{"seen": time.Now().UnixMilli()})
	mustWrite(root, conn, envelope{V: 1, Type: "seen", TS: time.Now().UTC(), Payload: seen}, *timeout)

	// seen has no reply; give the server a moment before checking the inbox.
	time.Sleep(250 * time.Millisecond)
	var inbox struct {
		Unseen int `json:"unseen"`
	}
	c.mustGetJSON("/me/alerts", &inbox)
	if inbox.Unseen != 0 {
		fatalf("alerts: expected 0 unseen after seen, got %d", inbox.Unseen)
	}

	fmt.Printf("OK: session=%s user=%s unseen_at_hello=%d\n", restored.Name, name, p.Unseen)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func (c *smokeClient) url(path string) string { return c.base.String() + path }

func (c *smokeClient) mustPost(path string, body any, want int, out any) {
	raw, _ := json.Marshal(body)
	res, err := c.http.Post(c.url(path), "application/json", bytes.NewReader(raw))
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	if res.StatusCode != want {
		fatalf("POST %s: status=%d want=%d body=%s", path, res.StatusCode, want, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("POST %s: decode: %v", path, err)
		}
	}
}

func (c *smokeClient) mustGet(path string, want int) []byte {
	res, err := c.http.Get(c.url(path))
	if err != nil {
		fatalf("GET %s: %v", path, err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	if res.StatusCode != want {
		fatalf("GET %s: status=%d want=%d body=%s", path, res.StatusCode, want, data)
	}
	return data
}

func (c *smokeClient) mustGetJSON(path string, out any) {
	if err := json.Unmarshal(c.mustGet(path, http.StatusOK), out); err != nil {
		fatalf("GET %s: decode: %v", path, err)
	}
}

func streamURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/me/alerts/stream"
	return u.String()
}

func (c *smokeClient) mustDialStream(ctx context.Context, origin string, timeout time.Duration) *websocket.Conn {
	h := http.Header{}
	h.Set("Origin", origin)
	for _, ck := range c.http.Jar.Cookies(c.base) {
		h.Add("Cookie", ck.String())
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, res, err := websocket.Dial(dialCtx, streamURL(c.base), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		fatalf("stream dial failed (status=%d): %v", status, err)
	}
	if conn.Subprotocol() != subprotocol {
		fatalf("stream: subprotocol mismatch: got=%q", conn.Subprotocol())
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustRejectAnonymousStream(ctx context.Context, base *url.URL, origin string, timeout time.Duration) {
	h := http.Header{}
	h.Set("Origin", origin)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, res, err := websocket.Dial(dialCtx, streamURL(base), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		fatalf("stream: anonymous dial should fail")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		fatalf("stream: expected 401 for anonymous dial, got %v", err)
	}
}

func mustWrite(ctx context.Context, conn *websocket.Conn, env envelope, timeout time.Duration) {
	data, _ := json.Marshal(env)
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func mustReadType(ctx context.Context, conn *websocket.Conn, want string, timeout time.Duration) envelope {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		_, data, err := conn.Read(rctx)
		if err != nil {
			fatalf("waiting for %s: %v", want, err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fatalf("waiting for %s: bad frame: %v", want, err)
		}
		switch env.Type {
		case want:
			return env
		case "error":
			fatalf("waiting for %s: server error: %s", want, env.Payload)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
