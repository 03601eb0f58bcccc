// Package authapi serves the /me HTTP surface: session restore, the user
// lifecycle, private data access, settings and the alert inbox.
package authapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sullivanpt/in-true-life-1/cmd/internal/alerts"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/access"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/gate"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/realtime"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/reqlog"
)

// Deps are the services behind the handlers. Alerts and Stream may be nil,
// in which case their routes answer 404.
type Deps struct {
	Gate   *gate.Gate
	Access *access.Service
	Alerts *alerts.Service
	Stream *realtime.WSGateway
	Log    *slog.Logger
}

// Handler wires HTTP requests to the gate and access services.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	gate   *gate.Gate
	access *access.Service
	alerts *alerts.Service
	stream *realtime.WSGateway
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, deps Deps) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Gate == nil || deps.Access == nil {
		return nil, errors.New("authapi: gate and access are required")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:    log,
		cfg:    cfg,
		gate:   deps.Gate,
		access: deps.Access,
		alerts: deps.Alerts,
		stream: deps.Stream,
	}, nil
}

// NotFound is the catch-all for every unmatched route, including known paths
// called with the wrong method. Set it on the parent router as both NotFound
// and MethodNotAllowed.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "not found")
}

// Register mounts the /me routes on r. Unknown paths and wrong methods under
// /me answer 404 regardless of the parent's handlers.
func (h *Handler) Register(r chi.Router) {
	r.Route("/me", func(r chi.Router) {
		r.NotFound(NotFound)
		r.MethodNotAllowed(NotFound)

		r.With(h.ipLimit(h.cfg.RestoreRateMax, h.cfg.RestoreRateWindow)).Post("/restore", h.handleRestore)

		r.Group(func(r chi.Router) {
			r.Use(h.verifySession)
			credentials := h.ipLimit(h.cfg.CredentialRateMax, h.cfg.CredentialRateWindow)

			r.Route("/user", func(r chi.Router) {
				r.With(credentials).Post("/create", h.handleCreate)
				r.With(credentials).Post("/password", h.handlePassword)
				r.With(credentials).Post("/forget", h.handleForget)
				r.Post("/logout", h.handleLogout)
				r.Post("/lock", h.handleLock)
				r.Post("/strategies", h.handleStrategies)
			})

			r.Get("/reload", h.handleReload)
			r.Get("/private", h.handlePrivate)
			r.Post("/settings", h.handleSettings)
			if h.alerts != nil {
				r.Get("/alerts", h.handleAlerts)
				if h.stream != nil {
					r.Get("/alerts/stream", h.handleAlertStream)
				}
			}
		})
	})
}

// verifySession resolves the sk cookie to a session or answers 401.
func (h *Handler) verifySession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sk, ek := h.presentedKeys(r)
		s, err := h.gate.Verify(r.Context(), sk)
		if errors.Is(err, gate.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "session required")
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		c := access.Caller{
			Session:     s,
			EvidenceKey: ek,
			IP:          clientIP(r, h.cfg.TrustProxy),
			UserAgent:   userAgent(r),
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), c)))
	})
}

func (h *Handler) mustCaller(r *http.Request) access.Caller {
	c, ok := callerFrom(r.Context())
	if !ok {
		// Only reachable if a route is registered outside verifySession.
		panic("authapi: caller missing from context")
	}
	return c
}

// ---- handlers ----

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &body); err != nil {
		writeBadBody(w, err)
		return
	}

	sk, ek := h.presentedKeys(r)
	cfg := h.gate.Config()
	res, err := h.gate.Restore(r.Context(), gate.Request{
		SessionKey:  sk,
		EvidenceKey: ek,
		Signals:     evidence.Sanitize(body, evidence.Limits{MaxKeys: cfg.MaxSignals, MaxValueLen: cfg.MaxSignalValue}),
		Secure:      bodySecure(body),
		IP:          clientIP(r, h.cfg.TrustProxy),
		UserAgent:   userAgent(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.emitSetCookie(w, res)
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, restoreResponse{
		ID:        res.Session.ID,
		Name:      res.Session.Name,
		Cookie:    res.Cookie,
		SetCookie: res.SetCookie,
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w, err)
		return
	}
	tok := req.Token
	if tok == "" {
		tok = req.Name
	}
	u, err := h.access.Create(r.Context(), h.mustCaller(r), tok, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		// A credential endpoint never explains itself.
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	if _, err := h.access.Password(r.Context(), h.mustCaller(r), req.Token, req.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	writeNoContent(w)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.access.Logout(r.Context(), h.mustCaller(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeNoContent(w)
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	if err := h.access.Lock(r.Context(), h.mustCaller(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeNoContent(w)
}

func (h *Handler) handleForget(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &body); err != nil {
		writeBadBody(w, err)
		return
	}
	secret, _ := body["password"].(string)
	if err := h.access.Forget(r.Context(), h.mustCaller(r), secret, body); err != nil {
		h.fail(w, r, err)
		return
	}
	writeNoContent(w)
}

func (h *Handler) handleStrategies(w http.ResponseWriter, r *http.Request) {
	var req strategiesRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w, err)
		return
	}
	out, err := h.access.Strategies(r.Context(), h.mustCaller(r), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	out, err := h.access.Reload(r.Context(), h.mustCaller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePrivate(w http.ResponseWriter, r *http.Request) {
	u, err := h.access.Private(r.Context(), h.mustCaller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeBadBody(w, err)
		return
	}
	if _, err := h.access.SaveSettings(r.Context(), h.mustCaller(r), req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeNoContent(w)
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	c := h.mustCaller(r)
	in, err := h.alerts.Inbox(r.Context(), c.Session.ID, c.Session.SeenAt())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *Handler) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	h.stream.Serve(w, r, streamPeer{h: h, c: h.mustCaller(r)})
}

// streamPeer adapts a verified caller to the realtime gateway.
type streamPeer struct {
	h *Handler
	c access.Caller
}

func (p streamPeer) SessionID() string { return p.c.Session.ID }

func (p streamPeer) Unseen(ctx context.Context) (int, error) {
	in, err := p.h.alerts.Inbox(ctx, p.c.Session.ID, p.c.Session.SeenAt())
	if err != nil {
		return 0, err
	}
	return in.Unseen, nil
}

func (p streamPeer) MarkSeen(ctx context.Context, seen int64) error {
	_, err := p.h.access.SaveSettings(ctx, p.c, access.SettingsPatch{Seen: &seen})
	return err
}

// ---- error mapping ----

// fail maps service errors to responses. Anything unrecognized is a server
// fault: logged with the session display name, answered with a bare 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		throttle access.ThrottleError
		name     access.NameError
	)
	switch {
	case errors.As(err, &throttle):
		writeRateLimited(w, throttle.RetryAfter)
	case errors.As(err, &name):
		writeError(w, http.StatusBadRequest, "name_rejected", fmt.Sprintf("name rejected: %s", name.Check))
	case errors.Is(err, access.ErrMalformed), errors.Is(err, alerts.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	case errors.Is(err, access.ErrNameTaken):
		writeError(w, http.StatusConflict, "name_taken", "name already exists")
	case errors.Is(err, access.ErrAlreadyAttached):
		writeError(w, http.StatusForbidden, "already_attached", "session already has a user")
	case errors.Is(err, access.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
	case errors.Is(err, access.ErrNotAuthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "private access required")
	case errors.Is(err, access.ErrNoUser):
		writeError(w, http.StatusNotFound, "no_user", "no user on session")
	default:
		attrs := append([]any{"path", r.URL.Path, "err", err}, reqlog.From(r.Context()).Args()...)
		h.log.ErrorContext(r.Context(), "auth.request.fail", attrs...)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
