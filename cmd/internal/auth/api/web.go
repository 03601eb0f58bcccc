package authapi

import (
	"net/http"

	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/cookie"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/gate"
)

// presentedKeys returns the sk and ek cookie values, "" when absent.
func (h *Handler) presentedKeys(r *http.Request) (sk, ek string) {
	cfg := h.gate.Config()
	return cookie.FromRequest(r, cfg.SessionCookie), cookie.FromRequest(r, cfg.EvidenceCookie)
}

// emitSetCookie mirrors restore's cookie directives onto the response so
// clients talking to the API directly receive them.
func (h *Handler) emitSetCookie(w http.ResponseWriter, res gate.Result) {
	if !h.cfg.EmitSetCookie || len(res.SetCookie) == 0 {
		return
	}
	cookie.Append(w.Header(), res.SetCookie...)
}

// bodySecure reads the caller's request for Secure cookies. Only a JSON
// true counts.
func bodySecure(body map[string]any) bool {
	v, ok := body["secure"].(bool)
	return ok && v
}
