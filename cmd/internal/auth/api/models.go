package authapi

import (
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/access"
)

// restoreResponse is what the UI tier needs to forward cookies.
type restoreResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Cookie    string   `json:"cookie"`
	SetCookie []string `json:"setCookie,omitempty"`
}

// credentialRequest carries a strategy token. Create also accepts the bare
// name, which only verifies under the plain token codec.
type credentialRequest struct {
	Token    string `json:"token"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type strategiesRequest struct {
	Name string `json:"name"`
}

type settingsRequest = access.SettingsPatch
