// Package logintoken issues the tokens handed out by the strategies endpoint
// and consumed by the password and create endpoints.
//
// Plain tokens are the bound value itself (user id or proposed name). Signed
// tokens are PASETO v4.public, bound to one purpose and one session, and
// expire.
package logintoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/sethvargo/go-envconfig"
)

// Purposes.
const (
	// PurposePassword binds an existing user id.
	PurposePassword = "password"
	// PurposeNewPassword binds a proposed user name.
	PurposeNewPassword = "new-password"
)

var (
	ErrInvalidToken = errors.New("invalid login token")
	ErrConfig       = errors.New("invalid login token config")
)

// Codec issues and verifies strategy tokens.
type Codec interface {
	Issue(purpose, subject, sessionID string, now time.Time) (string, error)
	// Verify returns the bound subject.
	Verify(tok, purpose, sessionID string, now time.Time) (string, error)
	Signed() bool
}

// Plain is the unsigned codec: the token is the subject.
type Plain struct{}

func (Plain) Issue(_, subject, _ string, _ time.Time) (string, error) { return subject, nil }

func (Plain) Verify(tok, _, _ string, _ time.Time) (string, error) {
	if tok == "" {
		return "", ErrInvalidToken
	}
	return tok, nil
}

func (Plain) Signed() bool { return false }

// Config selects and tunes the codec.
type Config struct {
	// KeyHex is an Ed25519 secret key in hex. Empty selects Plain.
	KeyHex string        `env:"ITL_LOGIN_TOKEN_KEY_HEX"`
	TTL    time.Duration `env:"ITL_LOGIN_TOKEN_TTL,default=10m"`
	Issuer string        `env:"ITL_LOGIN_TOKEN_ISSUER,default=itl"`
	// ClockSkew is tolerated on not-before checks.
	ClockSkew time.Duration `env:"ITL_LOGIN_TOKEN_CLOCK_SKEW,default=30s"`
}

// LoadConfigFromEnv reads Config from ITL_LOGIN_TOKEN_*.
func LoadConfigFromEnv(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, nil
}

// New returns Plain for an empty key, else a PASETO codec.
func New(cfg Config) (Codec, error) {
	if cfg.KeyHex == "" {
		return Plain{}, nil
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "itl"
	}
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key", ErrConfig)
	}
	return &pasetoCodec{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

type pasetoCodec struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func (c *pasetoCodec) Signed() bool { return true }

func (c *pasetoCodec) Issue(purpose, subject, sessionID string, now time.Time) (string, error) {
	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(c.ttl))
	tok.SetSubject(subject)

	if err := tok.Set("pur", purpose); err != nil {
		return "", err
	}
	if err := tok.Set("sid", sessionID); err != nil {
		return "", err
	}
	return tok.V4Sign(c.secret, nil), nil
}

func (c *pasetoCodec) Verify(tok, purpose, sessionID string, now time.Time) (string, error) {
	if tok == "" {
		return "", ErrInvalidToken
	}

	// ValidAt checks iat, nbf and exp against the injected clock, shifted by
	// the skew, which also makes expiry slightly stricter.
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.IssuedBy(c.issuer))
	parser.AddRule(paseto.ValidAt(now.Add(c.clockSkew)))

	parsed, err := parser.ParseV4Public(c.public, tok, nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	if pur, err := parsed.GetString("pur"); err != nil || pur != purpose {
		return "", ErrInvalidToken
	}
	if sid, err := parsed.GetString("sid"); err != nil || sid != sessionID {
		return "", ErrInvalidToken
	}
	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
