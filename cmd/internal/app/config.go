package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("invalid app config")

// Config contains the server runtime configuration loaded from ITL_* variables.
// Subsystems (session, access, authapi, realtime, logintoken) load their own.
type Config struct {
	HTTPAddr string `env:"ITL_HTTP_ADDR,default=0.0.0.0:8080"`

	LogLevel  string `env:"ITL_LOG_LEVEL,default=info"`
	LogFormat string `env:"ITL_LOG_FORMAT,default=json"`
	LogColor  bool   `env:"ITL_LOG_COLOR,default=false"`

	ReadHeaderTimeout time.Duration `env:"ITL_HTTP_READ_HEADER_TIMEOUT,default=5s"`
	ReadTimeout       time.Duration `env:"ITL_HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout      time.Duration `env:"ITL_HTTP_WRITE_TIMEOUT,default=15s"`
	IdleTimeout       time.Duration `env:"ITL_HTTP_IDLE_TIMEOUT,default=60s"`
	ShutdownTimeout   time.Duration `env:"ITL_HTTP_SHUTDOWN_TIMEOUT,default=10s"`
	MaxHeaderBytes    int           `env:"ITL_HTTP_MAX_HEADER_BYTES,default=1048576"`

	// DatabaseURL selects the Postgres store. Empty runs on the in-memory store.
	DatabaseURL string `env:"ITL_DATABASE_URL"`
	DBSchema    string `env:"ITL_DB_SCHEMA,default=itl"`
	DBMaxConns  int32  `env:"ITL_DB_MAX_CONNS,default=10"`
	DBMinConns  int32  `env:"ITL_DB_MIN_CONNS,default=0"`
	// DBMigrate applies embedded migrations at startup.
	DBMigrate bool `env:"ITL_DB_MIGRATE,default=false"`

	// ReadinessRequireDB makes /readyz fail unless Postgres is configured and reachable.
	ReadinessRequireDB bool `env:"ITL_READINESS_REQUIRE_DB,default=false"`

	// RequireTokenHMAC demands ITL_TOKEN_HMAC_KEY (>= 32 bytes) for key hashing at rest.
	RequireTokenHMAC bool `env:"ITL_REQUIRE_TOKEN_HMAC,default=false"`

	// CORSAllowedOrigins is a comma-separated list; "*" wildcards are allowed.
	// Empty disables CORS handling.
	CORSAllowedOrigins   string `env:"ITL_CORS_ALLOWED_ORIGINS"`
	CORSAllowCredentials bool   `env:"ITL_CORS_ALLOW_CREDENTIALS,default=true"`
	CORSMaxAgeSeconds    int    `env:"ITL_CORS_MAX_AGE_SECONDS,default=600"`

	// OTLPEndpoint enables trace export (host:port, OTLP/HTTP).
	OTLPEndpoint string `env:"ITL_OTLP_ENDPOINT"`
	ServiceName  string `env:"ITL_SERVICE_NAME,default=itl"`

	// NATSURL enables publishing audit events.
	NATSURL           string `env:"ITL_NATS_URL"`
	NATSSubjectPrefix string `env:"ITL_NATS_SUBJECT_PREFIX,default=itl.auth"`

	// AuditPostgres also writes audit events to the audit_log table.
	AuditPostgres bool `env:"ITL_AUDIT_POSTGRES,default=true"`
}

// LoadConfig reads Config from the environment and validates it.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: log format must be json or pretty", ErrConfig)
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: http addr is required", ErrConfig)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 0 {
		return fmt.Errorf("%w: db conns must be >= 0", ErrConfig)
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: db min conns exceeds max conns", ErrConfig)
	}
	if c.CORSMaxAgeSeconds < 0 {
		return fmt.Errorf("%w: cors max age must be >= 0", ErrConfig)
	}
	return nil
}

// AllowedOrigins returns the parsed CORS origin list.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, p := range strings.Split(c.CORSAllowedOrigins, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
