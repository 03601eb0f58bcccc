package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink appends events to the audit_log table.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresSink writes into schema.audit_log. The pool stays owned by the caller.
func NewPostgresSink(pool *pgxpool.Pool, schema string, log *slog.Logger) *PostgresSink {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresSink{
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
		log:   log,
	}
}

func (s *PostgresSink) Record(ctx context.Context, ev Event) {
	if s == nil || s.pool == nil {
		return
	}
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	var meta *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			v := string(b)
			meta = &v
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (
			action, session_id, user_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, action, nilIfEmpty(ev.SessionID), nilIfEmpty(ev.UserID), nilIfEmpty(ev.IP), nilIfEmpty(ev.UserAgent), meta, ev.TS)
	if err != nil {
		s.log.Error("audit.insert.fail", "err", err, "action", action)
	}
}

func nilIfEmpty(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
