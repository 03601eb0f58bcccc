package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/alerts"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/session"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; Close does not close it. Every
// multi-row mutation runs in one transaction that locks the session row
// first and the user row second.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "itl").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("store: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("store: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "itl"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("store: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) t(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

type sessionRow struct {
	ID        string           `db:"id"`
	Name      string           `db:"name"`
	KeyHash   string           `db:"key_hash"`
	Tags      []string         `db:"tags"`
	Settings  session.Settings `db:"settings"`
	User      string           `db:"user_id"`
	CreatedAt time.Time        `db:"created_at"`
}

type evidenceRow struct {
	TS      time.Time        `db:"ts"`
	EK      string           `db:"ek"`
	User    string           `db:"user_id"`
	Signals evidence.Signals `db:"signals"`
}

type activityRow struct {
	TS     time.Time      `db:"ts"`
	Action string         `db:"action"`
	User   string         `db:"user_id"`
	Detail map[string]any `db:"detail"`
}

type loginRow struct {
	TS   time.Time `db:"ts"`
	User string    `db:"user_id"`
}

const sessionCols = `id, name, key_hash, tags, settings, user_id, created_at`

func (s *PostgresStore) CreateSession(ctx context.Context, in session.Session) error {
	const op = "store.CreateSession"

	return s.inTx(ctx, func(tx pgx.Tx) error {
		settings, err := jsonObject(in.Settings)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO `+s.t("sessions")+` (`+sessionCols+`)
			 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`,
			in.ID, in.Name, in.KeyHash, nonNil(in.Tags), settings, in.User, in.CreatedAt,
		)
		if err != nil {
			return mapUnique(op, err)
		}
		for _, rec := range in.Evidence {
			if err := s.insertEvidence(ctx, tx, in.ID, rec); err != nil {
				return err
			}
		}
		for _, a := range in.Activity {
			if err := s.insertActivity(ctx, tx, in.ID, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) SessionByKey(ctx context.Context, keyHash string) (session.Session, error) {
	if keyHash == "" {
		return session.Session{}, session.ErrSessionNotFound
	}
	return s.loadSession(ctx, s.pool, `key_hash = $1`, keyHash)
}

func (s *PostgresStore) SessionByID(ctx context.Context, id string) (session.Session, error) {
	return s.loadSession(ctx, s.pool, `id = $1`, id)
}

func (s *PostgresStore) loadSession(ctx context.Context, q pgxscan.Querier, where string, arg any) (session.Session, error) {
	var row sessionRow
	err := pgxscan.Get(ctx, q, &row, `SELECT `+sessionCols+` FROM `+s.t("sessions")+` WHERE `+where, arg)
	if pgxscan.NotFound(err) {
		return session.Session{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Session{}, err
	}

	ledger, err := s.loadEvidence(ctx, q, row.ID)
	if err != nil {
		return session.Session{}, err
	}

	var acts []activityRow
	if err := pgxscan.Select(ctx, q, &acts,
		`SELECT ts, action, user_id, detail FROM `+s.t("session_activity")+` WHERE session_id = $1 ORDER BY seq`, row.ID); err != nil {
		return session.Session{}, err
	}
	var logins []loginRow
	if err := pgxscan.Select(ctx, q, &logins,
		`SELECT ts, user_id FROM `+s.t("session_logins")+` WHERE session_id = $1 ORDER BY seq`, row.ID); err != nil {
		return session.Session{}, err
	}

	out := session.Session{
		ID:        row.ID,
		Name:      row.Name,
		KeyHash:   row.KeyHash,
		Tags:      row.Tags,
		Settings:  row.Settings,
		User:      row.User,
		Evidence:  ledger,
		CreatedAt: row.CreatedAt.UTC(),
	}
	for _, a := range acts {
		out.Activity = append(out.Activity, session.Activity{TS: a.TS.UTC(), Action: a.Action, User: a.User, Detail: a.Detail})
	}
	for _, l := range logins {
		out.Logins = append(out.Logins, session.Login{TS: l.TS.UTC(), User: l.User})
	}
	return out, nil
}

func (s *PostgresStore) loadEvidence(ctx context.Context, q pgxscan.Querier, sessionID string) (evidence.Ledger, error) {
	var rows []evidenceRow
	if err := pgxscan.Select(ctx, q, &rows,
		`SELECT ts, ek, user_id, signals FROM `+s.t("session_evidence")+` WHERE session_id = $1 ORDER BY seq`, sessionID); err != nil {
		return nil, err
	}
	out := make(evidence.Ledger, 0, len(rows))
	for _, r := range rows {
		rec := evidence.Record{TS: r.TS.UTC(), EK: r.EK, User: r.User}
		if len(r.Signals) > 0 {
			rec.Signals = r.Signals
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PostgresStore) AppendEvidenceIfChanged(ctx context.Context, sessionID string, decide Decider) (evidence.Record, bool, error) {
	var (
		rec      evidence.Record
		appended bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		ledger, err := s.loadEvidence(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		rec, appended, err = decide(ledger)
		if err != nil || !appended {
			return err
		}
		return s.insertEvidence(ctx, tx, sessionID, rec)
	})
	if err != nil {
		return evidence.Record{}, false, err
	}
	return rec, appended, nil
}

func (s *PostgresStore) AppendActivity(ctx context.Context, sessionID string, a session.Activity) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		return s.insertActivity(ctx, tx, sessionID, a)
	})
}

func (s *PostgresStore) AppendLogin(ctx context.Context, sessionID string, l session.Login) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+s.t("session_logins")+` (session_id, ts, user_id) VALUES ($1, $2, $3)`,
			sessionID, l.TS, l.User,
		)
		return err
	})
}

func (s *PostgresStore) MergeSettings(ctx context.Context, sessionID string, patch session.Settings) (session.Settings, error) {
	raw, err := jsonObject(patch)
	if err != nil {
		return nil, err
	}
	var out session.Settings
	err = s.pool.QueryRow(ctx,
		`UPDATE `+s.t("sessions")+` SET settings = settings || $2::jsonb WHERE id = $1 RETURNING settings`,
		sessionID, raw,
	).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ClearSettings(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.t("sessions")+` SET settings = '{}'::jsonb WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

const userCols = `id, name, credential, session_id, disabled, tags, created_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u identity.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t("users")+` (`+userCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Name, u.Credential, u.Session, u.Disabled, nonNil(u.Tags), u.CreatedAt,
	)
	return mapUnique("store.CreateUser", err)
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (identity.User, error) {
	return s.getUser(ctx, s.pool, "store.UserByID", `id = $1`, id)
}

func (s *PostgresStore) UserByName(ctx context.Context, name string) (identity.User, error) {
	return s.getUser(ctx, s.pool, "store.UserByName", `name = $1`, name)
}

func (s *PostgresStore) UserNameExists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.t("users")+` WHERE name = $1)`, name,
	).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) getUser(ctx context.Context, q pgxscan.Querier, op, where string, arg any) (identity.User, error) {
	var u identity.User
	err := pgxscan.Get(ctx, q, &u, `SELECT `+userCols+` FROM `+s.t("users")+` WHERE `+where, arg)
	if pgxscan.NotFound(err) {
		return identity.User{}, userNotFound(op)
	}
	if err != nil {
		return identity.User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) ReplaceUser(ctx context.Context, u identity.User) error {
	const op = "store.ReplaceUser"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.t("users")+`
		    SET name = $2, credential = $3, session_id = $4, disabled = $5, tags = $6
		  WHERE id = $1`,
		u.ID, u.Name, u.Credential, u.Session, u.Disabled, nonNil(u.Tags),
	)
	if err != nil {
		return mapUnique(op, err)
	}
	if tag.RowsAffected() == 0 {
		return userNotFound(op)
	}
	return nil
}

func (s *PostgresStore) Attach(ctx context.Context, sessionID, userID string, mark Marker) (string, error) {
	const op = "store.Attach"

	var prev string
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		err := tx.QueryRow(ctx,
			`SELECT session_id FROM `+s.t("users")+` WHERE id = $1 FOR UPDATE`, userID,
		).Scan(&prev)
		if errors.Is(err, pgx.ErrNoRows) {
			return userNotFound(op)
		}
		if err != nil {
			return err
		}
		if prev == sessionID {
			prev = ""
		}

		ledger, err := s.loadEvidence(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := s.insertEvidence(ctx, tx, sessionID, mark(ledger)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.t("sessions")+` SET user_id = $2 WHERE id = $1`, sessionID, userID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE `+s.t("users")+` SET session_id = $2 WHERE id = $1`, userID, sessionID)
		return err
	})
	if err != nil {
		return "", err
	}
	return prev, nil
}

func (s *PostgresStore) Detach(ctx context.Context, sessionID, userID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.t("sessions")+` SET user_id = '' WHERE id = $1 AND user_id = $2`,
			sessionID, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE `+s.t("users")+` SET session_id = '' WHERE id = $1 AND session_id = $2`,
			userID, sessionID)
		return err
	})
}

func (s *PostgresStore) PostAlert(ctx context.Context, a alerts.Alert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t("alerts")+` (id, kind, from_session, to_session, broadcast, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Kind, a.FromSession, a.ToSession, a.Broadcast, a.Text, a.CreatedAt,
	)
	return mapUnique("store.PostAlert", err)
}

// AlertsFor returns the newest alerts addressed to sessionID, newest first.
func (s *PostgresStore) AlertsFor(ctx context.Context, sessionID string, limit int) ([]alerts.Alert, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	var out []alerts.Alert
	err := pgxscan.Select(ctx, s.pool, &out,
		`SELECT id, kind, from_session, to_session, broadcast, text, created_at
		   FROM `+s.t("alerts")+`
		  WHERE broadcast OR (to_session <> '' AND to_session = $1)
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CreatedAt = out[i].CreatedAt.UTC()
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close(_ context.Context) error { return nil }

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) lockSession(ctx context.Context, tx pgx.Tx, sessionID string) error {
	var id string
	err := tx.QueryRow(ctx,
		`SELECT id FROM `+s.t("sessions")+` WHERE id = $1 FOR UPDATE`, sessionID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.ErrSessionNotFound
	}
	return err
}

func (s *PostgresStore) insertEvidence(ctx context.Context, tx pgx.Tx, sessionID string, rec evidence.Record) error {
	signals, err := jsonObject(rec.Signals)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.t("session_evidence")+` (session_id, ts, ek, user_id, signals)
		 VALUES ($1, $2, $3, $4, $5::jsonb)`,
		sessionID, rec.TS, rec.EK, rec.User, signals,
	)
	return err
}

func (s *PostgresStore) insertActivity(ctx context.Context, tx pgx.Tx, sessionID string, a session.Activity) error {
	var detail *string
	if len(a.Detail) > 0 {
		b, err := json.Marshal(a.Detail)
		if err != nil {
			return err
		}
		v := string(b)
		detail = &v
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO `+s.t("session_activity")+` (session_id, ts, action, user_id, detail)
		 VALUES ($1, $2, $3, $4, $5::jsonb)`,
		sessionID, a.TS, a.Action, a.User, detail,
	)
	return err
}

func jsonObject[M ~map[string]V, V any](m M) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func mapUnique(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" { // unique_violation
		return err
	}
	switch strings.ToLower(pgErr.ConstraintName) {
	case "uq_users_name":
		return identity.ConflictError{Op: op, Field: "name"}
	case "uq_sessions_key_hash":
		return identity.ConflictError{Op: op, Field: "session_key"}
	default:
		return identity.ConflictError{Op: op, Field: "id"}
	}
}
