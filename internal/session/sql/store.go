// Package sessionsql keeps session records server-side in Postgres. Unlike
// the valkey backend there is no native TTL, so the housekeeper job purges
// rows past their cookie lifetime.
package sessionsql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	slogctx "github.com/veqryn/slog-context"

	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/pkce"
	"github.com/perimetra/authgate/internal/session"
)

type Store struct {
	db       *pgxpool.Pool
	template config.CookieTemplate
	ttl      time.Duration
	ids      pkce.Source
}

func New(db *pgxpool.Pool, template config.CookieTemplate, ttl time.Duration) *Store {
	return &Store{
		db:       db,
		template: template,
		ttl:      ttl,
	}
}

func (s *Store) Load(r *http.Request) (session.Session, bool) {
	cookie, err := r.Cookie(s.template.Name)
	if err != nil || cookie.Value == "" {
		return session.Session{}, false
	}

	ctx := r.Context()

	var sess session.Session
	var userInfo []byte
	if err := s.db.QueryRow(ctx, `SELECT id, access_token, refresh_token, token_type, expires_at, csrf_token, fingerprint, user_info
FROM auth_session
WHERE id = $1
	AND purge_after > now();`,
		cookie.Value,
	).Scan(&sess.ID, &sess.AccessToken, &sess.RefreshToken, &sess.TokenType, &sess.ExpiresAt, &sess.CSRFToken, &sess.Fingerprint, &userInfo); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slogctx.Error(ctx, "Failed to read session from database", "error", err)
		}

		return session.Session{}, false
	}

	if err := json.Unmarshal(userInfo, &sess.User); err != nil {
		return session.Session{}, false
	}

	if sess.AccessToken == "" {
		return session.Session{}, false
	}

	return sess, true
}

func (s *Store) Save(w http.ResponseWriter, r *http.Request, sess session.Session) error {
	id := ""
	if cookie, err := r.Cookie(s.template.Name); err == nil {
		id = cookie.Value
	}
	if id == "" {
		id = s.ids.SessionID()
	}

	userInfo, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encoding user info: %w", err)
	}

	if _, err := s.db.Exec(r.Context(), `INSERT INTO auth_session (id, access_token, refresh_token, token_type, expires_at, csrf_token, fingerprint, user_info, purge_after)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now() + $9)
ON CONFLICT (id)
DO UPDATE SET (access_token, refresh_token, token_type, expires_at, csrf_token, fingerprint, user_info, purge_after) =
	(EXCLUDED.access_token, EXCLUDED.refresh_token, EXCLUDED.token_type, EXCLUDED.expires_at, EXCLUDED.csrf_token, EXCLUDED.fingerprint, EXCLUDED.user_info, EXCLUDED.purge_after);`,
		id, sess.AccessToken, sess.RefreshToken, sess.TokenType, sess.ExpiresAt, sess.CSRFToken, sess.Fingerprint, userInfo, s.ttl,
	); err != nil {
		return fmt.Errorf("upserting into auth_session: %w", err)
	}

	http.SetCookie(w, s.template.ToCookie(id))

	return nil
}

func (s *Store) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if cookie, err := r.Cookie(s.template.Name); err == nil && cookie.Value != "" {
		if _, err := s.db.Exec(ctx, `DELETE FROM auth_session WHERE id = $1;`, cookie.Value); err != nil {
			slogctx.Error(ctx, "Failed to delete session from database", "error", err)
		}
	}

	http.SetCookie(w, s.template.Expired())
}

var _ session.Store = (*Store)(nil)

// PurgeExpired deletes rows whose cookie lifetime has passed and returns
// how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM auth_session WHERE purge_after <= now();`)
	if err != nil {
		return 0, fmt.Errorf("purging auth_session: %w", err)
	}

	return tag.RowsAffected(), nil
}
