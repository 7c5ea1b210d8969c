// Package sessionvalkey keeps session records server-side in Valkey. The
// browser only holds an opaque session ID; record lifetime is enforced by
// key TTL, so expired sessions vanish without housekeeping.
package sessionvalkey

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/pkce"
	"github.com/perimetra/authgate/internal/session"
)

const objectTypeSession = "session"

type Store struct {
	valkey   valkey.Client
	prefix   string
	template config.CookieTemplate
	ttl      time.Duration
	ids      pkce.Source
}

func New(valkeyClient valkey.Client, prefix string, template config.CookieTemplate, ttl time.Duration) *Store {
	prefix = strings.TrimSuffix(prefix, ":")

	return &Store{
		valkey:   valkeyClient,
		prefix:   prefix,
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

	data, err := s.valkey.Do(ctx, s.valkey.B().Get().Key(s.key(cookie.Value)).Build()).AsBytes()
	if err != nil {
		if valkeyErr, ok := valkey.IsValkeyErr(err); !ok || !valkeyErr.IsNil() {
			slogctx.Error(ctx, "Failed to read session from valkey", "error", err)
		}

		return session.Session{}, false
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return session.Session{}, false
	}

	if sess.AccessToken == "" {
		return session.Session{}, false
	}

	return sess, true
}

// Save writes the record under the ID from the existing cookie, or mints a
// fresh ID when the browser has none yet.
func (s *Store) Save(w http.ResponseWriter, r *http.Request, sess session.Session) error {
	id := ""
	if cookie, err := r.Cookie(s.template.Name); err == nil {
		id = cookie.Value
	}
	if id == "" {
		id = s.ids.SessionID()
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	cmd := s.valkey.B().Set().Key(s.key(id)).Value(valkey.BinaryString(data)).ExSeconds(int64(s.ttl.Seconds())).Build()
	if err := s.valkey.Do(r.Context(), cmd).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	http.SetCookie(w, s.template.ToCookie(id))

	return nil
}

func (s *Store) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if cookie, err := r.Cookie(s.template.Name); err == nil && cookie.Value != "" {
		if err := s.valkey.Do(ctx, s.valkey.B().Del().Key(s.key(cookie.Value)).Build()).Error(); err != nil {
			slogctx.Error(ctx, "Failed to delete session from valkey", "error", err)
		}
	}

	http.SetCookie(w, s.template.Expired())
}

func (s *Store) key(id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectTypeSession, id)
}

var _ session.Store = (*Store)(nil)

// Sessions lists all stored session records, for housekeeping.
func (s *Store) Sessions(ctx context.Context) ([]session.Session, error) {
	var sessions []session.Session

	pattern := s.key("*")
	var cursor uint64
	for {
		scan, err := s.valkey.Do(ctx, s.valkey.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build()).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("executing scan command: %w", err)
		}

		cursor = scan.Cursor
		for _, key := range scan.Elements {
			data, err := s.valkey.Do(ctx, s.valkey.B().Get().Key(key).Build()).AsBytes()
			if err != nil {
				if valkeyErr, ok := valkey.IsValkeyErr(err); ok && valkeyErr.IsNil() {
					continue // expired between scan and get
				}

				return nil, fmt.Errorf("getting an element: %w", err)
			}

			var sess session.Session
			if err := json.Unmarshal(data, &sess); err != nil {
				return nil, fmt.Errorf("decoding session: %w", err)
			}

			sessions = append(sessions, sess)
		}

		if cursor == 0 {
			return sessions, nil
		}
	}
}
