// Package sessioncookie keeps the whole session record in the browser, in
// an HMAC-authenticated and optionally AES-encrypted cookie. The gateway
// stays stateless; the cookie is the only persistence layer.
package sessioncookie

import (
	"errors"
	"net/http"

	"github.com/gorilla/securecookie"

	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/session"
)

type Store struct {
	codec    *securecookie.SecureCookie
	template config.CookieTemplate
}

// New creates a cookie store. hashKey authenticates the payload and must be
// at least 32 bytes; blockKey is optional and, when given, must be a valid
// AES key length (16, 24 or 32 bytes) to also encrypt the payload.
func New(template config.CookieTemplate, hashKey, blockKey []byte) (*Store, error) {
	if len(hashKey) < 32 {
		return nil, errors.New("cookie hash key must be at least 32 bytes")
	}

	switch len(blockKey) {
	case 0:
		blockKey = nil
	case 16, 24, 32:
	default:
		return nil, errors.New("cookie block key must be 16, 24 or 32 bytes")
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(template.MaxAge)

	return &Store{
		codec:    codec,
		template: template,
	}, nil
}

// Load returns the session from the request cookie. A missing cookie, a bad
// signature or a malformed payload all read as "no session".
func (s *Store) Load(r *http.Request) (session.Session, bool) {
	cookie, err := r.Cookie(s.template.Name)
	if err != nil {
		return session.Session{}, false
	}

	var sess session.Session
	if err := s.codec.Decode(s.template.Name, cookie.Value, &sess); err != nil {
		return session.Session{}, false
	}

	if sess.AccessToken == "" {
		return session.Session{}, false
	}

	return sess, true
}

func (s *Store) Save(w http.ResponseWriter, _ *http.Request, sess session.Session) error {
	encoded, err := s.codec.Encode(s.template.Name, sess)
	if err != nil {
		return err
	}

	http.SetCookie(w, s.template.ToCookie(encoded))

	return nil
}

func (s *Store) Clear(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, s.template.Expired())
}
