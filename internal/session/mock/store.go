// Package sessionmock provides an in-memory session store for tests.
package sessionmock

import (
	"net/http"
	"sync"

	"github.com/perimetra/authgate/internal/session"
)

// Store keeps at most one session in memory. It ignores the request and
// response entirely, which is enough for exercising the manager and the
// request wrapper without a browser in the loop.
type Store struct {
	mu      sync.Mutex
	current session.Session
	present bool

	SaveErr error // returned by Save when set

	Saves  int
	Clears int
}

var _ session.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{}
}

// Seed puts a session in place without counting as a Save.
func (s *Store) Seed(sess session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = sess
	s.present = true
}

func (s *Store) Load(_ *http.Request) (session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current, s.present
}

func (s *Store) Save(_ http.ResponseWriter, _ *http.Request, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}

	s.current = sess
	s.present = true
	s.Saves++

	return nil
}

func (s *Store) Clear(_ http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = session.Session{}
	s.present = false
	s.Clears++
}
