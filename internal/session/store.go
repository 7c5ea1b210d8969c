package session

import "net/http"

// Store persists at most one Session per browser. The browser request and
// response are the addressing scheme: cookie-backed stores keep the whole
// record client-side, server-side stores keep only an opaque session ID in
// the cookie.
//
// Load treats an absent, malformed or tampered record as "no session";
// errors never propagate from reads, the caller is simply logged out.
type Store interface {
	Load(r *http.Request) (Session, bool)
	Save(w http.ResponseWriter, r *http.Request, s Session) error
	Clear(w http.ResponseWriter, r *http.Request)
}
