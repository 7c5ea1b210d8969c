// Package guard redirects browsers based on their authentication state:
// unauthenticated requests to protected paths go to the login page,
// authenticated requests to the login page go to the landing page.
package guard

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/session"
)

type Guard struct {
	sessions session.Store

	landingPath    string
	loginPath      string
	publicPrefixes []string
}

func New(cfg config.HTTPServer, sessions session.Store) *Guard {
	return &Guard{
		sessions:       sessions,
		landingPath:    cfg.LandingPath,
		loginPath:      cfg.LoginPath,
		publicPrefixes: cfg.PublicPathPrefixes,
	}
}

// Middleware applies the redirect rules. The auth endpoints themselves are
// always passed through: the callback must be reachable mid-login and the
// refresh and logout routes carry their own checks.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if strings.HasPrefix(path, "/auth/") || path == "/probe" {
			next.ServeHTTP(w, r)
			return
		}

		_, authenticated := g.sessions.Load(r)

		if path == g.loginPath {
			if authenticated {
				http.Redirect(w, r, g.landingPath, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
			return
		}

		if g.isPublic(path) {
			next.ServeHTTP(w, r)
			return
		}

		if !authenticated {
			http.Redirect(w, r, g.loginPath+"?redirect="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Guard) isPublic(path string) bool {
	for _, prefix := range g.publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}
