// Package guard gates navigation to protected and admin views.
package guard

import "github.com/mbd888/ledgerview/internal/session"

// Well-known paths the guard redirects to.
const (
	LoginPath   = "/login"
	LandingPath = "/dashboard"
)

// Decision is the outcome of evaluating a navigation request.
type Decision struct {
	Allow      bool
	RedirectTo string // set when Allow is false
	ReturnTo   string // original path, preserved for post-login return
}

// Allow is the positive decision.
var Allow = Decision{Allow: true}

// Evaluate decides whether a session may enter path. requiredRole may be
// empty, meaning any authenticated user. A banned session is treated exactly
// like no session: forced redirect, never "allow with warning".
func Evaluate(sess *session.Session, requiredRole session.Role, path string) Decision {
	if sess == nil || sess.Token == "" || sess.User.Banned {
		return Decision{RedirectTo: LoginPath, ReturnTo: path}
	}

	if requiredRole != "" && sess.User.Role != requiredRole {
		return Decision{RedirectTo: LandingPath}
	}

	return Allow
}
