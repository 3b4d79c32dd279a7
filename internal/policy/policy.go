// Package policy decides whether a request path may be served given the
// presence of a session.
package policy

import (
	"path"
	"strings"
)

type Decision int

const (
	Allow Decision = iota
	RedirectToLogin
	RedirectToHome
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectToHome:
		return "redirect_to_home"
	default:
		return "unknown"
	}
}

// Routes is the route table the policy is evaluated against. Protected and
// Auth are path prefixes.
type Routes struct {
	Protected []string
	Auth      []string
	LoginPath string
	HomePath  string
}

func DefaultRoutes() Routes {
	return Routes{
		Protected: []string{"/dashboard", "/video", "/profile"},
		Auth:      []string{"/login", "/register"},
		LoginPath: "/login",
		HomePath:  "/dashboard",
	}
}

// Decide applies, in order: protected path without a session goes to login,
// auth page with a session goes home, everything else is allowed.
func (r Routes) Decide(requestPath string, sessionPresent bool) Decision {
	p := normalize(requestPath)

	if !sessionPresent && matchesAny(p, r.Protected) {
		return RedirectToLogin
	}
	if sessionPresent && matchesAny(p, r.Auth) {
		return RedirectToHome
	}
	return Allow
}

// Target returns where a redirect decision points to.
func (r Routes) Target(d Decision) string {
	switch d {
	case RedirectToLogin:
		return r.LoginPath
	case RedirectToHome:
		return r.HomePath
	default:
		return ""
	}
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func matchesAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if matches(p, prefix) {
			return true
		}
	}
	return false
}

// matches is segment aware: "/login" matches "/login" and "/login/x" but not "/loginx".
func matches(p, prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return false
	}
	prefix = strings.TrimSuffix(normalize(prefix), "/")
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
