// Package identity turns an inbound request into the stable identity key the
// engine buckets on, and decides whether the caller may create experiments.
package identity

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultCookieName is the cookie carrying the identity when none is configured.
const DefaultCookieName = "bingo_id"

// DefaultCookieMaxAge keeps an issued identity, and so its buckets, for a year.
const DefaultCookieMaxAge = 365 * 24 * time.Hour

// DefaultControlHeader carries the control token when none is configured.
const DefaultControlHeader = "X-Bingo-Control"

// maxIdentityLength caps identities taken from clients.
const maxIdentityLength = 128

// Resolver maps a request to an identity. Implementations may set response
// state (cookies) so the same client resolves to the same identity next time.
type Resolver interface {
	Resolve(w http.ResponseWriter, r *http.Request) string
}

// Authorizer decides whether a request may create experiments.
type Authorizer interface {
	CanControl(r *http.Request) bool
}

// CookieResolver keeps the identity in a cookie. Clients without one (or with
// an unusable one) get a fresh random identity.
type CookieResolver struct {
	Name   string
	MaxAge time.Duration
	Secure bool

	newID func() string
}

// NewCookieResolver creates a resolver. An empty name uses DefaultCookieName.
func NewCookieResolver(name string, maxAge time.Duration, secure bool) *CookieResolver {
	if name == "" {
		name = DefaultCookieName
	}
	return &CookieResolver{
		Name:   name,
		MaxAge: maxAge,
		Secure: secure,
		newID:  uuid.NewString,
	}
}

// Resolve returns the cookie identity, issuing a new one when needed.
func (c *CookieResolver) Resolve(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(c.Name); err == nil && valid(cookie.Value) {
		return cookie.Value
	}

	id := c.newID()
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    id,
		Path:     "/",
		MaxAge:   int(c.MaxAge.Seconds()),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func valid(id string) bool {
	if id == "" || len(id) > maxIdentityLength {
		return false
	}
	for _, r := range id {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}

// TokenAuthorizer grants control to requests presenting one of a fixed set
// of tokens in a header. With no tokens configured nobody may create.
type TokenAuthorizer struct {
	header string
	tokens [][]byte
}

// NewTokenAuthorizer creates an authorizer. An empty header uses
// DefaultControlHeader. Empty tokens are ignored.
func NewTokenAuthorizer(header string, tokens []string) *TokenAuthorizer {
	if header == "" {
		header = DefaultControlHeader
	}
	a := &TokenAuthorizer{header: header}
	for _, tok := range tokens {
		if tok != "" {
			a.tokens = append(a.tokens, []byte(tok))
		}
	}
	return a
}

// CanControl compares the presented token against every configured token in
// constant time.
func (a *TokenAuthorizer) CanControl(r *http.Request) bool {
	presented := []byte(r.Header.Get(a.header))
	if len(presented) == 0 {
		return false
	}

	granted := 0
	for _, tok := range a.tokens {
		granted |= subtle.ConstantTimeCompare(presented, tok)
	}
	return granted == 1
}
