package models

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Cookie is the durable session token captured after an interactive login.
// It owns all of its fields; the cache file holds its Set-Cookie serialization.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires"`  // Zero for session cookies
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"httpOnly"`
	SameSite string    `json:"sameSite"` // "Strict", "Lax", "None" or empty
}

// String serializes the cookie as `name=value; Domain=...; Path=...`.
func (c *Cookie) String() string {
	return c.toHTTPCookie().String()
}

func (c *Cookie) toHTTPCookie() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if !c.Expires.IsZero() {
		hc.Expires = c.Expires
	}

	switch strings.ToLower(c.SameSite) {
	case "strict":
		hc.SameSite = http.SameSiteStrictMode
	case "lax":
		hc.SameSite = http.SameSiteLaxMode
	case "none":
		hc.SameSite = http.SameSiteNoneMode
	}

	return hc
}

// ParseCookie parses the serialized form produced by Cookie.String.
func ParseCookie(raw string) (*Cookie, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty cookie string")
	}

	hc, err := http.ParseSetCookie(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cookie: %w", err)
	}

	c := &Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Domain:   hc.Domain,
		Path:     hc.Path,
		Expires:  hc.Expires,
		Secure:   hc.Secure,
		HTTPOnly: hc.HttpOnly,
	}

	switch hc.SameSite {
	case http.SameSiteStrictMode:
		c.SameSite = "Strict"
	case http.SameSiteLaxMode:
		c.SameSite = "Lax"
	case http.SameSiteNoneMode:
		c.SameSite = "None"
	}

	return c, nil
}

// Credentials are the account details used by the interactive login flow
type Credentials struct {
	Username string
	Password string
}

// IsZero reports whether no credentials were supplied
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}
