package interfaces

import (
	"context"

	"github.com/ternarybob/roster/internal/models"
)

// BrowserSession is a live handle to one remote browser tab.
// Every method is a round trip to the automation server.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	Source(ctx context.Context) (string, error)
	ExecuteScript(ctx context.Context, script string) error

	// Click and SendKeys accept CSS selectors or XPath expressions.
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	// Exists reports whether at least one node matches selector without waiting for it.
	Exists(ctx context.Context, selector string) (bool, error)

	Cookies(ctx context.Context) ([]*models.Cookie, error)
	AddCookie(ctx context.Context, cookie *models.Cookie) error
	DeleteAllCookies(ctx context.Context) error
	Refresh(ctx context.Context) error
	Close(ctx context.Context) error
}

// SessionFactory opens a new browser session against the automation server on port
type SessionFactory interface {
	Open(ctx context.Context, port int) (BrowserSession, error)
}

// Authenticator performs the interactive login on a session and returns the resulting cookies
type Authenticator interface {
	Login(ctx context.Context, session BrowserSession, creds models.Credentials) ([]*models.Cookie, error)
}

// AuthRestorer makes a freshly opened session authenticated, from cache or by logging in
type AuthRestorer interface {
	Restore(ctx context.Context, session BrowserSession, creds models.Credentials) error
}

// PageParser turns page snapshots into typed records. It owns all selector knowledge.
type PageParser interface {
	FollowingUsers(src string) []string
	PostLinks(src string) []string
	Profile(src string) (*models.Profile, error)
	BannerURL(src string) (string, error)
	Post(src, link string) (*models.Post, error)
}
