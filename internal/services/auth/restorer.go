package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/interfaces"
	"github.com/ternarybob/roster/internal/models"
)

var (
	// ErrAuthCookieMissing is returned when a login finished without producing the operative cookie
	ErrAuthCookieMissing = errors.New("auth cookie missing after login")
	// ErrNoCredentials is returned when an interactive login is needed but no credentials were configured
	ErrNoCredentials = errors.New("no credentials configured")
)

// Restorer makes a freshly opened session authenticated. A cached cookie is
// installed when present; otherwise the Authenticator logs in and the
// resulting cookie is cached for the next checkout.
type Restorer struct {
	cache         *FileCache
	authenticator interfaces.Authenticator
	baseURL       string
	cookieName    string
	logger        arbor.ILogger

	// loginMu serializes interactive logins so concurrent first checkouts
	// log in once and share the cached result
	loginMu sync.Mutex
}

var _ interfaces.AuthRestorer = (*Restorer)(nil)

// NewRestorer creates a restorer. cookieName identifies the cookie that is cached
// out of everything the login leaves in the jar.
func NewRestorer(cache *FileCache, authenticator interfaces.Authenticator, baseURL, cookieName string, logger arbor.ILogger) *Restorer {
	return &Restorer{
		cache:         cache,
		authenticator: authenticator,
		baseURL:       baseURL,
		cookieName:    cookieName,
		logger:        logger,
	}
}

// Restore authenticates session. A cached token that cannot be installed is
// discarded and the same call falls back to an interactive login.
func (r *Restorer) Restore(ctx context.Context, session interfaces.BrowserSession, creds models.Credentials) error {
	cookie, err := r.cache.Load()
	switch {
	case err == nil:
		r.logger.Debug().Str("cookie", cookie.Name).Msg("Found cached auth")
		installErr := r.install(ctx, session, cookie)
		if installErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return installErr
		}
		r.logger.Warn().Err(installErr).Msg("Cached auth could not be restored, discarding cache")
		if err := r.cache.Discard(); err != nil {
			return err
		}
	case errors.Is(err, ErrNoCachedSession):
		r.logger.Debug().Str("path", r.cache.Path()).Msg("No cached auth")
	default:
		r.logger.Warn().Err(err).Msg("Auth cache unreadable, discarding cache")
		if err := r.cache.Discard(); err != nil {
			return err
		}
	}

	return r.login(ctx, session, creds)
}

func (r *Restorer) login(ctx context.Context, session interfaces.BrowserSession, creds models.Credentials) error {
	r.loginMu.Lock()
	defer r.loginMu.Unlock()

	// A concurrent checkout may have logged in while this one waited
	if cookie, err := r.cache.Load(); err == nil {
		installErr := r.install(ctx, session, cookie)
		if installErr == nil {
			r.logger.Debug().Msg("Restored auth cached by a concurrent login")
			return nil
		}
		if ctx.Err() != nil {
			return installErr
		}
		if err := r.cache.Discard(); err != nil {
			return err
		}
	}

	if creds.Username == "" || creds.Password == "" {
		return ErrNoCredentials
	}

	r.logger.Info().Str("username", creds.Username).Msg("Reloading auth from site")

	cookies, err := r.authenticator.Login(ctx, session, creds)
	if err != nil {
		return fmt.Errorf("interactive login failed: %w", err)
	}

	var token *models.Cookie
	for _, c := range cookies {
		if c.Name == r.cookieName {
			token = c
		}
	}
	if token == nil {
		return fmt.Errorf("%w: %s", ErrAuthCookieMissing, r.cookieName)
	}

	if err := r.cache.Store(token); err != nil {
		return err
	}

	r.logger.Info().
		Str("cookie", token.Name).
		Str("path", r.cache.Path()).
		Msg("Auth cookie cached")

	return nil
}

// install replaces the session's cookies with cookie and reloads the site root.
// Success is taken from the cookie operations succeeding; the page is not inspected.
func (r *Restorer) install(ctx context.Context, session interfaces.BrowserSession, cookie *models.Cookie) error {
	if cookie.Domain == "" {
		if u, err := url.Parse(r.baseURL); err == nil {
			withDomain := *cookie
			withDomain.Domain = u.Hostname()
			cookie = &withDomain
		}
	}

	if err := session.Navigate(ctx, r.baseURL); err != nil {
		return err
	}
	if err := session.DeleteAllCookies(ctx); err != nil {
		return err
	}
	if err := session.AddCookie(ctx, cookie); err != nil {
		return err
	}
	return session.Refresh(ctx)
}
