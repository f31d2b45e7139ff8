package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/common"
	"github.com/ternarybob/roster/internal/interfaces"
	"github.com/ternarybob/roster/internal/models"
)

// ErrSiteDown is returned when the landing page reports the site is unavailable
var ErrSiteDown = errors.New("site is down")

// LoginSelectors locate the controls of the sign-in dialog. Values may be CSS
// selectors or XPath expressions.
type LoginSelectors struct {
	SignIn        string
	UsernameInput string
	Next          string
	ConfirmInput  string
	ConfirmNext   string
	PasswordInput string
	Submit        string
}

// DefaultLoginSelectors returns selectors for the current sign-in dialog
func DefaultLoginSelectors() LoginSelectors {
	return LoginSelectors{
		SignIn:        `a[href="/login"]`,
		UsernameInput: `input[autocomplete="username"]`,
		Next:          `//button[.//span[text()="Next"]]`,
		ConfirmInput:  `input[data-testid="ocfEnterTextTextInput"]`,
		ConfirmNext:   `button[data-testid="ocfEnterTextNextButton"]`,
		PasswordInput: `input[name="password"]`,
		Submit:        `button[data-testid="LoginForm_Login_Button"]`,
	}
}

const confirmationMarker = "Enter your phone number"

// LoginFlow performs the interactive sign-in against the site root
type LoginFlow struct {
	baseURL    string
	downMarker string
	stepDelay  time.Duration
	selectors  LoginSelectors
	logger     arbor.ILogger
}

var _ interfaces.Authenticator = (*LoginFlow)(nil)

// NewLoginFlow creates the login flow. stepDelay is waited after every
// interaction so the dialog can render its next step.
func NewLoginFlow(baseURL, downMarker string, stepDelay time.Duration, selectors LoginSelectors, logger arbor.ILogger) *LoginFlow {
	return &LoginFlow{
		baseURL:    baseURL,
		downMarker: downMarker,
		stepDelay:  stepDelay,
		selectors:  selectors,
		logger:     logger,
	}
}

// Login signs in with creds and returns every cookie the session holds afterwards
func (l *LoginFlow) Login(ctx context.Context, session interfaces.BrowserSession, creds models.Credentials) ([]*models.Cookie, error) {
	if err := session.Navigate(ctx, l.baseURL); err != nil {
		return nil, err
	}
	if err := common.Sleep(ctx, l.stepDelay); err != nil {
		return nil, err
	}

	src, err := session.Source(ctx)
	if err != nil {
		return nil, err
	}
	if l.downMarker != "" && strings.Contains(src, l.downMarker) {
		return nil, ErrSiteDown
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"open sign-in dialog", func() error { return session.Click(ctx, l.selectors.SignIn) }},
		{"type username", func() error { return session.SendKeys(ctx, l.selectors.UsernameInput, creds.Username) }},
		{"submit username", func() error { return session.Click(ctx, l.selectors.Next) }},
		{"confirm identity", func() error { return l.confirmIfAsked(ctx, session, creds) }},
		{"type password", func() error { return session.SendKeys(ctx, l.selectors.PasswordInput, creds.Password) }},
		{"submit password", func() error { return session.Click(ctx, l.selectors.Submit) }},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			return nil, fmt.Errorf("login step %q failed: %w", step.name, err)
		}
		l.logger.Debug().Str("step", step.name).Msg("Login step completed")
		if err := common.Sleep(ctx, l.stepDelay); err != nil {
			return nil, err
		}
	}

	cookies, err := session.Cookies(ctx)
	if err != nil {
		return nil, err
	}

	l.logger.Info().Int("cookies", len(cookies)).Msg("Login completed")
	return cookies, nil
}

// confirmIfAsked answers the "enter your phone number or username" check the
// site shows for unusual sign-ins. Not being asked is not an error.
func (l *LoginFlow) confirmIfAsked(ctx context.Context, session interfaces.BrowserSession, creds models.Credentials) error {
	src, err := session.Source(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(src, confirmationMarker) {
		return nil
	}

	l.logger.Info().Msg("Got the confirmation dialog")
	if err := session.SendKeys(ctx, l.selectors.ConfirmInput, creds.Username); err != nil {
		return err
	}
	if err := common.Sleep(ctx, l.stepDelay); err != nil {
		return err
	}
	return session.Click(ctx, l.selectors.ConfirmNext)
}
