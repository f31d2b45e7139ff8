package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/models"
	"github.com/ternarybob/roster/internal/services/browser/browsertest"
)

func newTestLoginFlow() *LoginFlow {
	return NewLoginFlow("https://example.com", "This page is down", 0, DefaultLoginSelectors(), arbor.NewNoOpLogger())
}

func TestLogin_SiteDown(t *testing.T) {
	session := browsertest.New(map[string]string{
		"https://example.com": "<html><body>This page is down</body></html>",
	})

	_, err := newTestLoginFlow().Login(context.Background(), session, testCreds)
	assert.ErrorIs(t, err, ErrSiteDown)
}

func TestLogin_Steps(t *testing.T) {
	session := browsertest.New(map[string]string{
		"https://example.com": "<html><body>Sign in</body></html>",
	})
	session.SetCookies(&models.Cookie{Name: "auth_token", Value: "XYZ", Domain: "example.com"})

	cookies, err := newTestLoginFlow().Login(context.Background(), session, testCreds)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "auth_token", cookies[0].Name)

	sel := DefaultLoginSelectors()
	var interactions []string
	for _, call := range session.Calls() {
		if strings.HasPrefix(call, "click ") || strings.HasPrefix(call, "keys ") {
			interactions = append(interactions, call)
		}
	}
	assert.Equal(t, []string{
		"click " + sel.SignIn,
		"keys " + sel.UsernameInput,
		"click " + sel.Next,
		"keys " + sel.PasswordInput,
		"click " + sel.Submit,
	}, interactions)
}

func TestLogin_ConfirmationStep(t *testing.T) {
	session := browsertest.New(map[string]string{
		"https://example.com": "<html><body>Enter your phone number or username</body></html>",
	})

	_, err := newTestLoginFlow().Login(context.Background(), session, testCreds)
	require.NoError(t, err)

	sel := DefaultLoginSelectors()
	assert.Contains(t, session.Calls(), "keys "+sel.ConfirmInput)
	assert.Contains(t, session.Calls(), "click "+sel.ConfirmNext)
}

func TestLogin_StepFailureNamesStep(t *testing.T) {
	sel := DefaultLoginSelectors()
	session := browsertest.New(map[string]string{"https://example.com": "<html></html>"})
	session.ClickErr = map[string]error{sel.Submit: errors.New("no such element")}

	_, err := newTestLoginFlow().Login(context.Background(), session, testCreds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit password")
}
