package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/interfaces"
	"github.com/ternarybob/roster/internal/models"
	"github.com/ternarybob/roster/internal/services/browser/browsertest"
)

// MockAuthenticator is a mock implementation of Authenticator
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(ctx context.Context, session interfaces.BrowserSession, creds models.Credentials) ([]*models.Cookie, error) {
	args := m.Called(ctx, session, creds)
	if cookies, ok := args.Get(0).([]*models.Cookie); ok {
		return cookies, args.Error(1)
	}
	return nil, args.Error(1)
}

var testCreds = models.Credentials{Username: "roster", Password: "secret"}

func newTestRestorer(t *testing.T, authenticator interfaces.Authenticator) (*Restorer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth_cache")
	return NewRestorer(NewFileCache(path), authenticator, "https://example.com", "auth_token", arbor.NewNoOpLogger()), path
}

func TestRestore_FromCache(t *testing.T) {
	authenticator := &MockAuthenticator{}
	restorer, path := newTestRestorer(t, authenticator)
	require.NoError(t, os.WriteFile(path, []byte("auth_token=XYZ; Domain=example.com"), 0o600))

	session := browsertest.New(nil)
	session.SetCookies(&models.Cookie{Name: "guest_id", Value: "g1", Domain: "example.com"})

	require.NoError(t, restorer.Restore(context.Background(), session, testCreds))

	authenticator.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)

	jar, err := session.Cookies(context.Background())
	require.NoError(t, err)
	require.Len(t, jar, 1)
	assert.Equal(t, "auth_token", jar[0].Name)
	assert.Equal(t, "XYZ", jar[0].Value)
	assert.Equal(t, "example.com", jar[0].Domain)

	assert.Equal(t, []string{
		"navigate https://example.com",
		"delete-cookies",
		"add-cookie auth_token",
		"refresh",
	}, session.Calls())
}

func TestRestore_CacheMissLogsInAndPopulates(t *testing.T) {
	session := browsertest.New(nil)

	authenticator := &MockAuthenticator{}
	authenticator.On("Login", mock.Anything, session, testCreds).Return([]*models.Cookie{
		{Name: "guest_id", Value: "g1", Domain: "example.com"},
		{Name: "auth_token", Value: "old", Domain: "example.com"},
		{Name: "auth_token", Value: "fresh", Domain: "example.com", Path: "/", Secure: true, HTTPOnly: true},
	}, nil).Once()

	restorer, path := newTestRestorer(t, authenticator)

	require.NoError(t, restorer.Restore(context.Background(), session, testCreds))
	authenticator.AssertNumberOfCalls(t, "Login", 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	cookie, err := models.ParseCookie(string(data))
	require.NoError(t, err)
	assert.Equal(t, "auth_token", cookie.Name)
	assert.Equal(t, "fresh", cookie.Value)
	assert.True(t, cookie.Secure)
	assert.True(t, cookie.HTTPOnly)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRestore_CacheOverwritten(t *testing.T) {
	session := browsertest.New(nil)
	session.AddCookieErr = errors.New("cookie rejected")

	authenticator := &MockAuthenticator{}
	authenticator.On("Login", mock.Anything, session, testCreds).Return([]*models.Cookie{
		{Name: "auth_token", Value: "new", Domain: "example.com"},
	}, nil).Once()

	restorer, path := newTestRestorer(t, authenticator)
	require.NoError(t, os.WriteFile(path, []byte("auth_token=stale; Domain=example.com; some trailing junk"), 0o600))

	// The stale token fails to install, so the cache is discarded and replaced by a fresh login
	require.NoError(t, restorer.Restore(context.Background(), session, testCreds))
	authenticator.AssertExpectations(t)

	cookie, err := NewFileCache(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "new", cookie.Value)
}

func TestRestore_LoginWithoutAuthCookie(t *testing.T) {
	session := browsertest.New(nil)
	authenticator := &MockAuthenticator{}
	authenticator.On("Login", mock.Anything, session, testCreds).Return([]*models.Cookie{
		{Name: "guest_id", Value: "g1"},
	}, nil)

	restorer, path := newTestRestorer(t, authenticator)

	err := restorer.Restore(context.Background(), session, testCreds)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthCookieMissing)

	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestRestore_LoginFailurePropagates(t *testing.T) {
	session := browsertest.New(nil)
	authenticator := &MockAuthenticator{}
	authenticator.On("Login", mock.Anything, session, testCreds).Return(nil, ErrSiteDown)

	restorer, _ := newTestRestorer(t, authenticator)

	err := restorer.Restore(context.Background(), session, testCreds)
	assert.ErrorIs(t, err, ErrSiteDown)
}

func TestRestore_NoCredentials(t *testing.T) {
	authenticator := &MockAuthenticator{}
	restorer, _ := newTestRestorer(t, authenticator)

	err := restorer.Restore(context.Background(), browsertest.New(nil), models.Credentials{})
	assert.ErrorIs(t, err, ErrNoCredentials)
	authenticator.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}

func TestRestore_ConcurrentFirstLoginsAreSerialized(t *testing.T) {
	authenticator := &MockAuthenticator{}
	authenticator.On("Login", mock.Anything, mock.Anything, testCreds).
		After(20*time.Millisecond).
		Return([]*models.Cookie{{Name: "auth_token", Value: "shared", Domain: "example.com"}}, nil)

	restorer, _ := newTestRestorer(t, authenticator)

	const checkouts = 4
	sessions := make([]*browsertest.Session, checkouts)
	var wg sync.WaitGroup
	for i := 0; i < checkouts; i++ {
		sessions[i] = browsertest.New(nil)
		wg.Add(1)
		go func(s *browsertest.Session) {
			defer wg.Done()
			assert.NoError(t, restorer.Restore(context.Background(), s, testCreds))
		}(sessions[i])
	}
	wg.Wait()

	authenticator.AssertNumberOfCalls(t, "Login", 1)

	// Everyone but the session that logged in restored the shared token
	restored := 0
	for _, s := range sessions {
		jar, _ := s.Cookies(context.Background())
		if len(jar) == 1 && jar[0].Value == "shared" {
			restored++
		}
	}
	assert.Equal(t, checkouts-1, restored)
}

// A checkout cancelled while waiting for another login must not throw away the
// token that login cached
func TestRestore_CancelledWaiterKeepsConcurrentCache(t *testing.T) {
	authenticator := &MockAuthenticator{}
	restorer, path := newTestRestorer(t, authenticator)

	// An unreadable cache sends Restore straight to the login path, removing it on the way
	require.NoError(t, os.Mkdir(path, 0o700))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	restorer.loginMu.Lock()
	done := make(chan error, 1)
	go func() {
		done <- restorer.Restore(ctx, browsertest.New(nil), testCreds)
	}()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, time.Millisecond)

	// The login this checkout was waiting behind populates the cache
	require.NoError(t, restorer.cache.Store(&models.Cookie{Name: "auth_token", Value: "concurrent", Domain: "example.com"}))
	restorer.loginMu.Unlock()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	cookie, err := restorer.cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "concurrent", cookie.Value)
	authenticator.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}

func TestFileCache_LoadMissingAndDiscard(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), "nested", "auth_cache"))

	_, err := cache.Load()
	assert.ErrorIs(t, err, ErrNoCachedSession)
	assert.NoError(t, cache.Discard())

	require.NoError(t, cache.Store(&models.Cookie{Name: "auth_token", Value: "XYZ", Domain: "example.com"}))
	cookie, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "XYZ", cookie.Value)

	require.NoError(t, cache.Discard())
	_, err = cache.Load()
	assert.ErrorIs(t, err, ErrNoCachedSession)
}

func TestFileCache_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth_cache")
	require.NoError(t, os.WriteFile(path, []byte("   "), 0o600))

	_, err := NewFileCache(path).Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCachedSession)
}
