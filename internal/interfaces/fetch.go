package interfaces

import (
	"context"

	"github.com/ternarybob/roster/internal/models"
)

// UserFetcher discovers work items and runs the per-item pipeline on a leased session
type UserFetcher interface {
	// DiscoverFollowing returns every account the configured user follows, in page order
	DiscoverFollowing(ctx context.Context, session BrowserSession) ([]string, error)
	// FetchUser fetches the profile and recent posts of username
	FetchUser(ctx context.Context, session BrowserSession, username string) (*models.UserRecord, error)
}
