package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/common"
	"github.com/ternarybob/roster/internal/interfaces"
	"github.com/ternarybob/roster/internal/models"
	"github.com/ternarybob/roster/internal/services/collector"
)

const (
	followingScrollPixels = 100
	postsScrollPixels     = 300
)

// Options controls discovery and the per-user pipeline
type Options struct {
	BaseURL       string
	FetchUsername string

	MaxRetries         int
	RetryDelayBase     time.Duration
	SettleDelay        time.Duration
	PageLoadDelay      time.Duration
	FollowingPageDelay time.Duration

	MaxLinksPerFetch int
	FetchPosts       bool

	// Clicked through the session; CSS or XPath
	BannerOpen     string
	BannerClose    string
	SensitiveGuard string
}

// Fetcher drives a leased session through the site's pages
type Fetcher struct {
	options Options
	parser  interfaces.PageParser
	logger  arbor.ILogger
}

var _ interfaces.UserFetcher = (*Fetcher)(nil)

// NewFetcher creates a fetcher
func NewFetcher(options Options, parser interfaces.PageParser, logger arbor.ILogger) *Fetcher {
	options.BaseURL = strings.TrimRight(options.BaseURL, "/")
	return &Fetcher{
		options: options,
		parser:  parser,
		logger:  logger,
	}
}

// DiscoverFollowing scrolls the configured user's following list until it stops growing
func (f *Fetcher) DiscoverFollowing(ctx context.Context, session interfaces.BrowserSession) ([]string, error) {
	url := fmt.Sprintf("%s/%s/following", f.options.BaseURL, f.options.FetchUsername)
	if err := session.Navigate(ctx, url); err != nil {
		return nil, err
	}
	if err := common.Sleep(ctx, f.options.FollowingPageDelay); err != nil {
		return nil, err
	}

	users, err := collector.Collect(ctx, session, collector.Options{
		Name:        "following",
		Scroll:      collector.ScrollBy(followingScrollPixels),
		Extract:     f.parser.FollowingUsers,
		MaxRetries:  f.options.MaxRetries,
		SettleDelay: f.options.SettleDelay,
		Backoff:     collector.LinearBackoff(f.options.RetryDelayBase),
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to collect following list of %s: %w", f.options.FetchUsername, err)
	}

	// The list can include the account itself
	result := make([]string, 0, users.Len())
	for _, u := range users.Items() {
		if !strings.EqualFold(u, f.options.FetchUsername) {
			result = append(result, u)
		}
	}
	return result, nil
}

// RecentPostLinks scrolls the profile page the session is on until at least
// MaxLinksPerFetch status links are collected and the newest one belongs to username.
func (f *Fetcher) RecentPostLinks(ctx context.Context, session interfaces.BrowserSession, username string) ([]string, error) {
	k := f.options.MaxLinksPerFetch

	links, err := collector.Collect(ctx, session, collector.Options{
		Name:    "posts",
		Scroll:  collector.ScrollBy(postsScrollPixels),
		Extract: f.parser.PostLinks,
		Stop: func(acc collector.OrderedSet) bool {
			last, ok := acc.Last()
			if !ok {
				return k == 0
			}
			return acc.Len() >= k && isOwnLink(last, username)
		},
		MaxRetries:  f.options.MaxRetries,
		SettleDelay: f.options.SettleDelay,
		Backoff:     collector.LinearBackoff(f.options.RetryDelayBase),
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to collect posts of %s: %w", username, err)
	}
	return links.Items(), nil
}

// FetchUser runs the per-user pipeline: profile, banner, then recent posts
func (f *Fetcher) FetchUser(ctx context.Context, session interfaces.BrowserSession, username string) (*models.UserRecord, error) {
	if err := f.gotoProfile(ctx, session, username); err != nil {
		return nil, err
	}

	src, err := session.Source(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := f.parser.Profile(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile of %s: %w", username, err)
	}

	banner, err := f.bannerURL(ctx, session, username)
	if err != nil {
		return nil, fmt.Errorf("failed to read banner of %s: %w", username, err)
	}
	profile.BannerURL = banner

	record := &models.UserRecord{
		Username: username,
		Profile:  profile,
	}

	if f.options.FetchPosts {
		if err := f.fetchPosts(ctx, session, record); err != nil {
			return nil, err
		}
	}

	record.FetchedAt = time.Now()
	return record, nil
}

func (f *Fetcher) gotoProfile(ctx context.Context, session interfaces.BrowserSession, username string) error {
	if err := session.Navigate(ctx, fmt.Sprintf("%s/%s", f.options.BaseURL, username)); err != nil {
		return err
	}
	if err := common.Sleep(ctx, f.options.PageLoadDelay); err != nil {
		return err
	}

	// Sensitive profiles sit behind a "view profile" interstitial
	if f.options.SensitiveGuard == "" {
		return nil
	}
	guarded, err := session.Exists(ctx, f.options.SensitiveGuard)
	if err != nil {
		return err
	}
	if !guarded {
		return nil
	}

	f.logger.Debug().Str("username", username).Msg("Passing sensitive profile interstitial")
	if err := session.Click(ctx, f.options.SensitiveGuard); err != nil {
		return err
	}
	return common.Sleep(ctx, f.options.PageLoadDelay)
}

// bannerURL opens the banner viewer, reads the image and closes the viewer again.
// Profiles without a banner yield an empty URL.
func (f *Fetcher) bannerURL(ctx context.Context, session interfaces.BrowserSession, username string) (string, error) {
	if f.options.BannerOpen == "" {
		return "", nil
	}
	present, err := session.Exists(ctx, f.options.BannerOpen)
	if err != nil || !present {
		return "", err
	}

	if err := session.Click(ctx, f.options.BannerOpen); err != nil {
		return "", err
	}
	if err := common.Sleep(ctx, f.options.PageLoadDelay); err != nil {
		return "", err
	}

	src, err := session.Source(ctx)
	if err != nil {
		return "", err
	}
	url, parseErr := f.parser.BannerURL(src)

	closable, err := session.Exists(ctx, f.options.BannerClose)
	if err != nil {
		return "", err
	}
	if closable {
		err = session.Click(ctx, f.options.BannerClose)
	} else {
		err = f.gotoProfile(ctx, session, username)
	}
	if err != nil {
		return "", err
	}

	return url, parseErr
}

func (f *Fetcher) fetchPosts(ctx context.Context, session interfaces.BrowserSession, record *models.UserRecord) error {
	links, err := f.RecentPostLinks(ctx, session, record.Username)
	if err != nil {
		return err
	}

	for _, link := range links {
		if !isOwnLink(link, record.Username) {
			record.SkippedReposts++
			continue
		}

		if err := session.Navigate(ctx, f.options.BaseURL+link); err != nil {
			return err
		}
		if err := common.Sleep(ctx, f.options.PageLoadDelay); err != nil {
			return err
		}

		src, err := session.Source(ctx)
		if err != nil {
			return err
		}
		post, err := f.parser.Post(src, link)
		if err != nil {
			f.logger.Warn().Err(err).Str("link", link).Msg("Skipping unreadable post")
			continue
		}
		record.Posts = append(record.Posts, *post)
	}

	f.logger.Debug().
		Str("username", record.Username).
		Int("posts", len(record.Posts)).
		Int("skipped_reposts", record.SkippedReposts).
		Msg("Fetched recent posts")

	return nil
}

func isOwnLink(link, username string) bool {
	return strings.HasPrefix(strings.ToLower(link), "/"+strings.ToLower(username)+"/")
}
