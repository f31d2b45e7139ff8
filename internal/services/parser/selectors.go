package parser

import "github.com/ternarybob/roster/internal/common"

// Selectors holds every piece of markup knowledge about the target site.
// Open, close and guard selectors are clicked through the browser session, so
// they may be CSS or XPath; the rest are CSS selectors evaluated by goquery.
type Selectors struct {
	FollowingUser  string
	PostArticle    string
	PostText       string
	PostTime       string
	ProfileSchema  string
	UserName       string
	UserDesc       string
	UserLocation   string
	UserURL        string
	UserJoinDate   string
	ProfileImage   string
	BannerImage    string
	BannerOpen     string
	BannerClose    string
	SensitiveGuard string
}

// DefaultSelectors returns the selectors for the site's current markup
func DefaultSelectors() Selectors {
	return Selectors{
		FollowingUser:  `[data-testid="UserCell"] a[role="link"]`,
		PostArticle:    `article`,
		PostText:       `[data-testid="tweetText"]`,
		PostTime:       `time[datetime]`,
		ProfileSchema:  `script[type="application/ld+json"][data-testid="UserProfileSchema-test"]`,
		UserName:       `div[data-testid="UserName"]`,
		UserDesc:       `div[data-testid="UserDescription"]`,
		UserLocation:   `[data-testid="UserLocation"]`,
		UserURL:        `[data-testid="UserUrl"]`,
		UserJoinDate:   `[data-testid="UserJoinDate"]`,
		ProfileImage:   `img[src*="/profile_images/"]`,
		BannerImage:    `img[alt="Image"]`,
		BannerOpen:     `a[href$="/header_photo"]`,
		BannerClose:    `[data-testid="app-bar-close"]`,
		SensitiveGuard: `[data-testid="empty_state_button_text"]`,
	}
}

// SelectorsFromConfig overlays the configured overrides on the defaults
func SelectorsFromConfig(config common.SelectorsConfig) Selectors {
	s := DefaultSelectors()
	override := func(dst *string, value string) {
		if value != "" {
			*dst = value
		}
	}

	override(&s.FollowingUser, config.FollowingUser)
	override(&s.PostArticle, config.PostArticle)
	override(&s.PostText, config.PostText)
	override(&s.ProfileSchema, config.ProfileSchema)
	override(&s.UserName, config.UserName)
	override(&s.UserDesc, config.UserDesc)
	override(&s.BannerImage, config.BannerImage)
	override(&s.BannerOpen, config.BannerOpen)
	override(&s.BannerClose, config.BannerClose)
	override(&s.SensitiveGuard, config.SensitiveGuard)

	return s
}
