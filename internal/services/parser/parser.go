package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/interfaces"
	"github.com/ternarybob/roster/internal/models"
)

// ErrElementNotFound is returned when a required element is absent from the page
var ErrElementNotFound = errors.New("element not found")

var (
	userLinkPattern = regexp.MustCompile(`^/(\w+)$`)
	postLinkPattern = regexp.MustCompile(`^/\w+/status/\d+$`)
)

// Parser turns page snapshots into typed records using goquery
type Parser struct {
	baseURL   string
	selectors Selectors
	logger    arbor.ILogger
}

var _ interfaces.PageParser = (*Parser)(nil)

// NewParser creates a parser. baseURL resolves relative links in post bodies.
func NewParser(baseURL string, selectors Selectors, logger arbor.ILogger) *Parser {
	return &Parser{
		baseURL:   baseURL,
		selectors: selectors,
		logger:    logger,
	}
}

func createDocument(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// FollowingUsers returns the usernames listed on a following page, in page order
func (p *Parser) FollowingUsers(src string) []string {
	doc, err := createDocument(src)
	if err != nil {
		return nil
	}

	var users []string
	doc.Find(p.selectors.FollowingUser).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		if m := userLinkPattern.FindStringSubmatch(href); m != nil {
			users = append(users, m[1])
		}
	})
	return users
}

// PostLinks returns site-relative status links found inside post articles
func (p *Parser) PostLinks(src string) []string {
	doc, err := createDocument(src)
	if err != nil {
		return nil
	}

	var links []string
	doc.Find(p.selectors.PostArticle).Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if postLinkPattern.MatchString(href) {
			links = append(links, href)
		}
	})
	return links
}

// Profile extracts profile metadata, preferring the embedded JSON-LD schema and
// falling back to the rendered markup
func (p *Parser) Profile(src string) (*models.Profile, error) {
	doc, err := createDocument(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile page: %w", err)
	}

	profile, err := p.profileFromSchema(doc)
	if err == nil {
		return profile, nil
	}
	p.logger.Debug().Err(err).Msg("Profile schema unavailable, reading page markup")

	return p.profileFromPage(doc)
}

// BannerURL returns the src of the full-size banner shown by the banner viewer
func (p *Parser) BannerURL(src string) (string, error) {
	doc, err := createDocument(src)
	if err != nil {
		return "", fmt.Errorf("failed to parse banner page: %w", err)
	}

	img := doc.Find(p.selectors.BannerImage).First()
	if img.Length() == 0 {
		return "", fmt.Errorf("banner image: %w", ErrElementNotFound)
	}
	url, ok := img.Attr("src")
	if !ok || url == "" {
		return "", fmt.Errorf("banner image has no src: %w", ErrElementNotFound)
	}
	return url, nil
}

// Post extracts the body and timestamp of the post at link
func (p *Parser) Post(src, link string) (*models.Post, error) {
	doc, err := createDocument(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse post page: %w", err)
	}

	// The first article on a status page is the post itself; replies follow it
	article := doc.Find(p.selectors.PostArticle).First()
	if article.Length() == 0 {
		return nil, fmt.Errorf("post article: %w", ErrElementNotFound)
	}

	post := &models.Post{
		Link: link,
		URL:  strings.TrimRight(p.baseURL, "/") + link,
	}

	if body := article.Find(p.selectors.PostText).First(); body.Length() > 0 {
		html, err := body.Html()
		if err != nil {
			return nil, fmt.Errorf("failed to read post body: %w", err)
		}

		converter := md.NewConverter(p.baseURL, true, nil)
		text, err := converter.ConvertString(html)
		if err != nil {
			p.logger.Warn().Err(err).Str("link", link).Msg("Markdown conversion failed, using plain text")
			text = body.Text()
		}
		post.Text = strings.TrimSpace(text)
	}

	if datetime, ok := article.Find(p.selectors.PostTime).First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, datetime); err == nil {
			post.PostedAt = ts
		}
	}

	if post.Text == "" && post.PostedAt.IsZero() {
		return nil, fmt.Errorf("post %s has neither text nor timestamp: %w", link, ErrElementNotFound)
	}

	return post, nil
}

// profileSchema mirrors the parts of the ProfilePage JSON-LD we read
type profileSchema struct {
	DateCreated string   `json:"dateCreated"`
	RelatedLink []string `json:"relatedLink"`
	Author      *struct {
		GivenName      string `json:"givenName"`
		AdditionalName string `json:"additionalName"`
		Description    string `json:"description"`
		HomeLocation   *struct {
			Type string `json:"@type"`
			Name string `json:"name"`
		} `json:"homeLocation"`
		InteractionStatistic []struct {
			Name                 string `json:"name"`
			UserInteractionCount *int64 `json:"userInteractionCount"`
		} `json:"interactionStatistic"`
		Image *struct {
			ContentURL string `json:"contentUrl"`
		} `json:"image"`
	} `json:"author"`
}

func (p *Parser) profileFromSchema(doc *goquery.Document) (*models.Profile, error) {
	script := doc.Find(p.selectors.ProfileSchema).First()
	if script.Length() == 0 {
		return nil, fmt.Errorf("profile schema: %w", ErrElementNotFound)
	}

	var schema profileSchema
	if err := json.Unmarshal([]byte(script.Text()), &schema); err != nil {
		return nil, fmt.Errorf("failed to decode profile schema: %w", err)
	}

	author := schema.Author
	if author == nil || author.AdditionalName == "" || schema.DateCreated == "" {
		return nil, errors.New("profile schema is missing author or creation date")
	}
	if author.Image == nil || author.Image.ContentURL == "" {
		return nil, errors.New("profile schema is missing the profile image")
	}

	profile := &models.Profile{
		DisplayName: author.GivenName,
		Username:    author.AdditionalName,
		Description: author.Description,
		DateCreated: schema.DateCreated,
		PFPURL:      author.Image.ContentURL,
		Source:      "json-ld",
	}

	// The first related link is the profile itself
	if len(schema.RelatedLink) > 1 {
		profile.RelatedLink = schema.RelatedLink[1]
	}
	if loc := author.HomeLocation; loc != nil && (loc.Type == "" || loc.Type == "Place") {
		profile.Location = loc.Name
	}

	var haveFollowers, haveFollowing bool
	for _, stat := range author.InteractionStatistic {
		if stat.UserInteractionCount == nil {
			continue
		}
		switch stat.Name {
		case "Follows":
			profile.Followers = *stat.UserInteractionCount
			haveFollowers = true
		case "Friends":
			profile.Following = *stat.UserInteractionCount
			haveFollowing = true
		}
	}
	if !haveFollowers || !haveFollowing {
		return nil, errors.New("profile schema is missing follower statistics")
	}

	return profile, nil
}

func (p *Parser) profileFromPage(doc *goquery.Document) (*models.Profile, error) {
	nameBlock := doc.Find(p.selectors.UserName).First()
	if nameBlock.Length() == 0 {
		return nil, fmt.Errorf("username block: %w", ErrElementNotFound)
	}

	// Rendered as "<display name>@<username>"
	parts := strings.SplitN(nameBlock.Text(), "@", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return nil, fmt.Errorf("unexpected username block %q", nameBlock.Text())
	}

	profile := &models.Profile{
		DisplayName: strings.TrimSpace(parts[0]),
		Username:    strings.TrimSpace(parts[1]),
		Description: strings.TrimSpace(doc.Find(p.selectors.UserDesc).First().Text()),
		Location:    strings.TrimSpace(doc.Find(p.selectors.UserLocation).First().Text()),
		RelatedLink: strings.TrimSpace(doc.Find(p.selectors.UserURL).First().Text()),
		DateCreated: strings.TrimSpace(doc.Find(p.selectors.UserJoinDate).First().Text()),
		Source:      "page",
	}
	if src, ok := doc.Find(p.selectors.ProfileImage).First().Attr("src"); ok {
		profile.PFPURL = src
	}

	following, approxFollowing, err := countFromLink(doc, "/following")
	if err != nil {
		return nil, err
	}
	followers, approxFollowers, err := countFromLink(doc, "/followers")
	if err != nil {
		// Verified accounts link to a separate followers tab
		followers, approxFollowers, err = countFromLink(doc, "/verified_followers")
		if err != nil {
			return nil, err
		}
	}

	profile.Following = following
	profile.Followers = followers
	profile.CountsApproximate = approxFollowing || approxFollowers

	return profile, nil
}

func countFromLink(doc *goquery.Document, suffix string) (int64, bool, error) {
	link := doc.Find(fmt.Sprintf(`a[href$="%s"]`, suffix)).First()
	if link.Length() == 0 {
		return 0, false, fmt.Errorf("%s link: %w", suffix, ErrElementNotFound)
	}

	fields := strings.Fields(link.Text())
	if len(fields) == 0 {
		return 0, false, fmt.Errorf("%s link has no count", suffix)
	}
	return ParseCount(fields[0])
}

// ParseCount parses a displayed count such as "1,234", "12.5K" or "3M".
// Abbreviated counts are expanded and reported as approximate.
func ParseCount(text string) (int64, bool, error) {
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if text == "" {
		return 0, false, errors.New("empty count")
	}

	multiplier := int64(1)
	switch strings.ToUpper(text[len(text)-1:]) {
	case "K":
		multiplier = 1_000
	case "M":
		multiplier = 1_000_000
	case "B":
		multiplier = 1_000_000_000
	}

	if multiplier == 1 {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid count %q: %w", text, err)
		}
		return n, false, nil
	}

	f, err := strconv.ParseFloat(text[:len(text)-1], 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid count %q: %w", text, err)
	}
	return int64(math.Round(f * float64(multiplier))), true, nil
}
