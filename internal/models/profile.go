package models

import "time"

// Profile is the metadata scraped from a user's profile page
type Profile struct {
	DisplayName       string `json:"display_name"`
	Username          string `json:"username"`
	Description       string `json:"description"`
	DateCreated       string `json:"date_created"`           // As published by the site, not reformatted
	RelatedLink       string `json:"related_link,omitempty"` // Website listed on the profile
	Location          string `json:"location,omitempty"`
	Following         int64  `json:"following"`
	Followers         int64  `json:"followers"`
	CountsApproximate bool   `json:"counts_approximate"` // Counts were parsed from abbreviated text (e.g. 12.5K)
	PFPURL            string `json:"pfp_url,omitempty"`
	BannerURL         string `json:"banner_url,omitempty"`
	Source            string `json:"source"` // "json-ld" or "page"
}

// Post is a single post authored by the fetched user
type Post struct {
	Link     string    `json:"link"` // Site-relative path, e.g. /user/status/123
	URL      string    `json:"url"`
	Text     string    `json:"text"` // Markdown rendering of the post body
	PostedAt time.Time `json:"posted_at"`
}

// UserRecord is the outcome of fetching one work item
type UserRecord struct {
	Username       string    `json:"username"`
	Profile        *Profile  `json:"profile"`
	Posts          []Post    `json:"posts"`
	SkippedReposts int       `json:"skipped_reposts"`
	FetchedAt      time.Time `json:"fetched_at"`
}
