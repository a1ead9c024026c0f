// Package youtube fetches YouTube channel feeds.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"tubewatch/models"

	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://www.youtube.com/feeds/videos.xml"

var channelIDPattern = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)

// ValidChannelID reports whether id has the shape of a YouTube channel id.
func ValidChannelID(id string) bool {
	return channelIDPattern.MatchString(id)
}

// Client reads channel feeds. Every call is a single HTTP request.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
		userAgent: "tubewatch/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) FeedURL(channelID string) string {
	return c.baseURL + "?channel_id=" + url.QueryEscape(channelID)
}

func (c *Client) fetch(ctx context.Context, channelID string) (*gofeed.Feed, error) {
	// gofeed parsers keep per-parse state, one per request keeps fetches
	// independent
	fp := gofeed.NewParser()
	fp.Client = c.http
	fp.UserAgent = c.userAgent

	feed, err := fp.ParseURLWithContext(c.FeedURL(channelID), ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, fmt.Errorf("fetch feed %s: status %d", channelID, httpErr.StatusCode)
		}
		return nil, fmt.Errorf("fetch feed %s: %w", channelID, err)
	}
	return feed, nil
}

// FetchSince returns the items of the channel published strictly after
// since, in feed order (newest first).
func (c *Client) FetchSince(ctx context.Context, channelID string, since time.Time) models.FeedResult {
	feed, err := c.fetch(ctx, channelID)
	if err != nil {
		log.WithFields(log.Fields{
			"source": channelID,
			"error":  err,
		}).Warn("Error getting feed")
		return models.FetchFailed{Err: err}
	}
	return models.FeedItems{Items: itemsSince(feed, since)}
}

func itemsSince(feed *gofeed.Feed, since time.Time) []models.Item {
	items := []models.Item{}
	for _, it := range feed.Items {
		if it == nil || it.PublishedParsed == nil {
			continue
		}
		title := strings.TrimSpace(it.Title)
		link := strings.TrimSpace(it.Link)
		if title == "" || link == "" {
			continue
		}
		if !it.PublishedParsed.After(since) {
			continue
		}
		items = append(items, models.Item{
			Title:       title,
			Link:        link,
			PublishedAt: *it.PublishedParsed,
		})
	}
	return items
}

// ChannelName returns the title of the channel's feed.
func (c *Client) ChannelName(ctx context.Context, channelID string) (string, error) {
	feed, err := c.fetch(ctx, channelID)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(feed.Title), nil
}
