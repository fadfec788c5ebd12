// Package identity talks to the access-control service: it resolves
// sessions to their public identity and looks up user profiles for digests.
package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/notification-service/internal/model"
	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
	"github.com/jwalitptl/notification-service/pkg/httputil"
)

// Resolver maps a private session id to the stable public id that
// session-owned notifications are stored under.
type Resolver interface {
	PublicSessionID(ctx context.Context, sessionID string) (string, error)
}

// Directory looks up user profiles.
type Directory interface {
	Profile(ctx context.Context, userID string) (*model.UserProfile, error)
}

// Client implements Resolver and Directory over the access-control HTTP API.
type Client struct {
	http *httputil.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{http: httputil.NewClient(baseURL, timeout)}
}

func (c *Client) PublicSessionID(ctx context.Context, sessionID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.http.GetJSON(ctx, "/sessions/"+url.PathEscape(sessionID)+"/public", &out); err != nil {
		return "", notFoundAs(err, "session")
	}
	if out.ID == "" {
		return "", apperrors.NewNotFound("session", nil)
	}
	return out.ID, nil
}

func (c *Client) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := c.http.GetJSON(ctx, "/users/"+url.PathEscape(userID), &p); err != nil {
		return nil, notFoundAs(err, "user")
	}
	if p.ID == "" {
		p.ID = userID
	}
	return &p, nil
}

func notFoundAs(err error, resource string) error {
	var se *httputil.StatusError
	if stderrors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return apperrors.NewNotFound(resource, err)
	}
	return fmt.Errorf("%s lookup failed: %w", resource, err)
}

// Cached memoizes lookups for a TTL. Failures are not cached.
type Cached struct {
	resolver  Resolver
	directory Directory
	cache     *cache.Cache
}

func NewCached(resolver Resolver, directory Directory, ttl time.Duration) *Cached {
	return &Cached{
		resolver:  resolver,
		directory: directory,
		cache:     cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) PublicSessionID(ctx context.Context, sessionID string) (string, error) {
	key := "session:" + sessionID
	if v, ok := c.cache.Get(key); ok {
		return v.(string), nil
	}
	id, err := c.resolver.PublicSessionID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(key, id)
	return id, nil
}

func (c *Cached) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	key := "user:" + userID
	if v, ok := c.cache.Get(key); ok {
		return v.(*model.UserProfile), nil
	}
	p, err := c.directory.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, p)
	return p, nil
}
