// Package render turns notifications into digest fragments. Each
// notification type has its own renderer, usually owned by the service
// that emits that type.
package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/pkg/httputil"
)

// Fragment is one rendered entry of a digest email.
type Fragment struct {
	NotificationID string `json:"notification"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Link           string `json:"link,omitempty"`
}

func (f Fragment) IsEmpty() bool {
	return f.Title == "" && f.Body == ""
}

type Renderer interface {
	Render(ctx context.Context, n *model.Notification, profile *model.UserProfile) ([]Fragment, error)
}

type RendererFunc func(ctx context.Context, n *model.Notification, profile *model.UserProfile) ([]Fragment, error)

func (f RendererFunc) Render(ctx context.Context, n *model.Notification, profile *model.UserProfile) ([]Fragment, error) {
	return f(ctx, n, profile)
}

// Registry maps notification types to renderers.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]Renderer
}

func NewRegistry() *Registry {
	return &Registry{renderers: make(map[string]Renderer)}
}

func (r *Registry) Register(notificationType string, renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[notificationType] = renderer
}

func (r *Registry) Lookup(notificationType string) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.renderers[notificationType]
	return renderer, ok
}

// HTTPRenderer posts the notification and recipient to {base}/render/{type}
// and expects a JSON array of fragments back.
type HTTPRenderer struct {
	client  *httputil.Client
	breaker *gobreaker.CircuitBreaker
}

type renderRequest struct {
	Notification *model.Notification `json:"notification"`
	User         *model.UserProfile  `json:"user"`
}

func NewHTTPRenderer(baseURL string, timeout time.Duration) *HTTPRenderer {
	return &HTTPRenderer{
		client: httputil.NewClient(baseURL, timeout),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "renderer",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (h *HTTPRenderer) Render(ctx context.Context, n *model.Notification, profile *model.UserProfile) ([]Fragment, error) {
	out, err := h.breaker.Execute(func() (interface{}, error) {
		var fragments []Fragment
		err := h.client.PostJSON(ctx, "/render/"+n.NotificationType, renderRequest{Notification: n, User: profile}, &fragments)
		return fragments, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", n.NotificationType, err)
	}
	fragments := out.([]Fragment)
	for i := range fragments {
		if fragments[i].NotificationID == "" {
			fragments[i].NotificationID = n.ID
		}
	}
	return fragments, nil
}

// NewHTTPRegistry registers one shared HTTP renderer for every listed type.
func NewHTTPRegistry(baseURL string, types []string, timeout time.Duration) *Registry {
	registry := NewRegistry()
	renderer := NewHTTPRenderer(baseURL, timeout)
	for _, t := range types {
		registry.Register(t, renderer)
	}
	return registry
}
