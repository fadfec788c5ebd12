package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/internal/model"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("comment")
	assert.False(t, ok)

	r.Register("comment", RendererFunc(func(ctx context.Context, n *model.Notification, p *model.UserProfile) ([]Fragment, error) {
		return []Fragment{{NotificationID: n.ID, Title: "hi " + p.Display}}, nil
	}))
	renderer, ok := r.Lookup("comment")
	require.True(t, ok)

	out, err := renderer.Render(context.Background(), &model.Notification{ID: "n1"}, &model.UserProfile{Display: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, []Fragment{{NotificationID: "n1", Title: "hi Ann"}}, out)
}

func TestFragmentIsEmpty(t *testing.T) {
	assert.True(t, Fragment{NotificationID: "n1", Link: "/x"}.IsEmpty())
	assert.False(t, Fragment{Body: "b"}.IsEmpty())
}

func TestHTTPRenderer(t *testing.T) {
	var got renderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/render/comment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`[{"title":"New comment","body":"hello"},{"notification":"other","title":"x"}]`))
	}))
	defer srv.Close()

	registry := NewHTTPRegistry(srv.URL, []string{"comment"}, time.Second)
	renderer, ok := registry.Lookup("comment")
	require.True(t, ok)

	n := &model.Notification{ID: "n1", User: "u1", NotificationType: "comment"}
	out, err := renderer.Render(context.Background(), n, &model.UserProfile{ID: "u1", Email: "a@b.c"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "n1", out[0].NotificationID)
	assert.Equal(t, "other", out[1].NotificationID)
	assert.Equal(t, "n1", got.Notification.ID)
	assert.Equal(t, "a@b.c", got.User.Email)
}

func TestHTTPRendererError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	renderer := NewHTTPRenderer(srv.URL, time.Second)
	_, err := renderer.Render(context.Background(), &model.Notification{ID: "n1", NotificationType: "comment"}, &model.UserProfile{})
	assert.Error(t, err)
}
