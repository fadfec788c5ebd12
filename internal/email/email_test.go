package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/render"
)

func TestComposeSanitizesFragments(t *testing.T) {
	c := NewComposer([]string{"en"}, "")
	profile := &model.UserProfile{ID: "u1", Display: "Ann", Email: "ann@example.com"}

	msg, err := c.Compose(profile, []render.Fragment{
		{NotificationID: "n1", Title: "<b>New</b> comment", Body: `<script>alert(1)</script>nice & clean`, Link: "https://example.com/n1"},
		{NotificationID: "n2", Title: "Mention"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ann@example.com", msg.To)
	assert.Equal(t, "Ann", msg.ToName)
	assert.Equal(t, "You have new notifications", msg.Subject)
	assert.Contains(t, msg.HTML, "<b>New</b> comment")
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, `href="https://example.com/n1"`)
	assert.Contains(t, msg.HTML, "Hello Ann")
	assert.Contains(t, msg.Text, "- New comment: nice & clean (https://example.com/n1)")
	assert.Contains(t, msg.Text, "- Mention")
	assert.NotContains(t, msg.Text, "alert")
}

func TestComposeLanguage(t *testing.T) {
	c := NewComposer([]string{"pl", "en", "xx"}, "")

	assert.Equal(t, "en", c.Language(&model.UserProfile{Language: "en"}))
	assert.Equal(t, "pl", c.Language(&model.UserProfile{Language: "fr"}))
	assert.Equal(t, "pl", c.Language(&model.UserProfile{}))

	msg, err := c.Compose(&model.UserProfile{Email: "a@b.c"}, []render.Fragment{{Title: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "Masz nowe powiadomienia", msg.Subject)
	assert.Contains(t, msg.Text, "Witaj a@b.c")

	fixed := NewComposer(nil, "Digest")
	msg, err = fixed.Compose(&model.UserProfile{Email: "a@b.c", Language: "pl"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Digest", msg.Subject)
	assert.Contains(t, msg.Text, "Hello")
}

func TestComposeRequiresEmail(t *testing.T) {
	c := NewComposer(nil, "")
	_, err := c.Compose(&model.UserProfile{ID: "u1"}, nil)
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestSMTPMailerRejectsMissingRecipient(t *testing.T) {
	m := NewSMTPMailer(Config{Host: "localhost", Port: 2525, From: "noreply@example.com"})
	assert.Error(t, m.Send(context.Background(), &Message{Subject: "x"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Send(ctx, &Message{To: "a@b.c"}), context.Canceled)
}
