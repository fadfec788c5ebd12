package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/internal/model"
)

func fresh() *model.Notification {
	return &model.Notification{
		ID:         "n1",
		User:       "u1",
		Time:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		ReadState:  model.ReadStateNew,
		EmailState: model.EmailStateNew,
	}
}

func TestApplyMarkRead(t *testing.T) {
	n := fresh()
	out := Apply(model.Event{Type: model.EventMarked, State: "read"}, n)

	require.NotNil(t, out)
	assert.Equal(t, "read", out.State)
	assert.Equal(t, model.ReadStateRead, out.ReadState)
	assert.Equal(t, model.ReadStateNew, n.ReadState, "input is not modified")
}

func TestApplyMarkOtherState(t *testing.T) {
	out := Apply(model.Event{Type: model.EventMarked, State: "archived"}, fresh())

	assert.Equal(t, "archived", out.State)
	assert.Equal(t, model.ReadStateNew, out.ReadState)
}

func TestApplyReadStateIsIndependentOfState(t *testing.T) {
	n := fresh()
	n.State = "read"
	out := Apply(model.Event{Type: model.EventReadState, ReadState: model.ReadStateNew}, n)

	assert.Equal(t, "read", out.State)
	assert.Equal(t, model.ReadStateNew, out.ReadState)
}

func TestApplyEmailAndBulk(t *testing.T) {
	out := Apply(model.Event{Type: model.EventEmailNotification}, fresh())
	assert.Equal(t, model.EmailStateSent, out.EmailState)
	assert.Equal(t, model.ReadStateNew, out.ReadState)

	out = Apply(model.Event{Type: model.EventAllRead}, fresh())
	assert.Equal(t, model.ReadStateRead, out.ReadState)

	assert.Nil(t, Apply(model.Event{Type: model.EventRemoved}, fresh()))
	assert.Nil(t, Apply(model.Event{Type: model.EventAllRemoved}, fresh()))
}

func TestApplyCreated(t *testing.T) {
	data := fresh()
	out := Apply(model.Event{Type: model.EventNotificationCreated, Data: data}, nil)
	assert.Equal(t, data, out)
	assert.NotSame(t, data, out)
}
