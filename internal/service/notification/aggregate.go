package notification

import (
	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
)

// mutation returns the in-place edit an event makes to one notification.
// Creation and removal are not edits and return nil.
func mutation(ev model.Event) repository.Mutation {
	switch ev.Type {
	case model.EventMarked:
		return func(n *model.Notification) {
			n.State = ev.State
			// marking as read is a superset of a plain state change
			if ev.State == model.StateRead {
				n.ReadState = model.ReadStateRead
			}
		}
	case model.EventReadState:
		return func(n *model.Notification) {
			n.ReadState = ev.ReadState
		}
	case model.EventAllRead:
		return func(n *model.Notification) {
			n.ReadState = model.ReadStateRead
		}
	case model.EventEmailNotification:
		return func(n *model.Notification) {
			n.EmailState = model.EmailStateSent
		}
	}
	return nil
}

// Apply returns the state of n after ev without touching n. It returns nil
// when the event removes the notification.
func Apply(ev model.Event, n *model.Notification) *model.Notification {
	switch ev.Type {
	case model.EventNotificationCreated:
		return ev.Data.Clone()
	case model.EventRemoved, model.EventAllRemoved:
		return nil
	}
	out := n.Clone()
	if m := mutation(ev); m != nil && out != nil {
		m(out)
	}
	return out
}
