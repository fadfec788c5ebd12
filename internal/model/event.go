package model

type EventType string

const (
	EventNotificationCreated EventType = "NotificationCreated"
	EventMarked              EventType = "marked"
	EventReadState           EventType = "readState"
	EventRemoved             EventType = "removed"
	EventAllRead             EventType = "allRead"
	EventAllRemoved          EventType = "allRemoved"
	EventEmailNotification   EventType = "emailNotification"
)

// Event is emitted by a notification command. Only the fields relevant to
// the event type are set.
type Event struct {
	Type          EventType     `json:"type"`
	Notification  string        `json:"notification,omitempty"`
	Data          *Notification `json:"data,omitempty"`
	State         string        `json:"state,omitempty"`
	ReadState     ReadState     `json:"readState,omitempty"`
	Owner         Owner         `json:"owner,omitempty"`
	Notifications []string      `json:"notifications,omitempty"`
}
