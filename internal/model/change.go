package model

// ChangesTopic is the broker topic every committed change is published on.
const ChangesTopic = "notifications.changes"

// Change is one committed mutation of a notification row. Old is nil for
// inserts and New is nil for deletes. TS is the commit timestamp in unix
// nanoseconds, strictly increasing per writer.
type Change struct {
	ID    string        `json:"id"`
	Event EventType     `json:"event"`
	Old   *Notification `json:"old,omitempty"`
	New   *Notification `json:"new,omitempty"`
	TS    int64         `json:"ts"`
}
