package model

import (
	"strconv"
	"strings"
	"time"
)

type OwnerKind string

const (
	OwnerUser    OwnerKind = "user"
	OwnerSession OwnerKind = "session"
)

// Owner is the identity a notification belongs to: a user or a public
// session id, never both.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func UserOwner(id string) Owner    { return Owner{Kind: OwnerUser, ID: id} }
func SessionOwner(id string) Owner { return Owner{Kind: OwnerSession, ID: id} }

func (o Owner) IsZero() bool { return o.ID == "" }

func (o Owner) String() string { return string(o.Kind) + ":" + o.ID }

type ReadState string

const (
	ReadStateNew  ReadState = "new"
	ReadStateRead ReadState = "read"
)

type EmailState string

const (
	EmailStateNew  EmailState = "new"
	EmailStateSent EmailState = "sent"
)

// StateRead is the mark state that also flips ReadState.
const StateRead = "read"

type Notification struct {
	ID               string     `json:"id"`
	User             string     `json:"user,omitempty"`
	Session          string     `json:"session,omitempty"`
	Time             time.Time  `json:"time"`
	State            string     `json:"state,omitempty"`
	ReadState        ReadState  `json:"readState"`
	EmailState       EmailState `json:"emailState"`
	NotificationType string     `json:"notificationType"`
	Fields           JSONMap    `json:"fields,omitempty"`
	Cursor           string     `json:"cursor"`
}

// Owner returns the user owner when set, otherwise the session owner.
func (n *Notification) Owner() Owner {
	if n.User != "" {
		return UserOwner(n.User)
	}
	return SessionOwner(n.Session)
}

// Clone returns a deep copy so change snapshots never share state.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	if n.Fields != nil {
		c.Fields = make(JSONMap, len(n.Fields))
		for k, v := range n.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

// Unread reports whether n counts towards owner's unread counter.
func (n *Notification) Unread(owner Owner) bool {
	return n != nil && !owner.IsZero() && n.Owner() == owner && n.ReadState == ReadStateNew
}

// NotifyRequest creates a notification.
type NotifyRequest struct {
	User             string  `json:"user"`
	Session          string  `json:"session"`
	NotificationType string  `json:"notificationType" binding:"required"`
	Fields           JSONMap `json:"fields"`
}

// MarkRequest sets a notification's free-form state.
type MarkRequest struct {
	State string `json:"state" binding:"required"`
}

// ReadStateRequest sets a notification's read state.
type ReadStateRequest struct {
	ReadState ReadState `json:"readState" binding:"required,readstate"`
}

// ListQuery is the paginated list query string. Limit stays raw so a value
// that is not an integer falls back to the default page size.
type ListQuery struct {
	GT      *string `form:"gt"`
	LT      *string `form:"lt"`
	GTE     *string `form:"gte"`
	LTE     *string `form:"lte"`
	Limit   *string `form:"limit"`
	Reverse bool    `form:"reverse"`
}

// PageLimit parses Limit, returning nil when it is absent or not an integer.
func (q *ListQuery) PageLimit() *int {
	if q.Limit == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(*q.Limit))
	if err != nil {
		return nil
	}
	return &n
}
