package model

import "time"

// UnreadCounter is the materialized count of an owner's notifications with
// ReadState new.
type UnreadCounter struct {
	OwnerKind  OwnerKind `json:"ownerKind" db:"owner_kind"`
	OwnerID    string    `json:"ownerId" db:"owner_id"`
	Count      int64     `json:"count" db:"count"`
	LastUpdate int64     `json:"lastUpdate" db:"last_update"`
	Display    JSONMap   `json:"display,omitempty" db:"display"`
}

func (c *UnreadCounter) LastUpdateTime() time.Time {
	return time.Unix(0, c.LastUpdate).UTC()
}
