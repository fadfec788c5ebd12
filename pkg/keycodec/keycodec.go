// Package keycodec builds the sortable (owner, time, id) keys used by the
// notification indexes and turns pagination cursors into scan bounds.
//
// A key looks like `"owner":"2024-05-01T10:00:00.000Z"_id`. All keys of one
// owner share the prefix `"owner":` and, because the timestamp is fixed
// width UTC, byte order equals chronological order within an owner.
package keycodec

import (
	"encoding/json"
	"regexp"
	"time"

	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
)

// TimeLayout is the fixed-width ISO-8601 layout embedded in keys.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// MaxSuffix sorts after every key sharing the preceding bytes.
const MaxSuffix = "\xFF\xFF\xFF\xFF"

// BoundKind selects how a cursor is turned into a range bound.
type BoundKind int

const (
	GT BoundKind = iota
	GTE
	LT
	LTE
)

func (k BoundKind) String() string {
	switch k {
	case GT:
		return "gt"
	case GTE:
		return "gte"
	case LT:
		return "lt"
	case LTE:
		return "lte"
	}
	return "unknown"
}

var cursorTimePattern = regexp.MustCompile(`":"([0-9-]+T[0-9:]+\.[0-9]+Z)"_`)

// FormatTime renders t in the key layout, always in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// EncodeOwner quotes an identity id the same way it appears inside keys.
func EncodeOwner(id string) string {
	b, _ := json.Marshal(id)
	return string(b)
}

// Prefix is shared by every key of the owner.
func Prefix(ownerID string) string {
	return EncodeOwner(ownerID) + ":"
}

// Key is the owner/time index key of a notification. It doubles as the
// cursor returned to callers.
func Key(ownerID string, t time.Time, id string) string {
	return Prefix(ownerID) + EncodeOwner(FormatTime(t)) + "_" + id
}

// StatePrefix is the prefix of an owner/state index range, such as the
// owner's unread notifications.
func StatePrefix(ownerID, state string) string {
	return Prefix(ownerID) + EncodeOwner(state) + "_"
}

// StateKey is the key of a notification inside an owner/state index.
func StateKey(ownerID, state string, t time.Time, id string) string {
	return StatePrefix(ownerID, state) + EncodeOwner(FormatTime(t)) + "_" + id
}

// ParseCursorTime extracts the timestamp embedded in a cursor.
func ParseCursorTime(cursor string) (time.Time, error) {
	m := cursorTimePattern.FindStringSubmatch(cursor)
	if m == nil {
		return time.Time{}, apperrors.NewMalformedCursor(cursor)
	}
	t, err := time.Parse(time.RFC3339Nano, m[1])
	if err != nil {
		return time.Time{}, apperrors.NewMalformedCursor(cursor)
	}
	return t.UTC(), nil
}

// cursorPrefix returns the key prefix of everything stored at the cursor's
// instant for the owner.
func cursorPrefix(ownerID, cursor string) (string, error) {
	switch cursor {
	case "":
		return Prefix(ownerID), nil
	case MaxSuffix:
		return Prefix(ownerID) + MaxSuffix, nil
	}
	t, err := ParseCursorTime(cursor)
	if err != nil {
		return "", err
	}
	return Prefix(ownerID) + EncodeOwner(FormatTime(t)) + "_", nil
}

// RangeFromCursor converts a cursor into a bound string. GT and LTE bounds
// get MaxSuffix appended so they pass every key sharing the cursor's
// timestamp; GTE and LT use the bare prefix.
func RangeFromCursor(ownerID, cursor string, kind BoundKind) (string, error) {
	p, err := cursorPrefix(ownerID, cursor)
	if err != nil {
		return "", err
	}
	if kind == GT || kind == LTE {
		return p + MaxSuffix, nil
	}
	return p, nil
}
