package keycodec

import "math"

// DefaultLimit applies when a page request carries no usable limit.
const DefaultLimit = 100

// PageRequest is a caller's pagination query. Cursor fields are optional.
type PageRequest struct {
	GT      *string
	LT      *string
	GTE     *string
	LTE     *string
	Limit   *int
	Reverse bool
}

// Range is a concrete scan over one owner's key space. Empty bounds are unset.
type Range struct {
	GT      string
	GTE     string
	LT      string
	LTE     string
	Limit   int
	Reverse bool
}

// Planner turns page requests into scan ranges.
type Planner struct {
	defaultLimit int
	maxLimit     int
}

// NewPlanner creates a planner. A non-positive maxLimit means unbounded.
func NewPlanner(defaultLimit, maxLimit int) *Planner {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if maxLimit <= 0 {
		maxLimit = math.MaxInt32
	}
	return &Planner{defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Plan builds the scan range for ownerID. gt takes precedence over gte and
// lt over lte; a missing lower bound defaults to the owner prefix and a
// missing upper bound to the owner prefix plus MaxSuffix.
func (p *Planner) Plan(ownerID string, req PageRequest) (Range, error) {
	r := Range{
		Limit:   p.limit(req.Limit),
		Reverse: req.Reverse,
	}

	var err error
	switch {
	case req.GT != nil:
		if r.GT, err = RangeFromCursor(ownerID, *req.GT, GT); err != nil {
			return Range{}, err
		}
	case req.GTE != nil:
		if r.GTE, err = RangeFromCursor(ownerID, *req.GTE, GTE); err != nil {
			return Range{}, err
		}
	default:
		r.GTE = EncodeOwner(ownerID)
	}

	switch {
	case req.LT != nil:
		if r.LT, err = RangeFromCursor(ownerID, *req.LT, LT); err != nil {
			return Range{}, err
		}
	case req.LTE != nil:
		if r.LTE, err = RangeFromCursor(ownerID, *req.LTE, LTE); err != nil {
			return Range{}, err
		}
	default:
		r.LTE = Prefix(ownerID) + MaxSuffix
	}

	return r, nil
}

// limit falls back to the default for a missing or negative limit and caps
// the rest at the maximum.
func (p *Planner) limit(l *int) int {
	switch {
	case l == nil || *l < 0:
		return p.defaultLimit
	case *l > p.maxLimit:
		return p.maxLimit
	}
	return *l
}

// Contains reports whether key falls inside the range bounds.
func (r Range) Contains(key string) bool {
	if r.GT != "" && key <= r.GT {
		return false
	}
	if r.GTE != "" && key < r.GTE {
		return false
	}
	if r.LT != "" && key >= r.LT {
		return false
	}
	if r.LTE != "" && key > r.LTE {
		return false
	}
	return true
}
