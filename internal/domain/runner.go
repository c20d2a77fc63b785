package domain

import (
	"strconv"
	"time"
)

// RunnerID identifies a selection within a market. Handicap is 0 for
// non-handicap markets.
type RunnerID struct {
	SelectionID int64   `json:"id"`
	Handicap    float64 `json:"hc"`
}

func (r RunnerID) String() string {
	if r.Handicap == 0 {
		return strconv.FormatInt(r.SelectionID, 10)
	}
	return strconv.FormatInt(r.SelectionID, 10) + "/" + strconv.FormatFloat(r.Handicap, 'f', -1, 64)
}

// AppKeyAndSession pairs an application key with a session token.
type AppKeyAndSession struct {
	AppKey    string
	Session   string
	CreatedAt time.Time
}

// ExpiredAt reports whether the session is older than ttl at now.
func (a AppKeyAndSession) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return !a.CreatedAt.Add(ttl).After(now)
}
