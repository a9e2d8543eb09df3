package session

import "time"

// State describes what a worker session is currently doing.
type State string

const (
	StateWorking        State = "working"
	StateIdle           State = "idle"
	StateNeedsAttention State = "needs_attention"
)

// Session is one external worker session as published in the sessions
// directory, one JSON file per session.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counts is an aggregate view over all known sessions.
type Counts struct {
	Working        int
	Idle           int
	NeedsAttention int
}

// Total returns the number of known sessions.
func (c Counts) Total() int {
	return c.Working + c.Idle + c.NeedsAttention
}
