package domain

import "time"

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// UsageLog is one audit row per stylize attempt. ID is generated server-side;
// RequestID may come from the client and is not unique.
type UsageLog struct {
	ID            string
	RequestID     string
	ClientID      string
	Engine        string
	Outcome       string
	ErrorKind     string
	ContentWidth  int
	ContentHeight int
	StyleWidth    int
	StyleHeight   int
	OutputBytes   int
	ComputeTimeMS int64
	CreatedAt     time.Time
}

func (u UsageLog) PixelsProcessed() int64 {
	return int64(u.ContentWidth*u.ContentHeight) + int64(u.StyleWidth*u.StyleHeight)
}
