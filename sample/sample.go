package sample

import "time"

// Sample is one decoded value. Seq is assigned by the Buffer on append and
// strictly increases in arrival order; it is never reused, even across Reset.
type Sample struct {
	Seq     uint64    `json:"seq"`
	Channel int       `json:"channel"`
	Value   int32     `json:"value"`
	Width   BitMode   `json:"width"`
	Arrived time.Time `json:"arrived"`
}

// Signal summarizes ingestion quality for display next to the rendered data.
type Signal struct {
	Connection string  `json:"connection"`
	Session    string  `json:"session,omitempty"`
	Payloads   int64   `json:"payloads"`
	Errors     int64   `json:"errors"`
	ErrorRate  float64 `json:"error_rate"`
	Degraded   bool    `json:"degraded"`
}
