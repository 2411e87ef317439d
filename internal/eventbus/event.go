package eventbus

import "time"

type EventType string

const (
	EventTypeFetch EventType = "fetch"
)

type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries"`
}

// FetchEvent requests a transaction fetch for an inclusive date range.
type FetchEvent struct {
	DateSince time.Time `json:"date_since"`
	DateUntil time.Time `json:"date_until"`
}
