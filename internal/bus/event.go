package bus

import "time"

// Event represents a domain event published on the bus. AccountID scopes the
// event to one linked account; empty means daemon-wide.
type Event struct {
	Kind      string
	AccountID string
	Timestamp time.Time
	Payload   any
}
