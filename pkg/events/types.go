// Package events defines the event emitted after every dispatch and the
// publishers that deliver it.
package events

// Dispatch outcomes carried by DispatchedEvent.
const (
	OutcomeResponse = "response"
	OutcomeError    = "error"
	OutcomePanic    = "panic"
)

// DispatchedEvent is emitted once a script has been dispatched.
type DispatchedEvent struct {
	ID         string   `json:"id"`
	RequestID  string   `json:"requestId"`
	Script     string   `json:"script"`
	Version    string   `json:"version,omitempty"`
	Args       []string `json:"args"`
	Outcome    string   `json:"outcome"`
	Status     int      `json:"status"`
	ErrorCode  string   `json:"errorCode,omitempty"`
	DurationMs int64    `json:"durationMs"`
	Timestamp  string   `json:"timestamp"`
	Transport  string   `json:"transport,omitempty"`
}
