package dispatch

import (
	"context"
	"encoding/json"
	"time"
)

// Message asks the background worker to analyze one run.
type Message struct {
	RunID      string    `json:"runId"`
	UserID     string    `json:"userId"`
	Model      string    `json:"model"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Encode serializes the message for transport.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a transported message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Dispatcher hands a message to the background worker. Dispatch returns once
// the work is accepted, not once it completes.
type Dispatcher interface {
	Dispatch(ctx context.Context, m Message) error
}
