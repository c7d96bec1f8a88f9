package amqp

import (
	"encoding/json"
	"time"
)

// ChangeMessage announces document paths committed by one store instance.
// Receivers reload their subscriptions; the message carries no data.
type ChangeMessage struct {
	Origin    string    `json:"origin"`
	Paths     []string  `json:"paths"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChangeMessage creates a change message stamped with the current time
func NewChangeMessage(origin string, paths []string) *ChangeMessage {
	return &ChangeMessage{
		Origin:    origin,
		Paths:     paths,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON creates a message from JSON bytes
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
