package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "closed sentinel",
			err:      amqp091.ErrClosed,
			expected: true,
		},
		{
			name:     "connection refused",
			err:      errors.New("dial tcp: connection refused"),
			expected: true,
		},
		{
			name:     "EOF error",
			err:      errors.New("unexpected EOF"),
			expected: true,
		},
		{
			name:     "closed network connection error",
			err:      errors.New("use of closed network connection"),
			expected: true,
		},
		{
			name:     "other error",
			err:      errors.New("invalid input"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsConnectionError(tt.err)
			if result != tt.expected {
				t.Errorf("IsConnectionError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestPublishChangeSkipsEmpty(t *testing.T) {
	// No connection is needed when there is nothing to publish.
	client := &Client{exchangeName: "test_exchange"}
	if err := client.PublishChange(context.Background(), "origin", nil); err != nil {
		t.Fatalf("PublishChange() with no paths = %v, want nil", err)
	}
}

func TestNewChangeMessage(t *testing.T) {
	msg := NewChangeMessage("node-a", []string{"users/u1/transactions/t1"})

	if msg.Origin != "node-a" {
		t.Errorf("NewChangeMessage() Origin = %v, want node-a", msg.Origin)
	}
	if len(msg.Paths) != 1 {
		t.Errorf("NewChangeMessage() Paths = %v", msg.Paths)
	}
	if time.Since(msg.Timestamp) > time.Second {
		t.Error("NewChangeMessage() Timestamp should be recent")
	}
}

func TestChangeMessage_JSON(t *testing.T) {
	timestamp := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := &ChangeMessage{
		Origin:    "node-a",
		Paths:     []string{"users/u1/settings/budget", "users/u1/recurring/r1"},
		Timestamp: timestamp,
	}

	jsonBytes, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	parsed, err := ChangeMessageFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("ChangeMessageFromJSON() error = %v", err)
	}
	if parsed.Origin != msg.Origin || len(parsed.Paths) != 2 || parsed.Paths[1] != msg.Paths[1] {
		t.Errorf("parsed = %+v, want %+v", parsed, msg)
	}
	if !parsed.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("Parsed Timestamp = %v, want %v", parsed.Timestamp, msg.Timestamp)
	}
}

func TestChangeMessage_InvalidJSON(t *testing.T) {
	if _, err := ChangeMessageFromJSON([]byte(`{"paths": "not-a-list"}`)); err == nil {
		t.Error("ChangeMessageFromJSON() should fail with invalid JSON")
	}
}
