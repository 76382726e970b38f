// Package transport holds the alert delivery backends and their shared payload.
package transport

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Message is the payload published by network transports.
type Message struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// Encode marshals a message for title and body stamped with now.
func Encode(title, body string, now time.Time) ([]byte, error) {
	data, err := json.Marshal(Message{Title: title, Body: body, SentAt: now.UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	return data, nil
}
