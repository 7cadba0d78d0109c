package model

import (
	"strings"
	"time"
)

// Message is one inbound text message as stored in the inbox.
type Message struct {
	ID         string    `json:"id" yaml:"id"`
	From       string    `json:"from" yaml:"from"`
	Body       string    `json:"body" yaml:"body"`
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
}

// MessagePart is a single fragment of a multi-part delivery.
type MessagePart struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// Delivery is a batch of message parts handed over together, e.g. a
// long text split across several frames.
type Delivery struct {
	Format string        `json:"format,omitempty"`
	Parts  []MessagePart `json:"parts"`
}

// Text concatenates all part bodies in delivery order.
func (d Delivery) Text() string {
	var sb strings.Builder
	for _, p := range d.Parts {
		sb.WriteString(p.Body)
	}
	return sb.String()
}

// Sender is the originating address of the last part.
func (d Delivery) Sender() string {
	if len(d.Parts) == 0 {
		return ""
	}
	return d.Parts[len(d.Parts)-1].From
}

// MessageParams is the payload of a message request.
type MessageParams struct {
	From string `json:"from" yaml:"from"`
	Body string `json:"body" yaml:"body"`
}
