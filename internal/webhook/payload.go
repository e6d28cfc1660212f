package webhook

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatbridge/internal/store"
)

// Payload is the body Wazzup posts to the webhook endpoint: either a test
// probe or an ordered batch of message events.
type Payload struct {
	Test     bool           `json:"test"`
	Messages []MessageEvent `json:"messages"`
}

// MessageEvent is one chat event in a webhook batch.
type MessageEvent struct {
	MessageID  string  `json:"messageId"`
	ChannelID  string  `json:"channelId"`
	ChatID     string  `json:"chatId"`
	ChatType   string  `json:"chatType"`
	Type       string  `json:"type"`
	Status     string  `json:"status"`
	Text       string  `json:"text"`
	ContentURI string  `json:"contentUri"`
	DateTime   string  `json:"dateTime"`
	IsEcho     bool    `json:"isEcho"`
	Contact    Contact `json:"contact"`
}

// Contact carries the sender info attached to a message event.
type Contact struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
}

// Validate rejects events the store cannot key.
func (e *MessageEvent) Validate() error {
	if e.MessageID == "" {
		return fmt.Errorf("missing messageId")
	}
	if e.ChatID == "" || e.ChatType == "" {
		return fmt.Errorf("message %s: missing chatId or chatType", e.MessageID)
	}
	return nil
}

// ToMessage normalizes the event into a store row.
func (e *MessageEvent) ToMessage() *store.Message {
	msgType := e.Type
	if msgType == "" {
		msgType = "text"
	}
	status := e.Status
	if status == "" {
		status = "unknown"
	}
	var sentAt int64
	if ts, err := time.Parse(time.RFC3339, e.DateTime); err == nil {
		sentAt = ts.UnixMilli()
	}
	return &store.Message{
		MessageID:   e.MessageID,
		ChannelID:   e.ChannelID,
		ChatID:      e.ChatID,
		ChatType:    e.ChatType,
		SenderName:  e.Contact.Name,
		SenderPhone: e.Contact.Phone,
		SenderUser:  e.Contact.Username,
		Body:        e.Text,
		ContentURI:  e.ContentURI,
		MessageType: msgType,
		Status:      status,
		IsEcho:      e.IsEcho,
		SentAt:      sentAt,
	}
}
