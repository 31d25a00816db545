package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type MessageID string

// NewMessageID generates an identifier derived from the current time and a random suffix
func NewMessageID() MessageID {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return MessageID(fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), suffix))
}

type MessageType string

const (
	MessageTypeQuery     MessageType = "query"
	MessageTypeResponse  MessageType = "response"
	MessageTypeStorage   MessageType = "storage"
	MessageTypeRetrieval MessageType = "retrieval"
)

var ErrInvalidMessageType = goerr.New("invalid message type")

// Validate checks if the message type is known
func (t MessageType) Validate() error {
	switch t {
	case MessageTypeQuery, MessageTypeResponse, MessageTypeStorage, MessageTypeRetrieval:
		return nil
	default:
		return goerr.Wrap(ErrInvalidMessageType, "unknown message type", goerr.V("type", t))
	}
}

// Message is a mock message exchanged between two nodes
type Message struct {
	ID        MessageID   `json:"id" firestore:"id"`
	From      NodeID      `json:"from" firestore:"from"`
	To        NodeID      `json:"to" firestore:"to"`
	Type      MessageType `json:"type" firestore:"type"`
	Content   string      `json:"content" firestore:"content"`
	Timestamp time.Time   `json:"timestamp" firestore:"timestamp"`
	Delivered bool        `json:"delivered" firestore:"delivered"`
}

// Clone returns a copy of the message
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
