package models

import (
	"encoding/json"
	"time"

	"optiroute/internal/domain"
)

// Event names on the live connection.
const (
	EventChannelCreated    = "channelCreated"
	EventNewMessage        = "newMessage"
	EventSendMessage       = "sendMessage"
	EventMessageSent       = "messageSent"
	EventGetOnlineSubjects = "getOnlineSubjects"
	EventOnlineSubjects    = "onlineSubjects"
	EventError             = "error"
)

// Partner role labels used in channelCreated.
const (
	PartnerClient = "client"
	PartnerDriver = "driver"
)

// Frame is the envelope for every websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutFrame is the outbound counterpart of Frame with an already typed payload.
type OutFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type ChannelCreated struct {
	RequestID   domain.ID `json:"requestId"`
	PartnerID   domain.ID `json:"partnerId"`
	PartnerRole string    `json:"partnerRole"`
	Message     string    `json:"message"`
}

type ChatMessage struct {
	RequestID  domain.ID   `json:"requestId"`
	Text       string      `json:"text"`
	SenderID   domain.ID   `json:"senderId"`
	SenderRole domain.Role `json:"senderRole"`
	Timestamp  time.Time   `json:"timestamp"`
}

type SendMessageInput struct {
	RequestID domain.ID `json:"requestId"`
	Text      string    `json:"text"`
}

// SendResult is returned to the sender instead of closing the connection.
type SendResult struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r SendResult) OK() bool { return r.Error == "" }
