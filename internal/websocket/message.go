package websocket

import "github.com/prappser/prappser_media/internal/thumbnail"

type MessageType string

const (
	MessageTypeJob         MessageType = "job"
	MessageTypeConnected   MessageType = "connected"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeError       MessageType = "error"
)

type IncomingMessage struct {
	Type    MessageType `json:"type"`
	AssetID string      `json:"assetId,omitempty"`
}

type OutgoingMessage struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId,omitempty"`
	AssetID  string      `json:"assetId,omitempty"`
	Error    string      `json:"error,omitempty"`
}

type JobMessage struct {
	Type MessageType    `json:"type"`
	Job  *thumbnail.Job `json:"job"`
}
