package model

// ChatUser is an immutable identity snapshot. It is owned by the
// identity service and copied by value into every message.
type ChatUser struct {
	ID     string `json:"id" bson:"id"`
	Name   string `json:"name,omitempty" bson:"name,omitempty"`
	Email  string `json:"email,omitempty" bson:"email,omitempty"`
	Avatar string `json:"avatar,omitempty" bson:"avatar,omitempty"`
}

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// ChatMessage is a room message. Durable messages carry an "m-"
// prefixed id assigned by the store; optimistic placeholders carry a
// client-local "temp-" id and never reach the wire as-is.
//
// ClientMsgId is the sender-assigned correlation id: the gateway
// echoes it on the broadcast so the sending client can drop exactly
// its own placeholder.
type ChatMessage struct {
	ID          string      `json:"id" bson:"_id"`
	ClientMsgId string      `json:"client_msg_id,omitempty" bson:"client_msg_id,omitempty"`
	Content     string      `json:"content" bson:"content"`
	Kind        MessageKind `json:"kind" bson:"kind"`
	CreatedAt   int64       `json:"created_at" bson:"created_at"` // unix millis
	Author      ChatUser    `json:"author" bson:"author"`
}

// MessageDraft is what the gateway hands to the store for persistence.
type MessageDraft struct {
	Content     string
	Kind        MessageKind
	ClientMsgId string
	Author      ChatUser
}

// DeliveryState tracks an optimistic placeholder only. Durable
// messages have no delivery state.
type DeliveryState int

const (
	DeliveryPending DeliveryState = iota
	DeliveryConfirmed
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryFailed:
		return "failed"
	}
	return "unknown"
}
