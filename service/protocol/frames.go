package protocol

import (
	"encoding/json"
	"fmt"

	"MeshHub/service/model"
)

// Wire frames. Every frame is a JSON object with a "type" tag; the
// remaining fields are the variant payload. Decoding yields one of
// the concrete frame structs below so call sites dispatch on the Go
// type, not on the tag string.

type FrameType string

const (
	FrameAuth        FrameType = "auth"
	FrameAuthResult  FrameType = "auth_result"
	FrameOnlineUsers FrameType = "online_users"
	FrameText        FrameType = "text"
	FrameMessage     FrameType = "message"
)

// Close codes in the private 4xxx range. The evicted side of a
// last-connection-wins race gets CloseReplaced so it knows not to
// retry against its own newer login.
const (
	CloseReplaced     = 4001
	CloseAuthTimeout  = 4002
	CloseAuthRejected = 4003
	CloseHeartbeat    = 4004
)

type Frame interface {
	FrameType() FrameType
}

// AuthFrame is the first frame a client must send. Token is optional
// and only checked when the gateway is configured with a secret.
type AuthFrame struct {
	User  model.ChatUser `json:"user"`
	Token string         `json:"token,omitempty"`
}

func (*AuthFrame) FrameType() FrameType { return FrameAuth }

type AuthResultFrame struct {
	Success     bool   `json:"success"`
	OnlineUsers int    `json:"online_users,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (*AuthResultFrame) FrameType() FrameType { return FrameAuthResult }

type OnlineUsersFrame struct {
	Count int `json:"count"`
}

func (*OnlineUsersFrame) FrameType() FrameType { return FrameOnlineUsers }

// TextFrame is a client-originated message. ClientMsgId is the
// sender's placeholder id, echoed back on the broadcast.
type TextFrame struct {
	Content     string `json:"content"`
	ClientMsgId string `json:"client_msg_id,omitempty"`
}

func (*TextFrame) FrameType() FrameType { return FrameText }

// MessageFrame carries a durable message from the gateway to clients.
type MessageFrame struct {
	Message model.ChatMessage `json:"message"`
}

func (*MessageFrame) FrameType() FrameType { return FrameMessage }

type frameEnvelope struct {
	Type FrameType `json:"type"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("reshape frame: %w", err)
	}
	m["type"] = string(f.FrameType())
	return json.Marshal(m)
}

func DecodeFrame(raw []byte) (Frame, error) {
	var env frameEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal frame envelope: %w", err)
	}
	var f Frame
	switch env.Type {
	case FrameAuth:
		f = &AuthFrame{}
	case FrameAuthResult:
		f = &AuthResultFrame{}
	case FrameOnlineUsers:
		f = &OnlineUsersFrame{}
	case FrameText:
		f = &TextFrame{}
	case FrameMessage:
		f = &MessageFrame{}
	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal %s frame: %w", env.Type, err)
	}
	return f, nil
}
