package handlers

import (
	"MeshHub/service/protocol"
	"context"
	"time"

	"MeshHub/logger"
	"MeshHub/service/gateway"
	"MeshHub/service/model"
	"MeshHub/tools/errs"
)

type TextHandler struct{ ctx *gateway.Context }

func NewTextHandler(ctx *gateway.Context) gateway.Handler { return &TextHandler{ctx: ctx} }
func (h *TextHandler) Type() protocol.FrameType           { return protocol.FrameText }

// Handle persists an inbound text message and fans the durable copy
// out to every authenticated session, the sender included. A persist
// failure is logged and nothing is broadcast; the sender's client
// times its placeholder out.
func (h *TextHandler) Handle(_ *gateway.Context, f protocol.Frame, sess *gateway.Session) error {
	tf := f.(*protocol.TextFrame)
	srv := h.ctx.S

	// The read loop already screens unauthenticated frames; this guard
	// covers direct dispatch.
	if !sess.Authenticated() {
		return errs.ErrNotAuthorized.Wrap()
	}
	if tf.Content == "" {
		return nil
	}

	draft := model.MessageDraft{
		Content:     tf.Content,
		Kind:        model.KindText,
		ClientMsgId: tf.ClientMsgId,
		Author:      sess.User(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	msg, err := srv.Store().Insert(ctx, draft)
	cancel()
	if err != nil {
		logger.Errorf("[text] %v", errs.ErrPersistFailed.WrapMsg(err.Error(), "user", sess.User().ID))
		return nil
	}

	payload, err := protocol.EncodeFrame(&protocol.MessageFrame{Message: msg})
	if err != nil {
		logger.Errorf("[text] encode broadcast err id=%s: %v", msg.ID, err)
		return nil
	}
	srv.Registry().Broadcast(payload)
	return nil
}
