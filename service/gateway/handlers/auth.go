package handlers

import (
	"MeshHub/service/protocol"
	"context"
	"time"

	"MeshHub/logger"
	"MeshHub/service/gateway"
	"MeshHub/tools/errs"
	"MeshHub/tools/security"
)

type AuthHandler struct{ ctx *gateway.Context }

func NewAuthHandler(ctx *gateway.Context) gateway.Handler { return &AuthHandler{ctx: ctx} }
func (h *AuthHandler) Type() protocol.FrameType           { return protocol.FrameAuth }

// Handle runs the handshake: verify the asserted identity, evict any
// prior session for the user, reply auth_result, then announce the
// new presence count. Rejection closes the socket; a lookup error is
// soft and leaves the auth-deadline timer running.
func (h *AuthHandler) Handle(_ *gateway.Context, f protocol.Frame, sess *gateway.Session) error {
	af := f.(*protocol.AuthFrame)
	srv := h.ctx.S

	if sess.Authenticated() {
		return nil
	}
	if af.User.ID == "" {
		_ = sess.Reply(&protocol.AuthResultFrame{Success: false, Error: "missing user id"})
		sess.CloseWith(protocol.CloseAuthRejected, "missing user id")
		return errs.ErrAuthRejected.WrapMsg("missing user id")
	}

	if secret := srv.Config().TokenSecret; secret != "" {
		if _, err := security.Verify(security.DefaultOptions([]byte(secret)), af.Token, af.User.ID); err != nil {
			_ = sess.Reply(&protocol.AuthResultFrame{Success: false, Error: "invalid token"})
			sess.CloseWith(protocol.CloseAuthRejected, "invalid token")
			return errs.ErrAuthRejected.WrapMsg("invalid token", "user", af.User.ID)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	ok, err := srv.Identity().VerifyIdentity(ctx, af.User.ID, af.User.Email)
	cancel()
	if err != nil {
		// Lookup error is soft: the connection stays open and the
		// auth deadline keeps ticking, so the client may retry auth.
		logger.Errorf("[auth] %v", errs.ErrIdentityLookup.WrapMsg(err.Error(), "user", af.User.ID))
		_ = sess.Reply(&protocol.AuthResultFrame{Success: false, Error: "identity lookup failed"})
		return nil
	}
	if !ok {
		_ = sess.Reply(&protocol.AuthResultFrame{Success: false, Error: "identity check failed"})
		sess.CloseWith(protocol.CloseAuthRejected, "identity check failed")
		return errs.ErrAuthRejected.WrapMsg("user", af.User.ID)
	}

	sess.Grant(af.User)
	evicted, count := srv.Registry().Insert(sess)
	if evicted != nil {
		logger.Infof("[auth] evict prior session user=%s conn=%s", af.User.ID, evicted.ConnID)
		evicted.CloseWith(protocol.CloseReplaced, "replaced by newer login")
	}

	_ = sess.Reply(&protocol.AuthResultFrame{Success: true, OnlineUsers: count})
	srv.Registry().AnnouncePresence()
	srv.MirrorOnline(af.User.ID)

	logger.Infof("[auth] ok user=%s conn=%s online=%d", af.User.ID, sess.ConnID, count)
	return nil
}
