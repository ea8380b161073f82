package gateway

import (
	"MeshHub/service/protocol"

	"github.com/golang/glog"
)

type Handler interface {
	Type() protocol.FrameType
	Handle(ctx *Context, f protocol.Frame, s *Session) error
}

// Context carries the server into frame handlers.
type Context struct {
	S *Server
}

type Dispatcher struct {
	handlers map[protocol.FrameType]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[protocol.FrameType]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

// Dispatch routes a frame to its registered handler. A frame type
// without a handler is logged and skipped, not an error: old clients
// may send frame kinds this node no longer serves.
func (d *Dispatcher) Dispatch(ctx *Context, f protocol.Frame, s *Session) error {
	h, ok := d.handlers[f.FrameType()]
	if !ok {
		glog.Infof("no handler for type=%v", f.FrameType())
		return nil
	}
	return h.Handle(ctx, f, s)
}
