package handlers

import (
	"MeshHub/service/gateway"
)

// Register wires the default frame handlers into a server.
func Register(srv *gateway.Server) {
	ctx := &gateway.Context{S: srv}
	srv.Disp().Register(NewAuthHandler(ctx))
	srv.Disp().Register(NewTextHandler(ctx))
}
