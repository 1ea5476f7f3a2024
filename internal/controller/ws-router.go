package controller

import (
	"github.com/echoed/server/pkg/protocol"
	"github.com/echoed/server/pkg/wsrouter"
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(c.wsRequestIdWSMw(), c.loggerWSMw())
	mux.SetErrorHandler(c.handleWSError)

	// room
	wsrouter.Handle(mux, protocol.TypeRoomCreate, c.handleCreateRoom)
	wsrouter.Handle(mux, protocol.TypeRoomJoin, c.handleJoinRoom)
	wsrouter.Handle(mux, protocol.TypeRoomLeave, c.handleLeaveRoom)

	// player
	wsrouter.Handle(mux, protocol.TypePlayerStateChange, c.handleStateChange)

	wsrouter.Handle(mux, protocol.TypePing, c.handlePing)

	return mux
}
