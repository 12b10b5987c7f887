package server

import (
	"github.com/gin-gonic/gin"

	"remote-relay/internal/handler"
	"remote-relay/internal/relay"
)

type Deps struct {
	Broker *relay.Broker
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", handler.Health(deps.Broker))
	r.GET("/stats", handler.Stats(deps.Broker))

	ws := &handler.RelayWS{Broker: deps.Broker}
	r.GET("/ws", ws.Serve)

	return r
}
