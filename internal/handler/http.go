package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"remote-relay/internal/relay"
)

func Health(b *relay.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := b.Health()
		c.JSON(http.StatusOK, gin.H{
			"status":   "online",
			"clients":  h.Clients,
			"sessions": h.Sessions,
			"uptime":   h.Uptime.Seconds(),
		})
	}
}

func Stats(b *relay.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := b.Stats()
		c.JSON(http.StatusOK, gin.H{
			"totalClients":   st.TotalClients,
			"onlineClients":  st.OnlineClients,
			"activeSessions": st.ActiveSessions,
			"serverTime":     st.ServerTime.Format(time.RFC3339),
		})
	}
}
