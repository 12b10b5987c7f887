package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"remote-relay/internal/config"
	"remote-relay/internal/relay"
	"remote-relay/internal/server"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)

	broker := relay.NewWithOptions(relay.Options{OnlineThreshold: cfg.OnlineThreshold})
	sweeper := relay.NewSweeper(broker, relay.SweeperConfig{
		Interval:         cfg.SweepInterval,
		OfflineThreshold: cfg.OfflineThreshold,
		PendingTTL:       cfg.PendingSessionTTL,
		ActiveTTL:        cfg.ActiveSessionTTL,
	})
	sweeper.Start()
	defer sweeper.Stop()

	router := server.NewRouter(server.Deps{Broker: broker})
	log.Printf("relay server listening on :%d", cfg.Port)
	log.Fatal(server.Run(cfg, router))
}
