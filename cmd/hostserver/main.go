package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"remote-relay/internal/auth"
	"remote-relay/internal/config"
	"remote-relay/internal/hostserver"
	"remote-relay/internal/server"
)

func main() {
	cfg, err := config.LoadHostServer()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)

	codes := auth.NewCodeManager(cfg.AccessCodeTTL)
	defer codes.Close()

	// Screen capture and input injection are provided by the embedding
	// desktop application; the standalone binary runs without them.
	srv := hostserver.NewServer(hostserver.Deps{
		Codes:       codes,
		AdminSecret: cfg.AdminSecret,
		TokenConfig: auth.TokenConfig{
			Secret: cfg.AdminSecret,
			Expiry: cfg.TokenExpiry,
			Issuer: "remote-relay",
		},
	})

	router := hostserver.NewRouter(srv)
	log.Printf("host server listening on :%d", cfg.Port)
	log.Fatal(server.Run(cfg, router))
}
