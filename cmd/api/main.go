package main

import (
	"log"

	"chart-backend/internal/server"
	"chart-backend/internal/shared/config"
)

func main() {
	cfg := config.Load()
	r, shutdown := server.NewRouter(cfg)
	defer shutdown()

	addr := server.Addr(cfg.Port)
	log.Printf("Starting API server on %s", addr)

	if err := r.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
