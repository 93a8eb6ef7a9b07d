package main

import (
	"flag"
	"log"

	"github.com/robertarktes/traveland-bookings/internal/config"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"github.com/robertarktes/traveland-bookings/migrations"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLogger()

	if *down {
		if err := migrations.Down(cfg.DatabaseURL); err != nil {
			log.Fatalf("%v", err)
		}
		logger.Info("migrations rolled back")
		return
	}
	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		log.Fatalf("%v", err)
	}
	logger.Info("migrations applied")
}
