// migrate applies the embedded user-service schema: go run ./cmd/migrate -direction up.
package main

import (
	"flag"
	"os"

	"smartdrive/user-service/internal/config"
	"smartdrive/user-service/internal/db/migrate"
	"smartdrive/user-service/internal/platform/logging"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("user-service-migrate", "", "info").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.OTELServiceName+"-migrate", cfg.Env, cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}
	if err := migrate.Run(cfg.DatabaseURL, *direction, logger); err != nil {
		logger.Error("migrate failed", "direction", *direction, "error", err)
		os.Exit(1)
	}
}
