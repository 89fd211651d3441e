package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tdnguyen-dev/numberhunt/internal/authority"
	"github.com/tdnguyen-dev/numberhunt/internal/logging"
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.New(logging.Config{
		Level: os.Getenv("LOG_LEVEL"),
		File:  os.Getenv("LOG_FILE"),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ctx := context.Background()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	h := authority.NewHub(ctx, clockwork.NewRealClock(), rng, logger)

	// Build the router with the hub injected
	handler := authority.Routes(h, logger)

	logger.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
