package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/bizdocs/collabhub/internal/api"
	"github.com/bizdocs/collabhub/internal/config"
	"github.com/bizdocs/collabhub/internal/database"
	"github.com/bizdocs/collabhub/internal/hub"
	"github.com/bizdocs/collabhub/internal/notification"
	"github.com/bizdocs/collabhub/internal/stats"
	"github.com/bizdocs/collabhub/internal/token"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	tokenTTL       time.Duration
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.DurationVar(&tokenTTL, "token-ttl", time.Minute, "connection token lifetime")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[collab-hub] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, tokenTTL)
	if err != nil {
		logger.Fatal("config:", err)
	}

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	collabHub, err := hub.NewHub(logger, statsUpdater)
	if err != nil {
		logger.Fatal("new hub:", err)
	}

	issuer := token.NewIssuer(cfg.SigningKey, cfg.TokenTTL)
	notifications := notification.NewService(logger, db, collabHub)

	srv := api.NewCollabApp(mux, logger, collabHub, issuer, notifications, db, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down hub...")
	collabHub.Shutdown()

	logger.Println("shutdown complete")
}
