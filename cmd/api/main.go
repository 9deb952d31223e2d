package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/config"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/database"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v", err)
	}
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	addr := os.Getenv("STATUS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ctx := context.Background()
	dbpool, err := database.ConnectDB(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}
	defer dbpool.Close()

	dbManager := database.NewPostgresDBManager(dbpool)
	if err := dbManager.CreateTables(ctx); err != nil {
		log.Fatalf("Failed to setup database: %v", err)
	}

	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Stdout)
	statusService := server.NewStatusService(dbManager, logger)
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("DEDUP_BACKEND")), config.DedupBackendPostgres) {
		logger.Warn("DEDUP_BACKEND is not postgres, record lookups are disabled")
		statusService.WithoutRecordLookups()
	}
	router := server.SetupRoutes(statusService)

	log.Printf("Server starting on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
