package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"gocutoff/adapters/api"
	"gocutoff/internal/config"
	"gocutoff/internal/container"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML configuration file")
	flag.Parse()

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(appConfig)
	if err != nil {
		log.Fatalf("Failed to create application container: %v", err)
	}
	defer appContainer.Shutdown(context.Background())

	if err := appContainer.OpenDatabase(ctx); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if appConfig.Data.ExpressionFile != "" {
		if err := appContainer.LoadDataset(); err != nil {
			log.Fatalf("Failed to load cohort: %v", err)
		}
	} else {
		log.Println("No expression file configured, POST /api/runs is disabled")
	}

	server := api.NewServer(appConfig, appContainer.Dataset, appContainer.Services())
	log.Printf("Starting gocutoff API on port %s", appConfig.Server.Port)
	if err := server.Start(ctx, ":"+appConfig.Server.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
