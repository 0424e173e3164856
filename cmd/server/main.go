package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
	"github.com/mikeboe/deep-research/pkg/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	completer, err := clients.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init LLM client", "provider", cfg.Provider, "error", err)
		os.Exit(1)
	}

	engine := research.NewEngine(completer, tools.FromConfig(cfg).Tools(), research.Options{
		MaxIterations:       cfg.MaxIterations,
		QueriesPerIteration: cfg.QueriesPerIteration,
		SearchConcurrency:   cfg.SearchConcurrency,
	})

	// Transcripts are optional
	var store server.TranscriptStore
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.InitSchema(ctx); err != nil {
			slog.Error("Failed to initialize schema", "error", err)
			os.Exit(1)
		}
		store = db
	}

	svc := server.NewService(engine, store, cfg.ResearchTimeout)
	handler := server.NewHandler(svc)

	r := gin.Default()

	// CORS Setup
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id", "X-Vercel-AI-UI-Message-Stream"},
		AllowCredentials: false,
	}))

	handler.RegisterRoutes(r)

	slog.Info("Server starting", "port", cfg.Port, "provider", cfg.Provider, "transcripts", store != nil)
	if err := r.Run(":" + cfg.Port); err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}
