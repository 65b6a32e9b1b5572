package main

import (
	"context"
	"net/http"
	"time"

	"github.com/taskchat/taskchat/internal/api"
	"github.com/taskchat/taskchat/internal/chat"
	"github.com/taskchat/taskchat/internal/classifier"
	"github.com/taskchat/taskchat/internal/config"
	"github.com/taskchat/taskchat/internal/db"
	"github.com/taskchat/taskchat/internal/greeting"
	"go.uber.org/zap"
)

// turnStore adapts *db.Database to the orchestrator's Store interface; the
// concrete *db.TurnTx satisfies chat.TurnTx.
type turnStore struct {
	*db.Database
}

func (s turnStore) BeginTurn(ctx context.Context) (chat.TurnTx, error) {
	return s.Database.BeginTurn(ctx)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.Database.Path))
	}
	defer database.Close()

	// The strategy is chosen once: a configured credential selects the
	// remote model, otherwise the deterministic keyword rules.
	var cls classifier.Classifier
	if cfg.LLM.APIKey != "" {
		cls, err = classifier.NewModel(classifier.ModelConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			TokenBudget: cfg.LLM.TokenBudget,
		}, logger)
		if err != nil {
			logger.Fatal("failed to initialize model classifier", zap.Error(err))
		}
		logger.Info("using model-backed classifier", zap.String("model", cfg.LLM.Model))
	} else {
		cls = classifier.NewRules()
		logger.Warn("no LLM credential configured, using rule-based classifier")
	}

	composer := greeting.NewComposer(database)
	orch := chat.NewOrchestrator(turnStore{database}, cls, composer, logger)
	handler := api.NewHandler(orch, logger, cfg.Server.TurnTimeout)

	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.TurnTimeout + 15*time.Second,
	}

	logger.Info("starting server", zap.String("addr", cfg.Server.Addr))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
