package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/adapters/datasource"
	"github.com/datachat-io/datachat-engine/pkg/auth"
	"github.com/datachat-io/datachat-engine/pkg/config"
	"github.com/datachat-io/datachat-engine/pkg/contextmgr"
	"github.com/datachat-io/datachat-engine/pkg/crypto"
	"github.com/datachat-io/datachat-engine/pkg/database"
	"github.com/datachat-io/datachat-engine/pkg/handlers"
	"github.com/datachat-io/datachat-engine/pkg/llm"
	"github.com/datachat-io/datachat-engine/pkg/logging"
	"github.com/datachat-io/datachat-engine/pkg/middleware"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
	"github.com/datachat-io/datachat-engine/pkg/services"
	"github.com/datachat-io/datachat-engine/pkg/sqlerrors"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("model_type", cfg.LLM.ModelType))

	ctx := context.Background()

	// Engine metadata store.
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Migrations run over database/sql on top of the same pool.
	migrationDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	rdb, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if rdb == nil {
		logger.Info("Redis not configured, learned SQL error patterns are in-memory only")
	}

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Invalid credentials encryption key", zap.Error(err))
	}

	client, err := llm.NewFromConfig(cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	connManager := datasource.NewManager(datasource.ManagerConfig{
		TTLMinutes:   cfg.Datasource.ConnectionTTLMinutes,
		PoolMaxConns: int(cfg.Datasource.PoolMaxConns),
	}, logger)
	defer connManager.Close()

	contexts := contextmgr.NewManager(contextmgr.Config{
		MaxSessions: cfg.Context.MaxSessions,
		MaxTurns:    cfg.Context.MaxTurnsPerSession,
		SessionTTL:  time.Duration(cfg.Context.SessionTTLMinutes) * time.Minute,
	}, logger)
	defer contexts.Close()

	learning := sqlerrors.NewLearningStore(sqlerrors.LearningConfig{}, rdb, logger)
	learning.Load(ctx)

	// Repositories.
	datasourceRepo := repositories.NewDatasourceRepository(db)
	tableRepo := repositories.NewTableRepository(db)
	dictionaryRepo := repositories.NewDictionaryRepository(db)
	knowledgeRepo := repositories.NewKnowledgeRepository(db)
	templateRepo := repositories.NewPromptTemplateRepository(db)
	fewShotRepo := repositories.NewFewShotRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	historyRepo := repositories.NewQueryHistoryRepository(db)

	// Services.
	datasourceSvc := services.NewDatasourceService(datasourceRepo, encryptor, connManager, logger)
	syncSvc := services.NewTableSyncService(datasourceSvc, tableRepo, logger)
	knowledgeSvc := services.NewKnowledgeService(knowledgeRepo, logger)
	fewShotSvc := services.NewFewShotService(fewShotRepo, logger)
	dictionarySvc := services.NewDictionaryService(dictionaryRepo, logger)
	templateSvc := services.NewPromptTemplateService(templateRepo, logger)
	chatSvc := services.NewChatService(services.ChatConfig{
		MaxFixAttempts: cfg.LLM.MaxFixAttempts,
		QueryTimeout:   time.Duration(cfg.Datasource.QueryTimeoutSeconds) * time.Second,
		MaxResultRows:  cfg.Datasource.MaxResultRows,
	}, datasourceSvc, tableRepo, sessionRepo, historyRepo,
		knowledgeSvc, fewShotSvc, dictionarySvc, templateSvc,
		client, contexts, learning, logger)

	// Auth.
	validator, err := auth.NewJWKSValidator(ctx, auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to initialize JWKS validator", zap.Error(err))
	}
	authMW := auth.NewMiddleware(validator, cfg.Auth.EnableVerification, logger)

	// Routes.
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg.Version, logger).RegisterRoutes(mux)
	handlers.NewDatasourcesHandler(datasourceSvc, syncSvc, logger).RegisterRoutes(mux, authMW)
	handlers.NewTablesHandler(tableRepo, logger).RegisterRoutes(mux, authMW)
	handlers.NewDictionariesHandler(dictionaryRepo, logger).RegisterRoutes(mux, authMW)
	handlers.NewKnowledgeHandler(knowledgeRepo, logger).RegisterRoutes(mux, authMW)
	handlers.NewPromptTemplatesHandler(templateRepo, historyRepo, logger).RegisterRoutes(mux, authMW)
	handlers.NewFewShotHandler(fewShotRepo, logger).RegisterRoutes(mux, authMW)
	handlers.NewChatHandler(chatSvc, sessionRepo, historyRepo, contexts, logger).RegisterRoutes(mux, authMW)

	handler := middleware.Recover(logger)(middleware.RequestLogger(logger)(mux))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting datachat-engine",
			zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	learning.Save(shutdownCtx)
}
