package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/curatorhq/curator/internal/api/handlers"
	"github.com/curatorhq/curator/internal/config"
	"github.com/curatorhq/curator/internal/database"
	"github.com/curatorhq/curator/internal/domain"
	"github.com/curatorhq/curator/internal/jobs"
	"github.com/curatorhq/curator/internal/openai"
	"github.com/curatorhq/curator/internal/repository"
	"github.com/curatorhq/curator/internal/server"
	"github.com/curatorhq/curator/internal/service"
	"github.com/curatorhq/curator/internal/storage"
	"github.com/curatorhq/curator/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the curator API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	knowledgeRepo := repository.NewKnowledgeItemRepository(pool)
	threadRepo := repository.NewThreadItemRepository(pool)

	var aiClient *openai.Client
	if cfg.HasOpenAI() {
		aiClient = openai.NewClientWithConfig(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			EmbeddingModel: cfg.EmbeddingModel,
			ChatModel:      cfg.ChatModel,
		})
	}

	var embedder service.Embedder
	var pairScorer service.PairScorer
	var answers service.AnswerGenerator
	var modelClassifier service.Classifier
	if aiClient != nil {
		embedder = aiClient
		pairScorer = aiClient
		answers = aiClient
		modelClassifier = service.NewModelClassifier(aiClient)
	}
	classifier := service.NewFallbackClassifier(modelClassifier)

	var archive service.Archiver
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		archive = s3Client
	}

	var backfillWorker *jobs.Worker
	if aiClient != nil {
		processor := jobs.NewBackfillWorker(aiClient, knowledgeRepo, threadRepo)
		backfillWorker = jobs.NewWorker(processor, cfg.BackfillInterval)
		go backfillWorker.Start(ctx)
		log.Println("embedding backfill worker started")
	}

	ingestSvc := service.NewIngestService(
		knowledgeRepo,
		threadRepo,
		service.NewSeenCache(cfg.DedupCacheSize),
		service.NewChunker(cfg.MaxChunkSize),
		classifier,
		embedder,
		service.NewAttachmentFetcher(cfg.FileFetchToken, cfg.FileFetchTimeout),
		archive,
		nil,
		nil,
		service.ChannelRouting{
			FinalChanges: cfg.FinalChangesChannel,
			Docs:         cfg.DocsChannel,
			Ideas:        cfg.IdeasChannel,
			Ignored:      cfg.IgnoredChannels,
			Handle:       cfg.AssistantHandle,
		},
	)

	retrievalSvc := service.NewRetrievalService(
		&combinedStore{knowledge: knowledgeRepo, threads: threadRepo},
		embedder,
		service.NewTFIDFScorer(),
		service.NewReranker(pairScorer, cfg.RerankFloor),
		answers,
		service.RetrievalConfig{
			TopK:                cfg.TopK,
			MinRelevance:        cfg.MinRelevance,
			CandidateMultiplier: cfg.CandidateMultiplier,
			CustomerMinAvgScore: cfg.CustomerMinAvgScore,
			PublicSources:       cfg.PublicSources,
			StrongWeights:       cfg.StrongWeights(),
			WeakWeights:         cfg.WeakWeights(),
			NoneWeights:         cfg.NoneWeights(),
		},
	)

	queryHandler := handlers.NewQueryHandler(retrievalSvc)
	eventHandler := handlers.NewEventHandler(ingestSvc, retrievalSvc)
	itemHandler := handlers.NewItemHandler(knowledgeRepo)

	router := server.NewRouter(server.RouterConfig{
		QueryHandler: queryHandler,
		EventHandler: eventHandler,
		ItemHandler:  itemHandler,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if backfillWorker != nil {
		backfillWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// combinedStore presents both collections as one read surface for retrieval.
type combinedStore struct {
	knowledge *repository.ItemRepository
	threads   *repository.ItemRepository
}

func (s *combinedStore) FetchAll(ctx context.Context) ([]*domain.KnowledgeItem, error) {
	items, err := s.knowledge.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	threadItems, err := s.threads.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return append(items, threadItems...), nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
