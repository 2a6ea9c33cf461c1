package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"research-insight-platform/internal/ai"
	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/internal/queue"
	"research-insight-platform/internal/telemetry"
	"research-insight-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("research-insight-worker")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		shutdownTracer = func() {}
	}
	defer shutdownTracer()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	store := services.NewMongoJobStore(mongoClient.Database(cfg.DBName))

	geminiClient, err := ai.NewGeminiClient(cfg)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer geminiClient.Close()

	embedder, err := ai.NewEmbeddingClient(cfg)
	if err != nil {
		log.Fatal("Failed to initialize embedding client:", err)
	}
	defer embedder.Close()

	arxiv := services.NewArxivClient(cfg)
	extractor := services.NewPDFExtractor(cfg)

	queueClient := queue.NewClient(cfg)
	defer queueClient.Close()

	pipeline := services.NewPipeline(
		cfg,
		store,
		services.NewResearcher(cfg, arxiv, extractor, embedder),
		services.NewAnalyzer(cfg, geminiClient, embedder),
		services.NewComparator(cfg, geminiClient, embedder),
		services.NewSynthesizer(cfg, geminiClient, embedder),
		metrics,
		queueClient.EnqueueAdvance,
	)

	cleanup := services.NewCleanupService(cfg, store)
	if err := cleanup.Start(); err != nil {
		log.Fatal("Failed to start cleanup scheduler:", err)
	}
	defer cleanup.Stop()

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			// Stages are LLM-bound; modest concurrency keeps rate limits
			// and token budgets manageable.
			Concurrency: 5,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewProcessor(pipeline)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskResearchAdvance, processor.HandleAdvance)

	logger.Info("Starting research worker", "redis", cfg.RedisURL, "concurrency", 5)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
