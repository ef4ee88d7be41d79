package main

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/eduask/backend/internal/domain/access"
	"github.com/eduask/backend/internal/domain/auth"
	"github.com/eduask/backend/internal/domain/composer"
	"github.com/eduask/backend/internal/domain/document"
	"github.com/eduask/backend/internal/domain/embedworker"
	"github.com/eduask/backend/internal/domain/ingestion"
	"github.com/eduask/backend/internal/domain/questionlog"
	"github.com/eduask/backend/internal/domain/retrieval"
	"github.com/eduask/backend/internal/domain/vectorindex"
	"github.com/eduask/backend/internal/bootstrap"
	"github.com/eduask/backend/internal/infra/cache"
	"github.com/eduask/backend/internal/infra/chunker"
	"github.com/eduask/backend/internal/infra/config"
	"github.com/eduask/backend/internal/infra/docrepo"
	"github.com/eduask/backend/internal/infra/llm"
	"github.com/eduask/backend/internal/infra/llm/chatgpt"
	"github.com/eduask/backend/internal/infra/pubsub"
	"github.com/eduask/backend/internal/infra/qdrant"
	"github.com/eduask/backend/internal/infra/questionrepo"
	"github.com/eduask/backend/internal/infra/rabbitmq"
	"github.com/eduask/backend/internal/infra/ratelimit"
	"github.com/eduask/backend/internal/infra/storage"
	"github.com/eduask/backend/internal/infra/suggestionrepo"
	"github.com/eduask/backend/internal/infra/userrepo"
	"github.com/eduask/backend/internal/interface/ws"
)

func provideAuthConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		Secret:          cfg.Auth.JWTSecret,
		TokenTTL:        cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	}
}

func provideChatGPTClient(cfg *config.Config) (*chatgpt.Client, error) {
	return chatgpt.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
}

func provideAuthService(cfg auth.Config, repo auth.Repository, logger *slog.Logger) auth.Service {
	return auth.NewService(cfg, repo, logger)
}

func provideAuthRepository(cfg *config.Config, logger *slog.Logger) auth.Repository {
	fallback := userrepo.NewMemoryRepository()
	dsn := strings.TrimSpace(cfg.Auth.Postgres.DSN)
	if dsn == "" {
		logger.Info("auth postgres dsn not set, using memory repository")
		return fallback
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid auth postgres dsn, using memory repository", "error", err)
		return fallback
	}
	if cfg.Auth.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Auth.Postgres.MaxConns
	}
	if cfg.Auth.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Auth.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize auth postgres pool, using memory repository", "error", err)
		return fallback
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("auth postgres ping failed, using memory repository", "error", err)
		pool.Close()
		return fallback
	}
	logger.Info("auth postgres repository enabled")
	return userrepo.NewPostgresRepository(pool)
}

// provideEmbeddingClient satisfies both embedworker.Embedder and
// retrieval.Embedder from one chatgpt-backed client.
func provideEmbeddingClient(client *chatgpt.Client, cfg *config.Config) *llm.EmbeddingClient {
	return llm.NewEmbeddingClient(client, cfg.LLM.EmbeddingModel)
}

// provideSuggesterClient satisfies ingestion.QuestionSuggester.
func provideSuggesterClient(client *chatgpt.Client, cfg *config.Config) *llm.SuggesterClient {
	return llm.NewSuggesterClient(client, cfg.LLM.Model, cfg.LLM.Temperature)
}

func provideComposerService(client *chatgpt.Client, cfg *config.Config, logger *slog.Logger) composer.Service {
	return composer.NewService(client, cfg.LLM.Model, cfg.LLM.Temperature, logger)
}

var (
	documentsPoolOnce sync.Once
	documentsPool     *pgxpool.Pool
)

// documentsPostgresPool is shared by the document, question-log, and
// suggested-questions repositories, which all live in the same database.
func documentsPostgresPool(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	documentsPoolOnce.Do(func() {
		dsn := strings.TrimSpace(cfg.Documents.Postgres.DSN)
		if dsn == "" {
			logger.Info("documents postgres dsn not set, using memory repositories")
			return
		}
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			logger.Error("invalid documents postgres dsn, using memory repositories", "error", err)
			return
		}
		if cfg.Documents.Postgres.MaxConns > 0 {
			poolConfig.MaxConns = cfg.Documents.Postgres.MaxConns
		}
		if cfg.Documents.Postgres.MinConns > 0 {
			poolConfig.MinConns = cfg.Documents.Postgres.MinConns
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			logger.Error("failed to initialize documents postgres pool, using memory repositories", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("documents postgres ping failed, using memory repositories", "error", err)
			pool.Close()
			return
		}
		logger.Info("documents postgres repositories enabled")
		documentsPool = pool
	})
	return documentsPool
}

func provideDocumentRepository(cfg *config.Config, logger *slog.Logger) document.Repository {
	if pool := documentsPostgresPool(cfg, logger); pool != nil {
		return docrepo.NewPostgresRepository(pool)
	}
	return docrepo.NewMemoryRepository()
}

func provideQuestionLogRepository(cfg *config.Config, logger *slog.Logger) questionlog.Repository {
	if pool := documentsPostgresPool(cfg, logger); pool != nil {
		return questionrepo.NewPostgresRepository(pool)
	}
	return questionrepo.NewMemoryRepository()
}

func provideSuggestionsRepository(cfg *config.Config, logger *slog.Logger) ingestion.SuggestedQuestionsRepository {
	if pool := documentsPostgresPool(cfg, logger); pool != nil {
		return suggestionrepo.NewPostgresRepository(pool)
	}
	return suggestionrepo.NewMemoryRepository()
}

func provideObjectStorage(cfg *config.Config, logger *slog.Logger) document.Storage {
	endpoint := strings.TrimSpace(cfg.Documents.Storage.Endpoint)
	accessKey := strings.TrimSpace(cfg.Documents.Storage.AccessKey)
	secretKey := strings.TrimSpace(cfg.Documents.Storage.SecretKey)
	bucket := strings.TrimSpace(cfg.Documents.Storage.Bucket)
	region := strings.TrimSpace(cfg.Documents.Storage.Region)

	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		logger.Info("object storage not fully configured, using memory storage")
		return storage.NewMemoryStorage()
	}
	r2, err := storage.NewR2Storage(endpoint, accessKey, secretKey, bucket, region, logger)
	if err != nil {
		logger.Error("failed to initialize r2 storage, using memory storage", "error", err)
		return storage.NewMemoryStorage()
	}
	logger.Info("r2 object storage enabled", "endpoint", endpoint, "bucket", bucket)
	return r2
}

func provideValkeyClient(cfg *config.Config) (valkey.Client, error) {
	opt, err := buildValkeyOptions(cfg.Valkey.Addr)
	if err != nil {
		return nil, err
	}
	return valkey.NewClient(opt)
}

func provideCacheStore(client valkey.Client) *cache.Store {
	return cache.New(client, "retrieval")
}

func provideRateLimiter(client valkey.Client, logger *slog.Logger) ratelimit.Limiter {
	return ratelimit.New(client, "ratelimit", logger)
}

func providePubSubPublisher(client valkey.Client, logger *slog.Logger) *pubsub.Publisher {
	return pubsub.NewPublisher(client, logger)
}

func providePubSubSubscriber(client valkey.Client, logger *slog.Logger) *pubsub.Subscriber {
	return pubsub.NewSubscriber(client, logger)
}

func provideIngestionProgressPublisher(pub *pubsub.Publisher) ingestion.ProgressPublisher {
	return pubsub.NewIngestionProgressPublisher(pub)
}

func provideEmbedWorkerProgressPublisher(pub *pubsub.Publisher) embedworker.ProgressPublisher {
	return pubsub.NewEmbedWorkerProgressPublisher(pub)
}

func provideWSProgressSubscriber(sub *pubsub.Subscriber) ws.ProgressSubscriber {
	return ws.NewPubSubSubscriber(sub)
}

// provideVectorIndex connects to Qdrant, falling back to the in-memory index
// (test/dev parity with the rest of this provider set's Postgres/Valkey
// fallbacks) if the collection can't be reached at startup.
func provideVectorIndex(cfg *config.Config, logger *slog.Logger) vectorindex.Index {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	host, port := cfg.Qdrant.Addr, 0
	if h, p, splitErr := net.SplitHostPort(cfg.Qdrant.Addr); splitErr == nil {
		host = h
		port, _ = strconv.Atoi(p)
	}
	store, err := qdrant.New(ctx, qdrant.Config{
		Host:       host,
		Port:       port,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		VectorSize: uint64(cfg.Qdrant.VectorDim),
		UseTLS:     cfg.Qdrant.UseTLS,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to qdrant, using in-memory vector index", "error", err)
		return vectorindex.NewMemoryIndex()
	}
	return store
}

func provideRabbitMQBus(cfg *config.Config, logger *slog.Logger) (*rabbitmq.Bus, error) {
	return rabbitmq.New(rabbitmq.Config{URL: cfg.RabbitMQ.URL, Prefetch: cfg.RabbitMQ.Prefetch}, logger)
}

func provideChunkPublisher(bus *rabbitmq.Bus) ingestion.ChunkPublisher {
	return rabbitmq.NewChunkPublisherAdapter(bus)
}

func provideIngestionConfig(cfg *config.Config) ingestion.Config {
	return ingestion.Config{
		MaxFileSizeBytes: maxUploadBytes(cfg),
		Chunker: chunker.Config{
			MaxTokens:  cfg.Chunker.MaxTokens,
			Overlap:    cfg.Chunker.Overlap,
			MergePeers: cfg.Chunker.MergePeers,
		},
	}
}

func provideRetrievalConfig(cfg *config.Config) retrieval.Config {
	return retrieval.Config{
		CacheThreshold: int64(cfg.Retrieval.CacheThreshold),
		CacheTTL:       cfg.Retrieval.CacheTTL,
		TopK:           cfg.Retrieval.TopK,
	}
}

func provideMaxUploadBytes(cfg *config.Config) int64 {
	return maxUploadBytes(cfg)
}

func maxUploadBytes(cfg *config.Config) int64 {
	return int64(cfg.Documents.MaxFileSizeMB) * 1024 * 1024
}

func provideAccessResolver(docs document.Repository) access.Resolver {
	return access.NewResolver(docs)
}

func provideWSHandler(docs document.Repository, subscriber ws.ProgressSubscriber, logger *slog.Logger) *ws.Handler {
	return ws.NewHandler(docs, subscriber, logger)
}

// provideEmbedWorkerConsumer binds the RabbitMQ bus to the embed worker,
// returning the long-running loop bootstrap.App drives alongside the HTTP
// server.
func provideEmbedWorkerConsumer(bus *rabbitmq.Bus, svc *embedworker.Service) bootstrap.Consumer {
	return func(ctx context.Context) error {
		return bus.Consume(ctx, rabbitmq.EmbedHandler(svc))
	}
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}
