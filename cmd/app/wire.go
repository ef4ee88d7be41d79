//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/eduask/backend/internal/bootstrap"
	"github.com/eduask/backend/internal/domain/embedworker"
	"github.com/eduask/backend/internal/domain/ingestion"
	"github.com/eduask/backend/internal/domain/retrieval"
	"github.com/eduask/backend/internal/infra/config"
	httpiface "github.com/eduask/backend/internal/interface/http"
	"github.com/eduask/backend/pkg/logger"
)

// initializeApp documents the DI graph for `wire`. It is excluded from
// normal builds by the wireinject tag; wire_gen.go carries the real,
// hand-verified provider chain.
func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,

		provideAuthConfig,
		provideChatGPTClient,
		provideAuthRepository,
		provideAuthService,

		provideEmbeddingClient,
		provideSuggesterClient,
		provideComposerService,

		provideDocumentRepository,
		provideQuestionLogRepository,
		provideSuggestionsRepository,
		provideObjectStorage,

		provideValkeyClient,
		provideCacheStore,
		provideRateLimiter,
		providePubSubPublisher,
		providePubSubSubscriber,
		provideIngestionProgressPublisher,
		provideEmbedWorkerProgressPublisher,
		provideWSProgressSubscriber,

		provideVectorIndex,
		provideRabbitMQBus,
		provideChunkPublisher,
		provideEmbedWorkerConsumer,

		provideIngestionConfig,
		provideRetrievalConfig,
		provideMaxUploadBytes,
		provideAccessResolver,

		ingestion.New,
		retrieval.New,
		embedworker.New,

		provideWSHandler,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
