// Hand-written injector mirroring wire.go's graph; not produced by the wire CLI.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"github.com/eduask/backend/internal/bootstrap"
	"github.com/eduask/backend/internal/domain/embedworker"
	"github.com/eduask/backend/internal/domain/ingestion"
	"github.com/eduask/backend/internal/domain/retrieval"
	"github.com/eduask/backend/internal/infra/config"
	httpiface "github.com/eduask/backend/internal/interface/http"
	"github.com/eduask/backend/pkg/logger"
)

// initializeApp builds the runnable App from scratch. It is the hand-written
// equivalent of what `wire` would generate from wire.go's injector.
func initializeApp() (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New()

	authCfg := provideAuthConfig(cfg)
	authRepo := provideAuthRepository(cfg, log)
	authSvc := provideAuthService(authCfg, authRepo, log)

	chatGPTClient, err := provideChatGPTClient(cfg)
	if err != nil {
		return nil, err
	}
	embeddingClient := provideEmbeddingClient(chatGPTClient, cfg)
	suggesterClient := provideSuggesterClient(chatGPTClient, cfg)
	composerSvc := provideComposerService(chatGPTClient, cfg, log)

	docsRepo := provideDocumentRepository(cfg, log)
	questionsRepo := provideQuestionLogRepository(cfg, log)
	suggestionsRepo := provideSuggestionsRepository(cfg, log)
	objectStorage := provideObjectStorage(cfg, log)

	valkeyClient, err := provideValkeyClient(cfg)
	if err != nil {
		return nil, err
	}
	cacheStore := provideCacheStore(valkeyClient)
	limiter := provideRateLimiter(valkeyClient, log)
	pubSubPublisher := providePubSubPublisher(valkeyClient, log)
	pubSubSubscriber := providePubSubSubscriber(valkeyClient, log)
	ingestionProgress := provideIngestionProgressPublisher(pubSubPublisher)
	embedWorkerProgress := provideEmbedWorkerProgressPublisher(pubSubPublisher)
	wsProgressSubscriber := provideWSProgressSubscriber(pubSubSubscriber)

	vectorIndex := provideVectorIndex(cfg, log)
	bus, err := provideRabbitMQBus(cfg, log)
	if err != nil {
		return nil, err
	}
	chunkPublisher := provideChunkPublisher(bus)

	ingestionCfg := provideIngestionConfig(cfg)
	retrievalCfg := provideRetrievalConfig(cfg)
	maxUploadBytes := provideMaxUploadBytes(cfg)
	resolver := provideAccessResolver(docsRepo)

	ingestSvc := ingestion.New(
		docsRepo,
		objectStorage,
		chunkPublisher,
		ingestionProgress,
		vectorIndex,
		cacheStore,
		questionsRepo,
		suggesterClient,
		suggestionsRepo,
		ingestionCfg,
		log,
	)

	retrievalSvc := retrieval.New(
		docsRepo,
		vectorIndex,
		embeddingClient,
		cacheStore,
		composerSvc,
		resolver,
		questionsRepo,
		retrievalCfg,
	)

	embedSvc := embedworker.New(
		vectorIndex,
		embeddingClient,
		docsRepo,
		embedWorkerProgress,
		log,
	)

	consumer := provideEmbedWorkerConsumer(bus, embedSvc)

	wsHandler := provideWSHandler(docsRepo, wsProgressSubscriber, log)

	handler := httpiface.NewHandler(
		authSvc,
		docsRepo,
		ingestSvc,
		retrievalSvc,
		cacheStore,
		resolver,
		limiter,
		maxUploadBytes,
		log,
	)

	server := httpiface.NewRouter(cfg, handler, wsHandler)

	return bootstrap.NewApp(cfg, log, server, consumer), nil
}
