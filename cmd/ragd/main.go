package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cwrag/ragcore/internal/audit"
	"github.com/cwrag/ragcore/internal/blobstore"
	"github.com/cwrag/ragcore/internal/config"
	"github.com/cwrag/ragcore/internal/httpapi"
	"github.com/cwrag/ragcore/internal/llm/providers"
	"github.com/cwrag/ragcore/internal/observability"
	"github.com/cwrag/ragcore/internal/persistence/databases"
	"github.com/cwrag/ragcore/internal/rag/chunker"
	"github.com/cwrag/ragcore/internal/rag/embedder"
	"github.com/cwrag/ragcore/internal/rag/guardrail"
	"github.com/cwrag/ragcore/internal/rag/retrieve"
	"github.com/cwrag/ragcore/internal/rag/service"
	"github.com/cwrag/ragcore/internal/rag/synth"
	"github.com/cwrag/ragcore/internal/rag/tokencount"
	"github.com/cwrag/ragcore/internal/ratelimit"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("ragd")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	baseCtx := context.Background()

	if shutdown, err := observability.InitOTel(baseCtx, cfg.Obs); err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
	} else if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	httpClient := observability.NewHTTPClient(&http.Client{Transport: tr})

	mgr, err := databases.NewManager(baseCtx, cfg.Databases, cfg.Embedding.VectorDim)
	if err != nil {
		return fmt.Errorf("init databases: %w", err)
	}
	defer mgr.Close()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	emb := embedder.WithHealthCache(embedder.NewClient(cfg.Embedding, cfg.Embedding.VectorDim), rdb, cfg.Embedding.URL)
	tc := chunker.NewTokenAware(tokencount.Identity{
		Model:        cfg.Embedding.Model,
		Type:         tokencount.KindTiktoken,
		MaxTokens:    cfg.Embedding.MaxTokens,
		SafetyMargin: cfg.Embedding.SafetyMargin,
	})
	auditPub := audit.New(cfg.Kafka)
	defer func() { _ = auditPub.Close() }()
	svcOpts := []service.Option{service.WithEmbedder(emb), service.WithChunker(tc), service.WithAudit(auditPub)}
	if cfg.Reranker.Enabled {
		svcOpts = append(svcOpts, service.WithReranker(retrieve.NewHTTPReranker(retrieve.HTTPRerankerConfig{
			URL:       cfg.Reranker.URL,
			Model:     cfg.Reranker.Model,
			TimeoutMS: cfg.Reranker.TimeoutMS,
		})))
	}
	svc := service.New(mgr, svcOpts...)

	provider, err := providers.Build(cfg, httpClient)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}
	orch := synth.New(provider, cfg.LLM.Model)

	guardCfg := guardrail.ConfigMap{
		"default": {
			Enabled:        true,
			MinConfidence:  cfg.Guardrail.MinConfidence,
			MinTopScore:    cfg.Guardrail.MinRetrievalScore,
			MinMeanScore:   0,
			MinResultCount: cfg.Guardrail.MinCitedChunks,
		},
	}
	guard := guardrail.New(guardCfg, guardrail.DefaultWeights())

	rlLimits := ratelimit.Limits{
		PerIP:     cfg.RateLimit.PerIP,
		PerUser:   cfg.RateLimit.PerUser,
		PerTenant: cfg.RateLimit.PerTenant,
		Window:    time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute,
	}
	var limiter ratelimit.Allower
	if rdb != nil {
		limiter = ratelimit.NewRedis(rdb, rlLimits)
	} else {
		limiter = ratelimit.New(rlLimits)
	}

	blob, err := blobstore.New(baseCtx, cfg.S3)
	if err != nil {
		log.Warn().Err(err).Msg("blob store init failed, uploads stay inline")
	}

	handler := httpapi.New(httpapi.Deps{
		Service:     svc,
		Guardrail:   guard,
		Synth:       orch,
		RateLimiter: limiter,
		Blob:        blob,
		IngestToken: cfg.IngestToken,
		PackerOpts: httpapi.PackerConfig{
			TokenBudget:        cfg.Packing.TokenBudget,
			PerDocCap:          cfg.Packing.PerDocCap,
			PerSectionCap:      cfg.Packing.PerSectionCap,
			NoveltyAlpha:       cfg.Packing.NoveltyAlpha,
			AnswerabilityBonus: cfg.Packing.AnswerabilityBonus,
			SectionReunify:     cfg.Packing.SectionReunify,
		},
		ChunkOpts: httpapi.ChunkConfig{
			Strategy:  cfg.Embedding.ChunkingStrategy,
			MaxTokens: cfg.Embedding.MaxTokens,
			Overlap:   cfg.Embedding.OverlapTokens,
		},
		RerankEnabled: cfg.Reranker.Enabled,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info().Str("addr", addr).Msg("ragd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	} else {
		log.Info().Msg("ragd stopped")
	}
	return nil
}
