// Package app wires the full collaborator graph for a GovRAG process from a
// loaded config.Config: every collaborator is constructed explicitly here
// and handed to its consumer, never reached for through a package-level
// variable.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/govrag/govrag/internal/api"
	"github.com/govrag/govrag/internal/config"
	"github.com/govrag/govrag/internal/embed"
	"github.com/govrag/govrag/internal/generate"
	"github.com/govrag/govrag/internal/ground"
	"github.com/govrag/govrag/internal/indexadapter"
	"github.com/govrag/govrag/internal/llmclient"
	"github.com/govrag/govrag/internal/orchestrator"
	"github.com/govrag/govrag/internal/rerank"
	"github.com/govrag/govrag/internal/retrieve"
	"github.com/govrag/govrag/internal/search"
	"github.com/govrag/govrag/internal/session"
	"github.com/govrag/govrag/internal/store"
	"github.com/govrag/govrag/internal/topic"
)

// App bundles every collaborator a running GovRAG server needs, plus the
// teardown order for a clean shutdown.
type App struct {
	Config       *config.Config
	Sessions     *session.Store
	Orchestrator *orchestrator.Orchestrator
	API          *api.Server

	closers []func() error
}

// embedderAdapter adapts embed.Embedder (context-taking, batch-capable) down
// to the narrower interface the retrieval and grounding pipeline depend on,
// so neither package needs to know about the embedder's lifecycle (Close)
// that only the top-level build/teardown cares about.
type embedderAdapter struct {
	e embed.Embedder
}

func (a embedderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.e.Embed(ctx, text)
}

// sentenceEmbedderAdapter satisfies ground.SentenceEmbedder, whose
// per-sentence grounding check has no natural request context —
// it runs synchronously inside the Enforcer, not against a network boundary
// the caller might want to cancel independently of the turn.
type sentenceEmbedderAdapter struct {
	e embed.Embedder
}

func (a sentenceEmbedderAdapter) Embed(sentence string) ([]float32, error) {
	return a.e.Embed(context.Background(), sentence)
}

// Build constructs the full dependency graph described by cfg: embedder,
// lexical/vector/metadata indexes, retriever, reranker, generator, session
// store, orchestrator, and HTTP server. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	embedder, err := buildEmbedder(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app: build embedder: %w", err)
	}

	chunkStore, err := indexadapter.NewSQLiteChunkStore(cfg.Store.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("app: open chunk store: %w", err)
	}

	lexical, err := indexadapter.NewBleveLexicalIndex(cfg.Store.LexicalIndexPath)
	if err != nil {
		_ = chunkStore.Close()
		return nil, fmt.Errorf("app: open lexical index: %w", err)
	}

	indexedDims, err := store.ReadHNSWStoreDimensions(cfg.Store.VectorIndexPath)
	if err != nil {
		_ = lexical.Close()
		_ = chunkStore.Close()
		return nil, fmt.Errorf("app: read vector index metadata: %w", err)
	}
	if indexedDims != 0 && indexedDims != cfg.Embeddings.Dimensions {
		_ = lexical.Close()
		_ = chunkStore.Close()
		return nil, fmt.Errorf("app: vector index was built with %d-dimensional embeddings, config expects %d", indexedDims, cfg.Embeddings.Dimensions)
	}

	vectorStoreCfg := store.DefaultVectorStoreConfig(cfg.Embeddings.Dimensions)
	hnswStore, err := store.NewHNSWStore(vectorStoreCfg)
	if err != nil {
		_ = lexical.Close()
		_ = chunkStore.Close()
		return nil, fmt.Errorf("app: open vector store: %w", err)
	}
	if indexedDims != 0 {
		if err := hnswStore.Load(cfg.Store.VectorIndexPath); err != nil {
			_ = lexical.Close()
			_ = chunkStore.Close()
			return nil, fmt.Errorf("app: load vector index: %w", err)
		}
	}
	vector := indexadapter.NewHNSWVectorIndex(hnswStore, chunkStore, cfg.Embeddings.Dimensions)

	retriever := retrieve.New(lexical, vector, chunkStore, embedderAdapter{embedder})

	var reranker search.Reranker
	if cfg.Reranker.Enabled {
		reranker = rerank.New(rerank.WithModel(cfg.Reranker.ModelID))
	}

	classifier := buildClassifier(cfg)

	llm, err := buildLLM(cfg)
	if err != nil {
		_ = lexical.Close()
		_ = chunkStore.Close()
		return nil, err
	}

	sessions, err := session.NewStore(session.Config{
		StoragePath: cfg.Sessions.StoragePath,
		MaxSessions: cfg.Sessions.MaxSessions,
	})
	if err != nil {
		_ = lexical.Close()
		_ = chunkStore.Close()
		return nil, fmt.Errorf("app: open session store: %w", err)
	}

	orch := orchestrator.New(orchestrator.Params{
		Logger:     logger,
		Sessions:   sessions,
		Retriever:  retriever,
		Reranker:   reranker,
		LLM:        llm,
		Embedder:   embedderAdapter{embedder},
		Grounder:   sentenceEmbedderAdapter{embedder},
		Classifier: classifier,

		RRFK:       cfg.Retrieval.RRFK,
		KLex:       cfg.Retrieval.TopKBM25,
		KVec:       cfg.Retrieval.TopKVector,
		MaxPerDoc:  cfg.Retrieval.MaxPerDoc,
		FloorRatio: cfg.Retrieval.FloorRatio,
		WLex:       cfg.Retrieval.WBM25,
		WVec:       cfg.Retrieval.WVector,
		EvidenceN:  cfg.Retrieval.TopKRerank,
		TopKRerank: cfg.Retrieval.TopKRerank,
		GroundingConfig: ground.Thresholds{
			EvidenceJaccard: cfg.Grounding.EvidenceJaccard,
			CitationSentSim: cfg.Grounding.CitationSentSim,
			CitationSpanIOU: cfg.Grounding.CitationSpanIOU,
		},
		TopicThresholds: topic.Thresholds{
			SimilarityThreshold: cfg.Topic.SimilarityThreshold,
			ConfidenceThreshold: cfg.Topic.ConfidenceThreshold,
			MinScoreThreshold:   cfg.Topic.MinScoreThreshold,
		},
		TopicEnabled:   cfg.Topic.Enabled,
		LLMModel:       cfg.LLM.Model,
		LLMMaxTokens:   cfg.LLM.MaxTokens,
		ExpandFloor:    cfg.Grounding.ConfidenceMin,
		MaskPII:        cfg.Privacy.MaskPII,
		SessionTimeout: cfg.SessionTimeoutDuration(),
	})

	a := &App{
		Config:       cfg,
		Sessions:     sessions,
		Orchestrator: orch,
		API: &api.Server{
			Sessions:     sessions,
			Orchestrator: orch,
		},
		closers: []func() error{
			lexical.Close,
			chunkStore.Close,
			embedder.Close,
		},
	}
	logger.Info("govrag: collaborator graph built",
		"embedding_model", cfg.Embeddings.PrimaryModel,
		"llm_endpoint", cfg.LLM.Endpoint,
		"reranker_enabled", cfg.Reranker.Enabled)
	return a, nil
}

// buildEmbedder constructs the embedding stack for the first model in the
// configured primary/secondary/fallback chain that answers a startup probe.
// If none answers (the service itself is down), the primary is kept and
// retrieval degrades to lexical-only at query time instead of failing boot.
// The expected dimensionality is fixed by config for every model in the
// chain, so a fallback can never silently switch embedding spaces.
func buildEmbedder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (embed.Embedder, error) {
	models := []string{
		cfg.Embeddings.PrimaryModel,
		cfg.Embeddings.SecondaryModel,
		cfg.Embeddings.FallbackModel,
	}

	var primary embed.Embedder
	for _, m := range models {
		if m == "" {
			continue
		}
		e, err := embed.New(embed.Config{
			Endpoint:   cfg.Embeddings.Endpoint,
			Model:      m,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
			MaxWait:    time.Duration(cfg.Embeddings.MaxWaitMS) * time.Millisecond,
			CacheSize:  cfg.Embeddings.CacheSize,
		})
		if err != nil {
			return nil, err
		}

		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_, probeErr := e.Embed(probeCtx, "ping")
		cancel()
		if probeErr == nil {
			if primary != nil {
				_ = primary.Close()
				logger.Warn("primary embedding model unavailable, fell back",
					"model", m, "primary", cfg.Embeddings.PrimaryModel)
			}
			return e, nil
		}

		if primary == nil {
			primary = e
		} else {
			_ = e.Close()
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("no embedding model configured")
	}
	logger.Warn("no embedding model answered the startup probe, keeping primary",
		"primary", cfg.Embeddings.PrimaryModel)
	return primary, nil
}

// buildClassifier constructs the query classifier behind retrieve.Options'
// dynamic weighting. Disabled by default (retrieval.classify_mode: false keeps the
// static w_bm25/w_vector weights); when enabled it prefers an LLM call
// against the same Ollama host used for generation, falling back to the
// regex PatternClassifier if that call fails or times out.
func buildClassifier(cfg *config.Config) search.Classifier {
	if !cfg.Retrieval.ClassifyMode {
		return nil
	}
	llmClassifier := search.NewLLMClassifier(search.ClassifierConfig{
		OllamaHost: cfg.LLM.Endpoint,
	})
	return search.NewHybridClassifier(llmClassifier)
}

// buildLLM selects the Generator Adapter implementation for cfg.LLM.Endpoint:
// Ollama's native API (internal/generate.OllamaClient) when the endpoint is a
// bare host with no OpenAI-style "/v1" path, the OpenAI-compatible
// internal/llmclient adapter otherwise; both satisfy the same generate.LLM
// contract.
func buildLLM(cfg *config.Config) (generate.LLM, error) {
	if cfg.LLM.Endpoint == "" {
		return nil, fmt.Errorf("app: llm.endpoint is required")
	}
	var llm generate.LLM
	if strings.Contains(cfg.LLM.Endpoint, "/v1") {
		llm = llmclient.New(cfg.LLM.Endpoint, cfg.LLM.Model)
	} else {
		llm = generate.NewOllamaClient(
			generate.WithBaseURL(cfg.LLM.Endpoint),
			generate.WithModel(cfg.LLM.Model),
		)
	}
	// The limiter sits outermost so waiting callers never feed the breaker's
	// failure count; only real backend calls do.
	limited := generate.WrapWithConcurrencyLimit(
		generate.WrapWithCircuitBreaker(llm, "llm-backend"),
		cfg.Server.MaxQueue,
	)
	return limited, nil
}

// Close releases every resource Build opened. Every closer runs even when an
// earlier one fails, so a partially-broken shutdown never skips the rest;
// the first error encountered is returned.
func (a *App) Close() error {
	var firstErr error
	for _, close := range a.closers {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
