package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"

	apihttp "github.com/advisorhq/advisor/internal/api"
	"github.com/advisorhq/advisor/internal/config"
	"github.com/advisorhq/advisor/internal/corpus"
	"github.com/advisorhq/advisor/internal/index"
	"github.com/advisorhq/advisor/internal/log"
	"github.com/advisorhq/advisor/internal/message"
	"github.com/advisorhq/advisor/internal/pipeline"
	"github.com/advisorhq/advisor/internal/search"
)

// Setup creates and initializes the application: AI provider, corpus,
// embedding index, search engine, message store, pipeline, and HTTP
// server. Call Close() on the returned App to release resources.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, release anything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	entries, stats, err := corpus.LoadFile(cfg.CorpusPath)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	repo := corpus.NewRepository(entries)
	a.Corpus = repo
	logger.Info("corpus loaded",
		"path", cfg.CorpusPath,
		"entries", stats.Loaded,
		"skipped", stats.Skipped,
		"categories", len(repo.Categories()),
	)

	builder, err := index.NewBuilder(index.BuilderConfig{
		Embedder:     embedder,
		Model:        cfg.EmbedderModel,
		CachePath:    cfg.CachePath,
		LockTimeout:  cfg.LockTimeout,
		PollInterval: cfg.LockPollInterval,
		CallTimeout:  cfg.RequestTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating index builder: %w", err)
	}
	a.Builder = builder

	idx, err := builder.Build(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	a.Index = idx

	engine, err := search.NewEngine(search.EngineConfig{
		Index:          idx,
		Embedder:       embedder,
		DirectWeight:   cfg.DirectWeight,
		CategoryWeight: cfg.CategoryWeight,
		CallTimeout:    cfg.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating search engine: %w", err)
	}
	a.Engine = engine
	a.Selector = search.NewSelector(cfg.QualityFloor, cfg.QualityGap, cfg.DisplayLimit)

	store, err := message.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}
	a.Messages = store

	p, err := pipeline.New(pipeline.Config{
		Searcher: engine,
		Selector: a.Selector,
		Model: &pipeline.GenkitModel{
			G:         g,
			ModelName: qualifiedModelName(cfg),
		},
		Messages:    store,
		Threshold:   cfg.SearchThreshold,
		CallTimeout: cfg.RequestTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	a.Pipeline = p

	srv, err := apihttp.NewServer(apihttp.ServerConfig{
		Logger:     logger,
		Pipeline:   p,
		Messages:   store,
		Corpus:     repo,
		Index:      idx,
		TrustProxy: cfg.TrustProxy,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.Server = srv

	return a, nil
}

// SetupIndexOnly initializes just enough to rebuild the embedding cache:
// provider, embedder, corpus, and builder. Used by the reindex command.
func SetupIndexOnly(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	entries, _, err := corpus.LoadFile(cfg.CorpusPath)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	repo := corpus.NewRepository(entries)
	a.Corpus = repo

	builder, err := index.NewBuilder(index.BuilderConfig{
		Embedder:     embedder,
		Model:        cfg.EmbedderModel,
		CachePath:    cfg.CachePath,
		LockTimeout:  cfg.LockTimeout,
		PollInterval: cfg.LockPollInterval,
		CallTimeout:  cfg.RequestTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating index builder: %w", err)
	}
	a.Builder = builder

	return a, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), openai, and ollama.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - openai: auto-registered in Init(), looked up by model name
//   - ollama: registered in provideGenkit, keyed by server address
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// qualifiedModelName returns the provider-prefixed model reference that
// genkit.Generate expects, e.g. "googleai/gemini-2.5-flash".
func qualifiedModelName(cfg *config.Config) string {
	if strings.Contains(cfg.ModelName, "/") {
		return cfg.ModelName
	}
	switch cfg.Provider {
	case config.ProviderOllama:
		return "ollama/" + cfg.ModelName
	case config.ProviderOpenAI:
		return "openai/" + cfg.ModelName
	default:
		return "googleai/" + cfg.ModelName
	}
}
