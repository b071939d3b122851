package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	qanat "github.com/nevindra/qanat"
	"github.com/nevindra/qanat/internal/app"
	"github.com/nevindra/qanat/internal/config"
	"github.com/nevindra/qanat/observer"
	"github.com/nevindra/qanat/provider/ollama"
	"github.com/nevindra/qanat/provider/openaicompat"
	"github.com/nevindra/qanat/store/postgres"
	"github.com/nevindra/qanat/store/sqlite"
	"github.com/nevindra/qanat/tools/basic"
	"github.com/nevindra/qanat/tools/file"
	"github.com/nevindra/qanat/tools/finance"
	"github.com/nevindra/qanat/tools/knowledge"
	"github.com/nevindra/qanat/tools/web"
	"github.com/nevindra/qanat/vector/qdrant"
)

func main() {
	// 1. Load config (.env is optional, QANAT_* vars win)
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("QANAT_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Observability (off unless configured)
	var inst *observer.Instruments
	var tracer qanat.Tracer
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			logger.Error("observer init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Error("observer shutdown", "error", err)
			}
		}()
		tracer = observer.NewTracer()
	}

	// 3. Providers: local Ollama for chat + embeddings, DashScope remote
	var local qanat.Provider = ollama.New(
		ollama.WithBaseURL(cfg.Local.BaseURL),
		ollama.WithModel(cfg.Local.ChatModel),
		ollama.WithTimeout(cfg.Local.Timeout()),
	)
	var remote qanat.Provider = openaicompat.NewProvider(
		cfg.Remote.APIKey, cfg.Remote.Model, cfg.Remote.BaseURL,
		openaicompat.WithName("dashscope"),
		openaicompat.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout()}),
		openaicompat.WithOptions(
			openaicompat.WithTemperature(cfg.Remote.Temperature),
			openaicompat.WithMaxTokens(cfg.Remote.MaxTokens),
		),
	)
	var embedding qanat.EmbeddingProvider = ollama.NewEmbedder(
		ollama.WithEmbedBaseURL(cfg.Local.BaseURL),
		ollama.WithEmbedModel(cfg.Local.EmbeddingModel),
		ollama.WithDimensions(cfg.Vector.VectorSize),
	)
	if inst != nil {
		local = observer.WrapProvider(local, cfg.Local.ChatModel, inst)
		remote = observer.WrapProvider(remote, cfg.Remote.Model, inst)
		embedding = observer.WrapEmbedding(embedding, cfg.Local.EmbeddingModel, inst)
	}
	// Retry sits outside the observer wrap so every attempt is recorded.
	// The rate limiter gates the whole retry sequence.
	remote = qanat.WithRetry(remote, qanat.RetryLogger(logger))
	embedding = qanat.WithEmbeddingRetry(embedding, qanat.RetryLogger(logger))
	if cfg.Remote.RPM > 0 || cfg.Remote.TPM > 0 {
		var limits []qanat.RateLimitOption
		if cfg.Remote.RPM > 0 {
			limits = append(limits, qanat.RPM(cfg.Remote.RPM))
		}
		if cfg.Remote.TPM > 0 {
			limits = append(limits, qanat.TPM(cfg.Remote.TPM))
		}
		remote = qanat.WithRateLimit(remote, limits...)
	}

	// 4. Router
	router := qanat.NewRouter(routerConfig(cfg), qanat.WithRouterLogger(logger))
	router.Register(cfg.Local.ChatModel, local, qanat.TagLocal)
	router.Register(cfg.Remote.Model, remote, qanat.TagRemote)

	// 5. Conversation store
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("store init failed", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// 6. Vector index + retriever. A missing Qdrant degrades retrieval
	// instead of blocking startup.
	index, err := qdrant.New(qdrant.Config{
		Host:       cfg.Vector.Host,
		Port:       cfg.Vector.Port,
		APIKey:     cfg.Vector.APIKey,
		UseTLS:     cfg.Vector.UseTLS,
		Collection: cfg.Vector.Collection,
		VectorSize: cfg.Vector.VectorSize,
	})
	if err != nil {
		logger.Error("qdrant client failed", "error", err)
		os.Exit(1)
	}
	defer index.Close()
	if err := index.EnsureCollection(ctx); err != nil {
		logger.Warn("qdrant unreachable, retrieval will fail until it returns", "error", err)
	}
	retriever := qanat.NewVectorRetriever(embedding, index,
		qanat.WithMinScore(float32(cfg.Retrieval.MinScore)),
		qanat.WithRetrieverLogger(logger),
	)

	// 7. Tools
	tools := []qanat.Tool{
		knowledge.New(retriever, knowledge.WithTopK(cfg.Retrieval.MaxResults)),
		file.New(cfg.Agent.AllowedDirectory),
		basic.New(),
		finance.New(),
		web.New(),
	}
	if inst != nil {
		for i, t := range tools {
			tools[i] = observer.WrapTool(t, inst)
		}
	}

	// 8. Turn services
	agentOpts := []qanat.AgentOption{
		qanat.WithTools(tools...),
		qanat.WithStepCap(cfg.Agent.StepCap),
		qanat.WithContextWindow(cfg.Agent.ContextWindow),
		qanat.WithLogger(logger),
	}
	chatOpts := []qanat.AgentOption{
		qanat.WithContextWindow(cfg.Agent.ContextWindow),
		qanat.WithMaxResults(cfg.Retrieval.MaxResults),
		qanat.WithLogger(logger),
	}
	if tracer != nil {
		agentOpts = append(agentOpts, qanat.WithTracer(tracer))
		chatOpts = append(chatOpts, qanat.WithTracer(tracer))
	}
	agent := qanat.NewAgent(router, store, agentOpts...)
	chat := qanat.NewChatService(router, store, retriever, chatOpts...)

	// 9. Serve
	api := app.New(app.Deps{
		Agent:    agent,
		Chat:     chat,
		Observer: inst,
		Logger:   logger,
	})
	if err := api.Run(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// routerConfig maps the file-level routing section onto the router
// policy, keeping built-in defaults for anything left unset.
func routerConfig(cfg config.Config) qanat.RouterConfig {
	rc := qanat.DefaultRouterConfig(cfg.Local.ChatModel, cfg.Remote.Model)
	if cfg.Router.Strategy != "" {
		rc.Strategy = qanat.Strategy(cfg.Router.Strategy)
	}
	rc.PercentageRemote = cfg.Router.PercentageRemote
	if cfg.Router.LongContextThreshold > 0 {
		rc.LongContextRunes = cfg.Router.LongContextThreshold
	}
	if len(cfg.Router.ToolKeywords) > 0 {
		rc.ToolKeywords = cfg.Router.ToolKeywords
	}
	if len(cfg.Router.ComplexKeywords) > 0 {
		rc.ComplexKeywords = cfg.Router.ComplexKeywords
	}
	for bt, model := range cfg.Router.BusinessTypeMap {
		rc.TypeModels[qanat.BusinessType(bt)] = model
	}
	return rc
}

// openStore opens the configured backend and runs its schema setup.
func openStore(ctx context.Context, dbCfg config.DatabaseConfig, logger *slog.Logger) (qanat.ConversationStore, error) {
	var store qanat.ConversationStore
	switch dbCfg.Driver {
	case "postgres":
		st, err := postgres.Connect(ctx, dbCfg.DSN)
		if err != nil {
			return nil, err
		}
		store = st
	default:
		store = sqlite.New(dbCfg.Path, sqlite.WithLogger(logger))
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
