package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/smilemakc/vyasa/internal/application/expertrouter"
	"github.com/smilemakc/vyasa/internal/application/jobmanager"
	"github.com/smilemakc/vyasa/internal/application/pipeline"
	"github.com/smilemakc/vyasa/internal/application/promptregistry"
	"github.com/smilemakc/vyasa/internal/application/validation"
	"github.com/smilemakc/vyasa/internal/config"
	"github.com/smilemakc/vyasa/internal/domain"
	"github.com/smilemakc/vyasa/internal/infrastructure/api/rest"
	"github.com/smilemakc/vyasa/internal/infrastructure/graphstore"
	"github.com/smilemakc/vyasa/internal/infrastructure/logger"
	"github.com/smilemakc/vyasa/internal/infrastructure/storage"
	"github.com/smilemakc/vyasa/internal/infrastructure/telemetry"
	"github.com/smilemakc/vyasa/internal/infrastructure/vectorstore"
	"github.com/smilemakc/vyasa/internal/infrastructure/websocket"
)

func main() {
	var (
		port       = flag.String("port", "", "Server port (overrides config)")
		enableCORS = flag.Bool("cors", true, "Enable CORS")
	)
	flag.Parse()

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}

	log := logger.Setup(cfg.LogLevel)
	log.Info().
		Str("version", "0.1.0").
		Str("port", cfg.Port).
		Msg("starting vyasa research orchestrator")

	repos := wireRepositories(cfg, log)

	hub := websocket.NewHub(log)
	go hub.Run()
	notifier := websocket.NewJobNotifier(hub)

	manager := jobmanager.New(repos.jobs, repos.conflicts, repos.proposals, repos.events, notifier)

	telemetrySink, err := telemetry.New(telemetryConfig(cfg))
	if err != nil {
		log.Warn().Err(err).Msg("failed to open telemetry sink file, events will only be posted externally")
	}

	gateway := expertrouter.NewGateway(expertRouterConfig(cfg), telemetrySink)
	registry := promptregistry.New(promptRegistryConfig(cfg))

	vocabGuard, err := validation.LoadVocabGuard(cfg.ForbiddenVocabularyPath)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load forbidden vocabulary, continuing with an empty guard")
	}
	validator := validation.New(vocabGuard)

	vectors := vectorstore.New(vectorStoreConfig(cfg))
	graph := graphstore.New(graphStoreConfig(cfg), repos.claims)

	runner := &pipeline.Runner{
		Deps: &pipeline.Deps{
			Gateway:   gateway,
			Registry:  registry,
			Vectors:   vectors,
			Graph:     graph,
			Validator: validator,
			Telemetry: telemetrySink,
			Projects:  repos.projects,
		},
		Jobs:         manager,
		Blocks:       repos.blocks,
		Bibliography: repos.bibliography,
		Checkpoints:  repos.checkpoints,
		ArtifactsDir: cfg.ArtifactsDir,
	}

	serverConfig := rest.DefaultServerConfig()
	serverConfig.EnableCORS = *enableCORS
	serverConfig.JWTSecret = cfg.JWTSecret

	srv := rest.NewServer(manager, repos.projects, repos.claims, repos.conflicts, repos.blocks, runner, log, serverConfig)

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	mux.Handle("/ws", websocket.NewHandler(hub, authenticatorFor(cfg), log))

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}
	_ = telemetrySink.Close()

	log.Info().Msg("server exited gracefully")
}

// repoSet bundles the eight repositories plus the event store,
// backed either by Postgres (via BunStore) or, when the database is
// unreachable at startup, by the in-memory fallbacks named in spec §4.1.
// The switch is transparent to every caller downstream.
type repoSet struct {
	jobs         domain.JobRepository
	projects     domain.ProjectRepository
	claims       domain.ClaimRepository
	blocks       domain.ManuscriptBlockRepository
	conflicts    domain.ConflictReportRepository
	proposals    domain.ReframingProposalRepository
	events       domain.EventStore
	bibliography domain.BibliographyRepository
	checkpoints  domain.CheckpointStore
}

func wireRepositories(cfg *config.Config, log *zerolog.Logger) repoSet {
	store := storage.NewBunStore(cfg.DatabaseDSN)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.InitSchema(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize database schema, falling back to in-memory stores")
		return repoSet{
			jobs:         storage.NewMemoryJobStore(),
			projects:     storage.NewMemoryProjectStore(),
			claims:       storage.NewMemoryClaimStore(),
			blocks:       storage.NewMemoryManuscriptBlockStore(),
			conflicts:    storage.NewMemoryConflictReportStore(),
			proposals:    storage.NewMemoryReframingProposalStore(),
			events:       storage.NewMemoryEventStore(),
			bibliography: storage.NewMemoryBibliographyStore(),
			checkpoints:  storage.NewMemoryCheckpointStore(),
		}
	}

	log.Info().Str("dsn", maskDSN(cfg.DatabaseDSN)).Msg("using BunStore (PostgreSQL)")
	return repoSet{
		jobs:         storage.NewBunJobRepository(store),
		projects:     storage.NewBunProjectRepository(store),
		claims:       storage.NewBunClaimRepository(store),
		blocks:       storage.NewBunManuscriptBlockRepository(store),
		conflicts:    storage.NewBunConflictReportRepository(store),
		proposals:    storage.NewBunReframingProposalRepository(store),
		events:       store,
		bibliography: storage.NewBunBibliographyRepository(store),
		checkpoints:  storage.NewBunCheckpointStore(store),
	}
}

// maskDSN masks the password in a DSN string for safe logging.
func maskDSN(dsn string) string {
	start, end := -1, -1
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == ':' && start == -1 && i+1 < len(dsn) && dsn[i+1] != '/' {
			start = i + 1
		}
		if dsn[i] == '@' && start != -1 {
			end = i
			break
		}
	}
	if start != -1 && end != -1 && end > start {
		return dsn[:start] + "***" + dsn[end:]
	}
	return dsn
}

// expertRouterConfig bridges the flat environment-driven Config into the
// routing table expertrouter.Gateway needs (spec §4.2): one endpoint per
// expert class plus the Extraction→Reasoning fallback pair.
func expertRouterConfig(cfg *config.Config) expertrouter.Config {
	rc := expertrouter.DefaultConfig()
	rc.APIKey = cfg.LLMAPIKey
	rc.Reasoning = expertrouter.Endpoint{BaseURL: cfg.ReasoningEndpoint, Model: cfg.ReasoningModel}
	rc.Extraction = expertrouter.Endpoint{BaseURL: cfg.ExtractionEndpoint, Model: cfg.ExtractionModel}
	rc.Fallback = expertrouter.Endpoint{BaseURL: cfg.ExtractionFallbackURL, Model: cfg.ExtractionFallbackModel}
	rc.Vision = expertrouter.Endpoint{BaseURL: cfg.VisionEndpoint, Model: cfg.VisionModel}
	rc.Drafter = expertrouter.Endpoint{BaseURL: cfg.DrafterEndpoint, Model: cfg.DrafterModel}
	rc.ChatTimeout = cfg.ChatTimeout
	return rc
}

// telemetryConfig bridges Config into telemetry.Config.
func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		SinkPath:        cfg.TelemetrySinkPath,
		ExternalURL:     cfg.TelemetryExternalURL,
		ExternalEnabled: cfg.TelemetryExternalEnabled,
		ExternalTimeout: cfg.TelemetryExternalTimeout,
	}
}

// vectorStoreConfig bridges Config into vectorstore.Config.
func vectorStoreConfig(cfg *config.Config) vectorstore.Config {
	return vectorstore.Config{
		BaseURL:    cfg.VectorStoreBaseURL,
		Collection: cfg.VectorStoreCollection,
	}
}

// graphStoreConfig bridges Config into graphstore.Config.
func graphStoreConfig(cfg *config.Config) graphstore.Config {
	return graphstore.Config{BaseURL: cfg.GraphStoreBaseURL}
}

// promptRegistryConfig bridges Config into promptregistry.Config.
func promptRegistryConfig(cfg *config.Config) promptregistry.Config {
	rc := promptregistry.DefaultConfig()
	rc.BaseURL = cfg.PromptRegistryBaseURL
	rc.Enabled = cfg.PromptRegistryEnabled
	rc.Timeout = cfg.RegistryProbeTimeout
	return rc
}

func authenticatorFor(cfg *config.Config) websocket.Authenticator {
	if cfg.JWTSecret == "" {
		return websocket.NewNoAuth()
	}
	return websocket.NewJWTAuth(cfg.JWTSecret)
}
