package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/scorelab/noveltyd/internal/config"
	"github.com/scorelab/noveltyd/internal/embedding"
	"github.com/scorelab/noveltyd/internal/embedding/hash"
	"github.com/scorelab/noveltyd/internal/embedding/openai"
	"github.com/scorelab/noveltyd/internal/extract"
	"github.com/scorelab/noveltyd/internal/novelty"
	"github.com/scorelab/noveltyd/internal/observability"
	"github.com/scorelab/noveltyd/internal/secrets"
	"github.com/scorelab/noveltyd/internal/server"
	"github.com/scorelab/noveltyd/internal/store"
	"github.com/scorelab/noveltyd/internal/store/memory"
	"github.com/scorelab/noveltyd/internal/store/postgres"
	"github.com/scorelab/noveltyd/internal/store/qdrant"
	"github.com/scorelab/noveltyd/internal/store/sqlite"
)

const version = "0.1.0"

func main() {
	var (
		configPath string
		inputPath  string
		ingestKey  string
	)

	rootCmd := &cobra.Command{
		Use:   "noveltyd",
		Short: "Novelty scoring service for text proposals",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/noveltyd.yaml", "Config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the novelty scoring HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Bulk-load documents from disk into the similarity corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(configPath, inputPath, ingestKey)
		},
	}
	ingestCmd.Flags().StringVar(&inputPath, "input", "", "Input path (file or directory)")
	ingestCmd.Flags().StringVar(&ingestKey, "key", "", "Record key (single file only; defaults to filename)")
	_ = ingestCmd.MarkFlagRequired("input")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configPath)
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available embedding providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available embedding providers:")
			fmt.Println()
			for name, url := range embedding.KnownProviders {
				fmt.Printf("  %-14s %s\n", name, url)
			}
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in noveltyd.yaml or via environment:")
			fmt.Println("  NOVELTYD_EMBEDDING_PROVIDER=openai")
			fmt.Println("  NOVELTYD_EMBEDDING_API_KEY=sk-...")
			fmt.Println("  NOVELTYD_EMBEDDING_MODEL=text-embedding-3-small")
		},
	}

	rootCmd.AddCommand(serveCmd, ingestCmd, migrateCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config load failed (%v), using defaults\n", err)
		cfg = &config.Config{}
	}
	return cfg
}

func setupLogging(cfg config.LogConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// resolveDimension settles the vector length before anything touches the
// provider or the store, so schema creation never waits on a first
// embedding call.
func resolveDimension(cfg config.EmbeddingConfig) (int, error) {
	if cfg.Dimension > 0 {
		return cfg.Dimension, nil
	}
	switch cfg.Provider {
	case "hash":
		return hash.New(0).Dimension(), nil
	default:
		if d := openai.ModelDimension(cfg.Model); d > 0 {
			return d, nil
		}
	}
	return 0, fmt.Errorf("embedding dimension unknown for provider %q model %q, set embedding.dimension", cfg.Provider, cfg.Model)
}

// buildProvider wires the embedding factory the way the config asks and
// wraps it in a lazy initializer, so startup never blocks on a remote
// endpoint.
func buildProvider(ctx context.Context, cfg config.EmbeddingConfig, dimension int) (embedding.Provider, error) {
	providerName := cfg.Provider
	if providerName == "" {
		providerName = "openai"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = secrets.GetOrDefault(ctx, string(secrets.SecretEmbeddingAPIKey), "")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	factory := embedding.NewFactory()
	factory.Register("hash", func(c embedding.ProviderConfig) (embedding.Provider, error) {
		return hash.New(c.Dimension), nil
	})
	factory.Register("openai", func(c embedding.ProviderConfig) (embedding.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.Dimension, c.Timeout)
	})
	// All OpenAI-compatible providers
	for _, p := range []struct{ name, url string }{
		{"ollama", embedding.KnownProviders["ollama"]},
		{"together", embedding.KnownProviders["together"]},
		{"huggingface", embedding.KnownProviders["huggingface"]},
		{"custom", ""},
	} {
		p := p
		factory.Register(p.name, func(c embedding.ProviderConfig) (embedding.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return openai.New(c.APIKey, c.Model, base, c.Dimension, c.Timeout)
		})
	}

	providerCfg := embedding.ProviderConfig{
		Provider:          providerName,
		APIKey:            apiKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		Dimension:         dimension,
		Timeout:           timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
		BurstSize:         cfg.BurstSize,
	}

	return embedding.NewLazy(providerName, dimension, func() (embedding.Provider, error) {
		return factory.Create(providerCfg)
	}), nil
}

// openStore opens the configured similarity store backend.
func openStore(ctx context.Context, cfg *config.Config, dimension int) (store.Store, error) {
	mode, err := store.ParseMode(cfg.Store.Mode)
	if err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case "postgres":
		dsn := cfg.Store.Postgres.DSN
		if dsn == "" {
			dsn = secrets.GetOrDefault(ctx, string(secrets.SecretStoreDSN), "")
		}
		st, err := postgres.Open(ctx, dsn, mode, dimension)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case "qdrant":
		return qdrant.Open(ctx, cfg.Store.Qdrant.Host, cfg.Store.Qdrant.Port, cfg.Store.Qdrant.Collection, mode, dimension)
	case "sqlite":
		return sqlite.Open(cfg.Store.SQLite.Path, mode, dimension)
	case "memory", "":
		return memory.New(mode, dimension), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildExtractor(cfg config.ExtractConfig) extract.Extractor {
	if cfg.ServiceURL == "" {
		return extract.Passthrough{}
	}
	return extract.NewRemote(cfg.ServiceURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

func runServe(configPath string) error {
	cfg := loadConfig(configPath)
	setupLogging(cfg.Log)

	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "noveltyd",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	dimension, err := resolveDimension(cfg.Embedding)
	if err != nil {
		return err
	}

	provider, err := buildProvider(ctx, cfg.Embedding, dimension)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, dimension)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	mode, _ := store.ParseMode(cfg.Store.Mode)
	svc := novelty.New(provider, st, novelty.Config{
		Mode:          mode,
		NeighborLimit: cfg.Store.NeighborLimit,
	})

	health := server.NewHealthServer(&server.HealthConfig{Version: version})
	health.RegisterCheck("store", server.StoreHealthChecker(cfg.Store.Driver, st.Ping))
	health.RegisterCheck("embedding", server.EmbeddingHealthChecker(provider.Name(), nil))
	if cfg.Extract.ServiceURL == "" {
		health.RegisterCheck("extract", server.ExtractorHealthChecker(nil))
	}

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8000"
	}

	api := server.NewAPIServer(&server.APIConfig{
		ListenAddr:     listenAddr,
		Version:        version,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, svc, buildExtractor(cfg.Extract), health)

	sh := server.NewShutdownHandler(nil)
	sh.RegisterHook("health-server", 5, func(ctx context.Context) error {
		health.Shutdown()
		return nil
	})
	sh.RegisterHook("api-server", 10, api.Stop)
	sh.RegisterHook("tracing", 80, tp.Shutdown)
	sh.RegisterHook("store", 90, func(ctx context.Context) error {
		return st.Close()
	})
	sh.Start()

	if cfg.Server.HealthAddr != "" {
		go func() {
			if err := health.ListenAndServe(cfg.Server.HealthAddr); err != nil {
				slog.Error("Health server stopped", "error", err)
			}
		}()
	}
	health.SetReady(true)

	slog.Info("noveltyd starting",
		"version", version,
		"store", cfg.Store.Driver,
		"mode", string(svc.Mode()),
		"provider", provider.Name(),
		"dimension", dimension,
	)

	if err := api.Start(); err != nil {
		return err
	}

	sh.Shutdown()
	sh.Wait()
	return nil
}

func runIngest(configPath, inputPath, key string) error {
	cfg := loadConfig(configPath)
	setupLogging(cfg.Log)

	ctx := context.Background()

	dimension, err := resolveDimension(cfg.Embedding)
	if err != nil {
		return err
	}
	provider, err := buildProvider(ctx, cfg.Embedding, dimension)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg, dimension)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	mode, _ := store.ParseMode(cfg.Store.Mode)
	svc := novelty.New(provider, st, novelty.Config{Mode: mode, NeighborLimit: cfg.Store.NeighborLimit})
	extractor := buildExtractor(cfg.Extract)

	files, err := collectFiles(inputPath)
	if err != nil {
		return err
	}
	if key != "" && len(files) > 1 {
		return fmt.Errorf("--key applies to a single file, got %d files", len(files))
	}

	var ingested, skipped int
	for _, path := range files {
		format, err := extract.DetectFormat(path)
		if err != nil {
			slog.Warn("Skipping file", "path", path, "error", err)
			skipped++
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		text, err := extractor.Extract(ctx, data, format)
		if err != nil {
			slog.Warn("Skipping file", "path", path, "error", err)
			skipped++
			continue
		}

		recordKey := key
		if recordKey == "" && mode == store.ModeUpsert {
			recordKey = filepath.Base(path)
		}

		id, recordKey, err := svc.Ingest(ctx, recordKey, text)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("  [%d] %s <- %s\n", id, recordKey, path)
		ingested++
	}

	fmt.Printf("Ingested %d documents (%d skipped)\n", ingested, skipped)
	return nil
}

func runMigrate(configPath string) error {
	cfg := loadConfig(configPath)
	setupLogging(cfg.Log)

	ctx := context.Background()

	dimension, err := resolveDimension(cfg.Embedding)
	if err != nil {
		return err
	}

	// openStore runs the backend's schema setup: postgres executes its
	// migration DDL, sqlite and qdrant create their schema on open.
	st, err := openStore(ctx, cfg, dimension)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Printf("Schema ready (driver=%s, dimension=%d)\n", cfg.Store.Driver, dimension)
	return nil
}

func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}
