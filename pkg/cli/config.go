package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/johncui/mnemo/pkg/adapter"
	"github.com/johncui/mnemo/pkg/model"
	"github.com/johncui/mnemo/pkg/store"
	"github.com/johncui/mnemo/pkg/store/sqlite"
	"github.com/johncui/mnemo/pkg/store/vector"
	"github.com/johncui/mnemo/pkg/utils/logging"
)

// config holds values shared by every command.
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Storage
	dbPath             string
	extensionsPath     string
	vectorBackend      string
	vectorDim          int64
	hnswM              int64
	hnswEfConstruction int64
	hnswEfSearch       int64
	ingestChunkSize    int64

	// Embedding
	embedder           string
	embeddingCacheSize int64
	openaiAPIKey       string
	openaiBaseURL      string
	openaiModel        string

	// Generation
	generator       string
	anthropicAPIKey string
	claudeModel     string
	openaiChatModel string
	maxTokens       int64

	// Gemini serves both embedding and generation
	geminiAPIKey         string
	geminiProject        string
	geminiLocation       string
	geminiModel          string
	geminiEmbeddingModel string

	gemini *adapter.GeminiClient
}

func logFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MNEMO_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("MNEMO_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db-path",
			Usage:       "SQLite database file or sqlite:// URL",
			Value:       "mnemo.db",
			Sources:     cli.EnvVars("MNEMO_DB_PATH", "DATABASE_URL"),
			Destination: &cfg.dbPath,
		},
		&cli.StringFlag{
			Name:        "sqlite-extensions",
			Usage:       "Path to the sqlite-vss loadable extension",
			Sources:     cli.EnvVars("GO_SQLITE3_EXTENSIONS"),
			Destination: &cfg.extensionsPath,
		},
		&cli.StringFlag{
			Name:        "vector-backend",
			Usage:       "Vector index (hnsw, exact, vss)",
			Value:       "hnsw",
			Sources:     cli.EnvVars("MNEMO_VECTOR_BACKEND"),
			Destination: &cfg.vectorBackend,
		},
		&cli.IntFlag{
			Name:        "vector-dim",
			Usage:       "Embedding dimension, fixed for the life of the database",
			Value:       1536,
			Sources:     cli.EnvVars("MNEMO_VECTOR_DIM"),
			Destination: &cfg.vectorDim,
		},
		&cli.IntFlag{
			Name:        "hnsw-m",
			Usage:       "HNSW links per node",
			Value:       16,
			Sources:     cli.EnvVars("MNEMO_HNSW_M"),
			Destination: &cfg.hnswM,
		},
		&cli.IntFlag{
			Name:        "hnsw-ef-construction",
			Usage:       "HNSW candidate list size while inserting",
			Value:       200,
			Sources:     cli.EnvVars("MNEMO_HNSW_EF_CONSTRUCTION"),
			Destination: &cfg.hnswEfConstruction,
		},
		&cli.IntFlag{
			Name:        "hnsw-ef-search",
			Usage:       "HNSW candidate list size while searching",
			Value:       64,
			Sources:     cli.EnvVars("MNEMO_HNSW_EF_SEARCH"),
			Destination: &cfg.hnswEfSearch,
		},
		&cli.IntFlag{
			Name:        "ingest-chunk-size",
			Usage:       "Split ingested documents into chunks of this many characters (0 keeps them whole)",
			Sources:     cli.EnvVars("MNEMO_INGEST_CHUNK_SIZE"),
			Destination: &cfg.ingestChunkSize,
		},
	}
}

func embeddingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding provider (openai, gemini, hash)",
			Value:       "openai",
			Sources:     cli.EnvVars("MNEMO_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.IntFlag{
			Name:        "embedding-cache-size",
			Usage:       "Number of embeddings kept in memory (0 disables the cache)",
			Value:       1024,
			Sources:     cli.EnvVars("MNEMO_EMBEDDING_CACHE_SIZE"),
			Destination: &cfg.embeddingCacheSize,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "OpenAI compatible API base URL",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "openai-embedding-model",
			Usage:       "OpenAI embedding model",
			Value:       "text-embedding-ada-002",
			Sources:     cli.EnvVars("MNEMO_OPENAI_EMBEDDING_MODEL"),
			Destination: &cfg.openaiModel,
		},
	}
}

func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "generator",
			Usage:       "Response generator (claude, gemini, openai)",
			Value:       "claude",
			Sources:     cli.EnvVars("MNEMO_GENERATOR"),
			Destination: &cfg.generator,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model",
			Sources:     cli.EnvVars("MNEMO_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.StringFlag{
			Name:        "openai-chat-model",
			Usage:       "OpenAI chat model",
			Value:       "gpt-4o",
			Sources:     cli.EnvVars("MNEMO_OPENAI_CHAT_MODEL"),
			Destination: &cfg.openaiChatModel,
		},
		&cli.IntFlag{
			Name:        "max-tokens",
			Usage:       "Maximum tokens per generated response",
			Value:       1024,
			Sources:     cli.EnvVars("MNEMO_MAX_TOKENS"),
			Destination: &cfg.maxTokens,
		},
	}
}

func geminiFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini generative model",
			Sources:     cli.EnvVars("MNEMO_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "gemini-embedding-model",
			Usage:       "Gemini embedding model",
			Sources:     cli.EnvVars("MNEMO_GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.geminiEmbeddingModel,
		},
	}
}

// newLogger builds the process logger and installs it as the default.
func (cfg *config) newLogger(w io.Writer) (*slog.Logger, error) {
	if _, ok := logging.ParseLevel(cfg.logLevel); !ok {
		return nil, goerr.New("invalid log level", goerr.V("level", cfg.logLevel), goerr.T(model.TagConfig))
	}
	if _, ok := logging.ParseFormat(cfg.logFormat); !ok {
		return nil, goerr.New("invalid log format", goerr.V("format", cfg.logFormat), goerr.T(model.TagConfig))
	}
	logger := logging.New(cfg.logLevel, cfg.logFormat, w)
	logging.SetDefault(logger)
	return logger, nil
}

func (cfg *config) openDatabase(ctx context.Context, logger *slog.Logger) (*sqlite.Database, error) {
	if cfg.dbPath == "" {
		return nil, goerr.New("db-path is required", goerr.T(model.TagConfig))
	}
	path, err := sqlitePath(cfg.dbPath)
	if err != nil {
		return nil, err
	}
	return sqlite.New(ctx, sqlite.Config{
		Path:           path,
		ExtensionsPath: cfg.extensionsPath,
		EnableVSS:      cfg.vectorBackend == "vss",
		VectorDim:      int(cfg.vectorDim),
		Logger:         logger,
	})
}

// sqlitePath accepts a plain file path or a sqlite:// URL. Other URL
// schemes, such as a postgresql:// DATABASE_URL, are rejected.
func sqlitePath(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "sqlite://") {
		return strings.TrimPrefix(dsn, "sqlite://"), nil
	}
	if scheme, _, ok := strings.Cut(dsn, "://"); ok {
		return "", goerr.New("db-path must be a SQLite file or sqlite:// URL",
			goerr.V("scheme", scheme), goerr.T(model.TagConfig))
	}
	return dsn, nil
}

func (cfg *config) newIndex(db *sqlite.Database) (vector.Index, error) {
	switch cfg.vectorBackend {
	case "hnsw":
		return vector.NewHNSW(vector.HNSWConfig{
			Dim:            int(cfg.vectorDim),
			M:              int(cfg.hnswM),
			EfConstruction: int(cfg.hnswEfConstruction),
			EfSearch:       int(cfg.hnswEfSearch),
			Seed:           1,
		}), nil
	case "exact":
		return vector.NewExact(int(cfg.vectorDim))
	case "vss":
		return vector.NewVSS(db)
	default:
		return nil, goerr.New("unknown vector backend", goerr.V("backend", cfg.vectorBackend), goerr.T(model.TagConfig))
	}
}

func (cfg *config) geminiClient(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.gemini != nil {
		return cfg.gemini, nil
	}
	g, err := adapter.NewGemini(ctx, adapter.GeminiConfig{
		APIKey:          cfg.geminiAPIKey,
		Project:         cfg.geminiProject,
		Location:        cfg.geminiLocation,
		GenerativeModel: cfg.geminiModel,
		EmbeddingModel:  cfg.geminiEmbeddingModel,
		Dimensions:      int(cfg.vectorDim),
	})
	if err != nil {
		return nil, err
	}
	cfg.gemini = g
	return g, nil
}

func (cfg *config) newEmbedder(ctx context.Context) (model.EmbeddingClient, error) {
	var (
		emb model.EmbeddingClient
		err error
	)
	switch cfg.embedder {
	case "openai":
		emb, err = adapter.NewOpenAIEmbedder(adapter.OpenAIConfig{
			APIKey:     cfg.openaiAPIKey,
			BaseURL:    cfg.openaiBaseURL,
			Model:      cfg.openaiModel,
			Dimensions: int(cfg.vectorDim),
		})
	case "gemini":
		emb, err = cfg.geminiClient(ctx)
	case "hash":
		emb = adapter.NewHashEmbedder(int(cfg.vectorDim))
	default:
		return nil, goerr.New("unknown embedder", goerr.V("embedder", cfg.embedder), goerr.T(model.TagConfig))
	}
	if err != nil {
		return nil, err
	}

	if cfg.embeddingCacheSize > 0 {
		return adapter.NewCachedEmbedder(emb, cfg.embeddingCacheSize)
	}
	return emb, nil
}

func (cfg *config) newGenerator(ctx context.Context) (model.Generator, error) {
	switch cfg.generator {
	case "claude":
		return adapter.NewClaude(adapter.ClaudeConfig{
			APIKey:    cfg.anthropicAPIKey,
			Model:     cfg.claudeModel,
			MaxTokens: cfg.maxTokens,
		})
	case "gemini":
		return cfg.geminiClient(ctx)
	case "openai":
		return adapter.NewOpenAIGenerator(adapter.OpenAIConfig{
			APIKey:    cfg.openaiAPIKey,
			BaseURL:   cfg.openaiBaseURL,
			Model:     cfg.openaiChatModel,
			MaxTokens: cfg.maxTokens,
		})
	default:
		return nil, goerr.New("unknown generator", goerr.V("generator", cfg.generator), goerr.T(model.TagConfig))
	}
}

// newEngine opens the database, builds the index and embedder and replays
// stored memories into the index.
func (cfg *config) newEngine(ctx context.Context, logger *slog.Logger) (*store.MemoryEngine, error) {
	db, err := cfg.openDatabase(ctx, logger)
	if err != nil {
		return nil, err
	}

	idx, err := cfg.newIndex(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	emb, err := cfg.newEmbedder(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	engine, err := store.NewMemoryEngine(ctx, store.Options{
		DB:        db,
		Index:     idx,
		Embedder:  emb,
		ChunkSize: int(cfg.ingestChunkSize),
		Logger:    logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("memory engine ready",
		slog.String("db", cfg.dbPath),
		slog.String("index", cfg.vectorBackend),
		slog.String("embedder", cfg.embedder),
		slog.Int("indexed", idx.Len()),
	)
	return engine, nil
}

func sharedFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, logFlags(cfg)...)
	flags = append(flags, storageFlags(cfg)...)
	flags = append(flags, embeddingFlags(cfg)...)
	flags = append(flags, geminiFlags(cfg)...)
	return flags
}
