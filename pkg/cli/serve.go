package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/johncui/mnemo/pkg/adapter"
	"github.com/johncui/mnemo/pkg/engine/chat"
	"github.com/johncui/mnemo/pkg/engine/intent"
	"github.com/johncui/mnemo/pkg/model"
	"github.com/johncui/mnemo/pkg/server"
)

type serveConfig struct {
	addr           string
	recallMode     string
	historyLimit   int64
	memoryK        int64
	contextBudget  int64
	research       bool
	intentsFile    string
	maxUploadBytes int64
	reconcileEvery time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
}

func serveFlags(cfg *serveConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       ":8000",
			Sources:     cli.EnvVars("MNEMO_ADDR"),
			Destination: &cfg.addr,
		},
		&cli.StringFlag{
			Name:        "recall-mode",
			Usage:       "Default context recall (semantic, recency, hybrid)",
			Value:       string(chat.ModeSemantic),
			Sources:     cli.EnvVars("MNEMO_RECALL_MODE"),
			Destination: &cfg.recallMode,
		},
		&cli.IntFlag{
			Name:        "history-limit",
			Usage:       "Turns included in recency context",
			Value:       chat.DefaultHistoryLimit,
			Sources:     cli.EnvVars("MNEMO_HISTORY_LIMIT"),
			Destination: &cfg.historyLimit,
		},
		&cli.IntFlag{
			Name:        "memory-k",
			Usage:       "Memories included in semantic context",
			Value:       chat.DefaultMemoryK,
			Sources:     cli.EnvVars("MNEMO_MEMORY_K"),
			Destination: &cfg.memoryK,
		},
		&cli.IntFlag{
			Name:        "context-budget",
			Usage:       "Approximate token budget of the context block (-1 disables)",
			Value:       chat.DefaultContextBudget,
			Sources:     cli.EnvVars("MNEMO_CONTEXT_BUDGET"),
			Destination: &cfg.contextBudget,
		},
		&cli.BoolFlag{
			Name:        "research",
			Usage:       "Run web research for messages that ask for it",
			Value:       true,
			Sources:     cli.EnvVars("MNEMO_RESEARCH"),
			Destination: &cfg.research,
		},
		&cli.StringFlag{
			Name:        "intents-file",
			Usage:       "YAML file with intent trigger rules",
			Sources:     cli.EnvVars("MNEMO_INTENTS_FILE"),
			Destination: &cfg.intentsFile,
		},
		&cli.IntFlag{
			Name:        "max-upload-bytes",
			Usage:       "Largest accepted upload",
			Value:       32 << 20,
			Sources:     cli.EnvVars("MNEMO_MAX_UPLOAD_BYTES"),
			Destination: &cfg.maxUploadBytes,
		},
		&cli.DurationFlag{
			Name:        "reconcile-every",
			Usage:       "Interval of the index reconcile job",
			Value:       5 * time.Minute,
			Sources:     cli.EnvVars("MNEMO_RECONCILE_EVERY"),
			Destination: &cfg.reconcileEvery,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "HTTP read timeout",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("MNEMO_READ_TIMEOUT"),
			Destination: &cfg.readTimeout,
		},
		&cli.DurationFlag{
			Name:        "write-timeout",
			Usage:       "HTTP write timeout",
			Value:       2 * time.Minute,
			Sources:     cli.EnvVars("MNEMO_WRITE_TIMEOUT"),
			Destination: &cfg.writeTimeout,
		},
	}
}

func (s *serveConfig) newIntents() (*intent.Registry, error) {
	var rules []intent.Rule
	if s.intentsFile != "" {
		loaded, err := intent.LoadRules(s.intentsFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	reg := intent.NewRegistry(intent.NewKeywordClassifier(rules))
	if s.research {
		reg.Register(intent.Research, intent.NewResearchHandler(adapter.NewDuckDuckGo()))
	}
	return reg, nil
}

func serveCommand() *cli.Command {
	var (
		cfg   config
		serve serveConfig
	)

	flags := sharedFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, serveFlags(&serve)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.newLogger(c.Root().Writer)
			if err != nil {
				return err
			}

			mode, err := chat.ParseMode(serve.recallMode)
			if err != nil {
				return goerr.Wrap(err, "invalid recall-mode", goerr.T(model.TagConfig))
			}

			engine, err := cfg.newEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			generator, err := cfg.newGenerator(ctx)
			if err != nil {
				return err
			}
			intents, err := serve.newIntents()
			if err != nil {
				return err
			}

			svc, err := chat.NewService(chat.Config{
				Assembler: chat.NewAssembler(chat.AssemblerConfig{
					Log:          engine,
					Memory:       engine,
					Embedder:     engine,
					HistoryLimit: int(serve.historyLimit),
					MemoryK:      int(serve.memoryK),
					Budget:       int(serve.contextBudget),
				}),
				Intents:   intents,
				Generator: generator,
				Persister: engine,
				Extractor: adapter.NewPDFExtractor(),
				Mode:      mode,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			go engine.RunReconcileLoop(ctx, serve.reconcileEvery)

			srv := &http.Server{
				Addr: serve.addr,
				Handler: server.New(server.Config{
					Chat:           svc,
					Memory:         engine,
					Logger:         logger,
					MaxUploadBytes: serve.maxUploadBytes,
				}),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       serve.readTimeout,
				WriteTimeout:      serve.writeTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting mnemo server",
					slog.String("addr", serve.addr),
					slog.String("mode", string(mode)),
					slog.String("generator", cfg.generator),
				)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "server stopped")
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shut down server")
			}
			return nil
		},
	}
}
