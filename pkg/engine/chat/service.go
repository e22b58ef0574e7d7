// Package chat runs one chat exchange end to end: intent handling, context
// assembly, generation and persistence.
package chat

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/engine/intent"
	"github.com/johncui/mnemo/pkg/model"
	"github.com/johncui/mnemo/pkg/utils/logging"
)

// Request is the body of POST /chat.
type Request struct {
	Message        string `json:"message"`
	IncludeHistory *bool  `json:"include_history,omitempty"`
	Mode           string `json:"mode,omitempty"`
}

type Response struct {
	Response string `json:"response"`
}

type Config struct {
	Assembler *Assembler
	Intents   *intent.Registry
	Generator model.Generator
	Persister model.Persister
	Extractor model.TextExtractor
	Mode      Mode
}

// Service holds the shared, read-only collaborators of every request.
type Service struct {
	assembler *Assembler
	intents   *intent.Registry
	generator model.Generator
	persister model.Persister
	extractor model.TextExtractor
	mode      Mode
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Assembler == nil || cfg.Generator == nil || cfg.Persister == nil {
		return nil, goerr.New("chat service needs an assembler, a generator and a persister", goerr.T(model.TagConfig))
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSemantic
	}
	return &Service{
		assembler: cfg.Assembler,
		intents:   cfg.Intents,
		generator: cfg.Generator,
		persister: cfg.Persister,
		extractor: cfg.Extractor,
		mode:      cfg.Mode,
	}, nil
}

// Chat answers req.Message and stores the exchange. Any failure aborts the
// request; the exchange is stored only after a reply was generated.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, model.ErrEmptyMessage
	}

	mode := s.mode
	if req.Mode != "" {
		m, err := ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}

	logger := logging.From(ctx)

	kind, research, err := s.intents.Run(ctx, req.Message)
	if err != nil {
		return nil, err
	}

	var recall string
	if req.IncludeHistory == nil || *req.IncludeHistory {
		if recall, err = s.assembler.Assemble(ctx, req.Message, mode); err != nil {
			return nil, err
		}
	}

	prompt := research + recall + "Current message: " + req.Message
	logger.Debug("prompt assembled",
		slog.String("intent", string(kind)),
		slog.String("mode", string(mode)),
		slog.Int("context_chars", len(research)+len(recall)),
	)

	reply, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate response", goerr.T(model.TagProvider))
	}

	turn, err := s.persister.PersistExchange(ctx, req.Message, reply)
	if err != nil {
		return nil, err
	}
	logger.Info("exchange stored", slog.String("turn_id", turn.ID))

	return &Response{Response: reply}, nil
}

// Ingest extracts text from an uploaded PDF and stores it as document
// memory. It returns the new memory ids.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) ([]string, error) {
	return IngestFile(ctx, s.extractor, s.persister, filename, data)
}

// IngestFile checks that filename is a PDF, extracts its text and stores it
// through persister.
func IngestFile(ctx context.Context, extractor model.TextExtractor, persister model.Persister, filename string, data []byte) ([]string, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, model.ErrNotPDF
	}
	if extractor == nil {
		return nil, goerr.New("no text extractor configured", goerr.T(model.TagConfig))
	}

	text, err := extractor.ExtractText(ctx, data)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.ErrEmptyDocument
	}

	ids, err := persister.IngestDocument(ctx, text)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Info("document stored", slog.String("filename", filename), slog.Int("memories", len(ids)))
	return ids, nil
}
