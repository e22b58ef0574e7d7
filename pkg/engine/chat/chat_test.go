package chat_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/johncui/mnemo/pkg/adapter"
	"github.com/johncui/mnemo/pkg/engine/chat"
	"github.com/johncui/mnemo/pkg/engine/intent"
	"github.com/johncui/mnemo/pkg/model"
	"github.com/johncui/mnemo/pkg/store"
	"github.com/johncui/mnemo/pkg/store/sqlite"
	"github.com/johncui/mnemo/pkg/store/vector"
)

const dim = 16

type switchEmbedder struct {
	inner *adapter.HashEmbedder
	fail  atomic.Bool
}

func (s *switchEmbedder) Dimensions() int { return s.inner.Dimensions() }

func (s *switchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.fail.Load() {
		return nil, errors.New("embedding service unavailable")
	}
	return s.inner.Embed(ctx, text)
}

type recordingGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *recordingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *recordingGenerator) last() string {
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type staticResearcher string

func (s staticResearcher) Research(context.Context, string) (string, error) { return string(s), nil }

type staticExtractor struct {
	text string
	err  error
}

func (s staticExtractor) ExtractText(context.Context, []byte) (string, error) { return s.text, s.err }

type fixture struct {
	db       *sqlite.Database
	engine   *store.MemoryEngine
	embedder *switchEmbedder
	gen      *recordingGenerator
	svc      *chat.Service
}

type fixtureOption func(*chat.Config)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.New(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "chat.db"), VectorDim: dim})
	gt.NoError(t, err)

	emb := &switchEmbedder{inner: adapter.NewHashEmbedder(dim)}
	engine, err := store.NewMemoryEngine(ctx, store.Options{
		DB:       db,
		Index:    vector.NewHNSW(vector.DefaultHNSWConfig(dim)),
		Embedder: emb,
	})
	gt.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	gen := &recordingGenerator{reply: "sure thing"}
	cfg := chat.Config{
		Assembler: chat.NewAssembler(chat.AssemblerConfig{Log: engine, Memory: engine, Embedder: engine}),
		Intents:   intent.NewRegistry(intent.NewKeywordClassifier(nil)),
		Generator: gen,
		Persister: engine,
		Extractor: staticExtractor{text: "Quarterly report text."},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := chat.NewService(cfg)
	gt.NoError(t, err)

	return &fixture{db: db, engine: engine, embedder: emb, gen: gen, svc: svc}
}

func (f *fixture) counts(t *testing.T) (int64, int64) {
	t.Helper()
	turns, err := f.db.CountTurns(context.Background())
	gt.NoError(t, err)
	memories, err := f.db.CountMemories(context.Background())
	gt.NoError(t, err)
	return turns, memories
}

func boolPtr(b bool) *bool { return &b }

func TestChatWithoutHistoryForwardsRawMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.PersistExchange(ctx, "hi", "hello!")
	gt.NoError(t, err)

	resp, err := f.svc.Chat(ctx, chat.Request{
		Message:        "What is your refund policy?",
		IncludeHistory: boolPtr(false),
	})
	gt.NoError(t, err)
	gt.Equal(t, resp.Response, "sure thing")
	gt.Equal(t, f.gen.last(), "Current message: What is your refund policy?")
}

func TestChatRecencyContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.PersistExchange(ctx, "hi", "hello!")
	gt.NoError(t, err)

	_, err = f.svc.Chat(ctx, chat.Request{Message: "continue", IncludeHistory: boolPtr(true), Mode: "recency"})
	gt.NoError(t, err)
	gt.Equal(t, f.gen.last(), "Previous conversation:\nUser: hi\nAssistant: hello!\n\nCurrent message: continue")
}

func TestChatSemanticContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.PersistExchange(ctx, "hi", "hello!")
	gt.NoError(t, err)

	_, err = f.svc.Chat(ctx, chat.Request{Message: "greetings"})
	gt.NoError(t, err)

	prompt := f.gen.last()
	gt.True(t, strings.HasPrefix(prompt, "Relevant memories:\n- User: hi\nAssistant: hello! (similarity: "))
	gt.True(t, strings.HasSuffix(prompt, ")\n\nCurrent message: greetings"))
	gt.True(t, regexp.MustCompile(`\(similarity: -?\d+\.\d{2}\)\n`).MatchString(prompt))
}

func TestChatEmptyStoresForwardRawMessage(t *testing.T) {
	for _, mode := range []string{"semantic", "recency", "hybrid"} {
		t.Run(mode, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Chat(context.Background(), chat.Request{Message: "first ever", Mode: mode})
			gt.NoError(t, err)
			gt.Equal(t, f.gen.last(), "Current message: first ever")
		})
	}
}

func TestChatPersistsBothRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Chat(ctx, chat.Request{Message: "remember the milk"})
	gt.NoError(t, err)

	turns, memories := f.counts(t)
	gt.Equal(t, turns, int64(1))
	gt.Equal(t, memories, int64(1))

	hits, err := f.engine.Recall(ctx, "User: remember the milk\nAssistant: sure thing", 1)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Text, "User: remember the milk\nAssistant: sure thing")
	gt.True(t, hits[0].Distance < 1e-5)
}

func TestChatResearchBlockComesFirst(t *testing.T) {
	f := newFixture(t, func(cfg *chat.Config) {
		cfg.Intents = intent.NewRegistry(intent.NewKeywordClassifier(nil)).
			Register(intent.Research, intent.NewResearchHandler(staticResearcher("Go is a language.")))
	})
	ctx := context.Background()
	_, err := f.engine.PersistExchange(ctx, "hi", "hello!")
	gt.NoError(t, err)

	_, err = f.svc.Chat(ctx, chat.Request{Message: "research golang", Mode: "hybrid"})
	gt.NoError(t, err)

	prompt := f.gen.last()
	gt.True(t, strings.HasPrefix(prompt, "Research results:\nGo is a language.\n\nRelevant memories:\n"))
	gt.S(t, prompt).Contains("\n\nPrevious conversation:\nUser: hi\nAssistant: hello!\n\nCurrent message: research golang")
}

func TestChatResearchWithoutHistory(t *testing.T) {
	f := newFixture(t, func(cfg *chat.Config) {
		cfg.Intents = intent.NewRegistry(intent.NewKeywordClassifier(nil)).
			Register(intent.Research, intent.NewResearchHandler(staticResearcher("found it")))
	})
	_, err := f.svc.Chat(context.Background(), chat.Request{
		Message:        "find information about otters",
		IncludeHistory: boolPtr(false),
	})
	gt.NoError(t, err)
	gt.Equal(t, f.gen.last(), "Research results:\nfound it\n\nCurrent message: find information about otters")
}

func TestChatEmbeddingFailureWritesNothing(t *testing.T) {
	for _, mode := range []string{"semantic", "recency"} {
		t.Run(mode, func(t *testing.T) {
			f := newFixture(t)
			f.embedder.fail.Store(true)

			_, err := f.svc.Chat(context.Background(), chat.Request{Message: "hello", Mode: mode})
			gt.Error(t, err)
			gt.False(t, model.IsValidation(err))

			turns, memories := f.counts(t)
			gt.Equal(t, turns, int64(0))
			gt.Equal(t, memories, int64(0))
		})
	}
}

func TestChatGeneratorFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("model overloaded")

	_, err := f.svc.Chat(context.Background(), chat.Request{Message: "hello"})
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("model overloaded")

	turns, memories := f.counts(t)
	gt.Equal(t, turns, int64(0))
	gt.Equal(t, memories, int64(0))
}

func TestChatValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Chat(context.Background(), chat.Request{Message: "   "})
	gt.True(t, model.IsValidation(err))

	_, err = f.svc.Chat(context.Background(), chat.Request{Message: "hi", Mode: "telepathic"})
	gt.True(t, model.IsValidation(err))
	gt.A(t, f.gen.prompts).Length(0)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("stores document memory", func(t *testing.T) {
		f := newFixture(t)
		ids, err := f.svc.Ingest(ctx, "Report.PDF", []byte("%PDF-"))
		gt.NoError(t, err)
		gt.A(t, ids).Length(1)

		turns, memories := f.counts(t)
		gt.Equal(t, turns, int64(0))
		gt.Equal(t, memories, int64(1))
	})

	t.Run("rejects other file types", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Ingest(ctx, "notes.txt", []byte("hello"))
		gt.True(t, errors.Is(err, model.ErrNotPDF))

		_, memories := f.counts(t)
		gt.Equal(t, memories, int64(0))
	})

	t.Run("rejects empty text", func(t *testing.T) {
		f := newFixture(t, func(cfg *chat.Config) {
			cfg.Extractor = staticExtractor{text: " \n "}
		})
		_, err := f.svc.Ingest(ctx, "blank.pdf", []byte("%PDF-"))
		gt.True(t, errors.Is(err, model.ErrEmptyDocument))
	})
}
