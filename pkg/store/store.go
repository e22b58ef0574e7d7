// Package store coordinates the row store and the vector index so callers
// see one memory: every persisted exchange or document is a SQLite row plus
// an index entry, written together.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
	"github.com/johncui/mnemo/pkg/store/sqlite"
	"github.com/johncui/mnemo/pkg/store/vector"
	"github.com/johncui/mnemo/pkg/utils/logging"
)

// Options configures MemoryEngine.
type Options struct {
	DB        *sqlite.Database
	Index     vector.Index
	Embedder  model.EmbeddingClient
	ChunkSize int // runes per ingested chunk, 0 keeps documents whole
	Logger    *slog.Logger
}

// MemoryEngine implements ConversationLog, MemoryStore and Persister.
//
// Writers hold mu exclusively from the start of the row transaction until
// the index insert returns; readers hold it shared. A reader therefore never
// sees a turn whose memory is missing from the index, or the reverse.
type MemoryEngine struct {
	mu        sync.RWMutex
	db        *sqlite.Database
	index     vector.Index
	embedder  model.EmbeddingClient
	chunkSize int
	logger    *slog.Logger
}

// NewMemoryEngine validates the wiring and brings the index up to date with
// the row store.
func NewMemoryEngine(ctx context.Context, opt Options) (*MemoryEngine, error) {
	if opt.DB == nil || opt.Index == nil || opt.Embedder == nil {
		return nil, goerr.New("memory engine needs a database, an index and an embedder", goerr.T(model.TagConfig))
	}
	if opt.Logger == nil {
		opt.Logger = logging.Default()
	}
	if got, want := opt.Embedder.Dimensions(), opt.DB.VectorDim(); got != want {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "embedder dimension differs from the database",
			goerr.V("embedder", got), goerr.V("database", want), goerr.T(model.TagConfig))
	}

	m := &MemoryEngine{
		db:        opt.DB,
		index:     opt.Index,
		embedder:  opt.Embedder,
		chunkSize: opt.ChunkSize,
		logger:    opt.Logger,
	}
	if _, err := m.Reconcile(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Recent returns the last limit turns, oldest first.
func (m *MemoryEngine) Recent(ctx context.Context, limit int) ([]model.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.RecentTurns(ctx, limit)
}

// QueryNearest returns up to k memories by ascending cosine distance.
func (m *MemoryEngine) QueryNearest(ctx context.Context, embedding []float32, k int) ([]model.MemoryHit, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	neighbors, err := m.index.Search(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
	}
	records, err := m.db.FetchMemories(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]model.MemoryHit, 0, len(neighbors))
	for _, n := range neighbors {
		rec, ok := records[n.ID]
		if !ok {
			m.logger.Warn("indexed memory has no row", "memory_id", n.ID)
			continue
		}
		hits = append(hits, model.MemoryHit{
			ID:         rec.ID,
			Text:       rec.Text,
			Distance:   n.Distance,
			Similarity: 1 - n.Distance,
		})
	}
	return hits, nil
}

// Recall embeds query and returns its k nearest memories.
func (m *MemoryEngine) Recall(ctx context.Context, query string, k int) ([]model.MemoryHit, error) {
	vec, err := m.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return m.QueryNearest(ctx, vec, k)
}

// Embed exposes the engine's embedder with dimension checking.
func (m *MemoryEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embed(ctx, text)
}

// PersistExchange stores a completed exchange as one turn and one memory.
// Nothing is written when embedding fails. When the index insert fails after
// the rows commit, the error is returned and Reconcile indexes the row later.
func (m *MemoryEngine) PersistExchange(ctx context.Context, userInput, agentResponse string) (*model.Turn, error) {
	text := model.CanonicalExchange(userInput, agentResponse)
	vec, err := m.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	turn := &model.Turn{
		ID:            model.NewID(),
		UserInput:     userInput,
		AgentResponse: agentResponse,
		CreatedAt:     now,
	}
	rec := &model.MemoryRecord{
		ID:        model.NewID(),
		Text:      text,
		Embedding: vec,
		Source:    model.SourceExchange,
		TurnID:    turn.ID,
		CreatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err = m.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := sqlite.InsertTurn(ctx, tx, turn); err != nil {
			return err
		}
		return sqlite.InsertMemory(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}

	if err := m.index.Add(ctx, rec.ID, vec); err != nil {
		m.logger.Error("memory committed but not indexed", "memory_id", rec.ID, "error", err)
		return nil, goerr.Wrap(err, "failed to index memory", goerr.V("memory_id", rec.ID), goerr.T(model.TagStore))
	}

	m.logger.Debug("exchange persisted", "turn_id", turn.ID, "memory_id", rec.ID)
	return turn, nil
}

// IngestDocument stores text as one or more document memories and returns
// their ids. Every chunk is embedded before anything is written.
func (m *MemoryEngine) IngestDocument(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.ErrEmptyDocument
	}

	chunks := SplitChunks(text, m.chunkSize)
	now := time.Now().UTC()
	records := make([]*model.MemoryRecord, 0, len(chunks))
	for i, chunk := range chunks {
		vec, err := m.embed(ctx, chunk)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to embed document chunk", goerr.V("chunk", i))
		}
		records = append(records, &model.MemoryRecord{
			ID:        model.NewID(),
			Text:      chunk,
			Embedding: vec,
			Source:    model.SourceDocument,
			CreatedAt: now,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			if err := sqlite.InsertMemory(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		if err := m.index.Add(ctx, rec.ID, rec.Embedding); err != nil {
			m.logger.Error("document chunk committed but not indexed", "memory_id", rec.ID, "error", err)
			return nil, goerr.Wrap(err, "failed to index document chunk", goerr.V("memory_id", rec.ID), goerr.T(model.TagStore))
		}
	}

	m.logger.Info("document ingested", "chunks", len(ids), "chars", len(text))
	return ids, nil
}

// Reconcile adds every stored memory that the index does not know yet and
// reports how many it added. Each check-and-add holds the write lock, so a
// writer that has committed but not yet indexed a row finishes first.
func (m *MemoryEngine) Reconcile(ctx context.Context) (int, error) {
	var added int
	err := m.db.ScanMemories(ctx, 256, func(rec model.MemoryRecord) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		ok, err := m.index.Contains(ctx, rec.ID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := m.index.Add(ctx, rec.ID, rec.Embedding); err != nil {
			return goerr.Wrap(err, "failed to replay memory", goerr.V("memory_id", rec.ID))
		}
		added++
		return nil
	})
	if err != nil {
		return added, err
	}
	if added > 0 {
		m.logger.Info("index reconciled", "added", added, "indexed", m.index.Len())
	}
	return added, nil
}

// RunReconcileLoop calls Reconcile every interval until ctx is done.
func (m *MemoryEngine) RunReconcileLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := m.Reconcile(ctx); err != nil {
				m.logger.Error("reconcile failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the database.
func (m *MemoryEngine) Close() error {
	return m.db.Close()
}

func (m *MemoryEngine) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		if model.IsConfig(err) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to embed text", goerr.T(model.TagProvider))
	}
	if want := m.db.VectorDim(); len(vec) != want {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "embedder returned wrong dimension",
			goerr.V("got", len(vec)), goerr.V("want", want), goerr.T(model.TagConfig))
	}
	return vec, nil
}

// SplitChunks cuts trimmed text into pieces of at most size runes, preferring
// to break on whitespace. size <= 0 returns the whole text as one chunk.
// Whitespace-only pieces are dropped.
func SplitChunks(text string, size int) []string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			for cut := end; cut > start+size/2; cut-- {
				if unicode.IsSpace(runes[cut-1]) {
					end = cut
					break
				}
			}
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		start = end
	}
	return chunks
}

var (
	_ model.ConversationLog = (*MemoryEngine)(nil)
	_ model.MemoryStore     = (*MemoryEngine)(nil)
	_ model.Persister       = (*MemoryEngine)(nil)
)
