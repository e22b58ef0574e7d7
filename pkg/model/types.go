package model

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemorySource tells where a memory record came from.
type MemorySource string

const (
	SourceExchange MemorySource = "exchange"
	SourceDocument MemorySource = "document"
)

// Turn mirrors chat_history rows.
type Turn struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"`
	UserInput     string    `json:"user_input"`
	AgentResponse string    `json:"agent_response"`
	CreatedAt     time.Time `json:"created_at"`
}

// MemoryRecord mirrors chat_embeddings rows.
type MemoryRecord struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Embedding []float32    `json:"-"`
	Source    MemorySource `json:"source"`
	TurnID    string       `json:"turn_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// MemoryHit is a single nearest-neighbor result. Similarity is 1 - Distance,
// which is a cosine similarity only because stored vectors are normalized.
type MemoryHit struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// CanonicalExchange is the text stored as the memory of a chat exchange.
func CanonicalExchange(userInput, agentResponse string) string {
	return fmt.Sprintf("User: %s\nAssistant: %s", userInput, agentResponse)
}

// EmbeddingClient turns text into a fixed-length vector.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Generator is the opaque text-completion capability.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Researcher answers a free-text research query.
type Researcher interface {
	Research(ctx context.Context, query string) (string, error)
}

// TextExtractor pulls plain text out of an uploaded document.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// ConversationLog is the recency store.
type ConversationLog interface {
	Recent(ctx context.Context, limit int) ([]Turn, error)
}

// MemoryStore is the semantic store.
type MemoryStore interface {
	QueryNearest(ctx context.Context, embedding []float32, k int) ([]MemoryHit, error)
}

// Persister writes completed exchanges and documents.
type Persister interface {
	PersistExchange(ctx context.Context, userInput, agentResponse string) (*Turn, error)
	IngestDocument(ctx context.Context, text string) ([]string, error)
}
