package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
)

// Mode selects which store feeds the context block.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeRecency  Mode = "recency"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode accepts the mode names case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSemantic, ModeRecency, ModeHybrid:
		return m, nil
	default:
		return "", goerr.New("unknown recall mode", goerr.V("mode", s), goerr.T(model.TagValidation))
	}
}

const (
	DefaultHistoryLimit  = 5
	DefaultMemoryK       = 3
	DefaultContextBudget = 4000

	charsPerToken = 4
)

// Embedder is the part of the memory engine the assembler needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type AssemblerConfig struct {
	Log      model.ConversationLog
	Memory   model.MemoryStore
	Embedder Embedder

	HistoryLimit int
	MemoryK      int
	// Budget caps the block in tokens, estimated at four characters each.
	// Negative disables the cap.
	Budget int
}

// Assembler builds the context block placed before the current message.
type Assembler struct {
	log          model.ConversationLog
	memory       model.MemoryStore
	embedder     Embedder
	historyLimit int
	memoryK      int
	budget       int
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	a := &Assembler{
		log:          cfg.Log,
		memory:       cfg.Memory,
		embedder:     cfg.Embedder,
		historyLimit: cfg.HistoryLimit,
		memoryK:      cfg.MemoryK,
		budget:       cfg.Budget,
	}
	if a.historyLimit <= 0 {
		a.historyLimit = DefaultHistoryLimit
	}
	if a.memoryK <= 0 {
		a.memoryK = DefaultMemoryK
	}
	if a.budget == 0 {
		a.budget = DefaultContextBudget
	}
	return a
}

// Assemble returns the recall block for message, or "" when the selected
// stores have nothing.
func (a *Assembler) Assemble(ctx context.Context, message string, mode Mode) (string, error) {
	var (
		hits  []model.MemoryHit
		turns []model.Turn
		err   error
	)

	if mode == ModeSemantic || mode == ModeHybrid {
		if hits, err = a.recallMemories(ctx, message); err != nil {
			return "", err
		}
	}
	if mode == ModeRecency || mode == ModeHybrid {
		if turns, err = a.log.Recent(ctx, a.historyLimit); err != nil {
			return "", err
		}
	}

	hits, turns = a.fit(hits, turns)
	return formatMemories(hits) + formatHistory(turns), nil
}

func (a *Assembler) recallMemories(ctx context.Context, message string) ([]model.MemoryHit, error) {
	vec, err := a.embedder.Embed(ctx, message)
	if err != nil {
		return nil, err
	}
	return a.memory.QueryNearest(ctx, vec, a.memoryK)
}

// fit drops entries until the block is within budget, taking from the
// larger section each time: the lowest-similarity memory or the oldest turn.
func (a *Assembler) fit(hits []model.MemoryHit, turns []model.Turn) ([]model.MemoryHit, []model.Turn) {
	if a.budget < 0 {
		return hits, turns
	}
	limit := a.budget * charsPerToken
	for {
		mem, hist := formatMemories(hits), formatHistory(turns)
		if len(mem)+len(hist) <= limit {
			return hits, turns
		}
		switch {
		case len(hits) > 0 && (len(mem) >= len(hist) || len(turns) == 0):
			hits = hits[:len(hits)-1]
		case len(turns) > 0:
			turns = turns[1:]
		default:
			return hits, turns
		}
	}
}

func formatMemories(hits []model.MemoryHit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "- %s (similarity: %.2f)\n", h.Text, h.Similarity)
	}
	b.WriteString("\n")
	return b.String()
}

func formatHistory(turns []model.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n\n", t.UserInput, t.AgentResponse)
	}
	return b.String()
}
