package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/johncui/mnemo/pkg/model"
	"github.com/johncui/mnemo/pkg/store/sqlite"
)

func openDB(t *testing.T, path string, dim int) *sqlite.Database {
	t.Helper()
	db, err := sqlite.New(context.Background(), sqlite.Config{Path: path, VectorDim: dim})
	gt.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func appendTurn(t *testing.T, db *sqlite.Database, user, assistant string) *model.Turn {
	t.Helper()
	turn := &model.Turn{ID: model.NewID(), UserInput: user, AgentResponse: assistant}
	gt.NoError(t, sqlite.InsertTurn(context.Background(), db.DB(), turn))
	return turn
}

func TestSchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.db")
	first := openDB(t, path, 4)
	appendTurn(t, first, "hi", "hello!")
	gt.NoError(t, first.Close())

	second := openDB(t, path, 4)
	n, err := second.CountTurns(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, n, int64(1))
}

func TestVectorDimMismatchIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.db")
	db := openDB(t, path, 4)
	gt.NoError(t, db.Close())

	_, err := sqlite.New(context.Background(), sqlite.Config{Path: path, VectorDim: 8})
	gt.Error(t, err)
	gt.True(t, model.IsConfig(err))
	gt.True(t, errors.Is(err, model.ErrDimensionMismatch))
}

func TestVSSWithoutExtensionIsConfigError(t *testing.T) {
	t.Setenv("GO_SQLITE3_EXTENSIONS", "")
	_, err := sqlite.New(context.Background(), sqlite.Config{
		Path:      filepath.Join(t.TempDir(), "mnemo.db"),
		EnableVSS: true,
	})
	gt.Error(t, err)
	gt.True(t, model.IsConfig(err))
}

func TestRecentTurns(t *testing.T) {
	testCases := []struct {
		name  string
		total int
		limit int
		want  int
	}{
		{"more turns than limit", 8, 5, 5},
		{"exactly limit", 5, 5, 5},
		{"fewer turns than limit", 3, 5, 3},
		{"empty log", 0, 5, 0},
		{"zero limit", 4, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db := openDB(t, filepath.Join(t.TempDir(), "mnemo.db"), 4)
			for i := 0; i < tc.total; i++ {
				appendTurn(t, db, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
			}

			turns, err := db.RecentTurns(context.Background(), tc.limit)
			gt.NoError(t, err)
			gt.A(t, turns).Length(tc.want)

			// chronological, and the window is the newest one
			for i, turn := range turns {
				gt.Equal(t, turn.UserInput, fmt.Sprintf("q%d", tc.total-tc.want+i))
				if i > 0 {
					gt.True(t, turns[i-1].Seq < turn.Seq)
				}
			}
		})
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "mnemo.db"), 3)

	rec := &model.MemoryRecord{
		ID:        model.NewID(),
		Text:      "User: hi\nAssistant: hello!",
		Embedding: []float32{0.25, -0.5, 1},
		Source:    model.SourceExchange,
		TurnID:    "turn-1",
	}
	gt.NoError(t, sqlite.InsertMemory(ctx, db.DB(), rec))

	got, err := db.FetchMemories(ctx, []string{rec.ID, "missing"})
	gt.NoError(t, err)
	gt.Equal(t, len(got), 1)
	gt.Equal(t, got[rec.ID].Text, rec.Text)
	gt.Equal(t, got[rec.ID].TurnID, "turn-1")

	var scanned []model.MemoryRecord
	gt.NoError(t, db.ScanMemories(ctx, 1, func(r model.MemoryRecord) error {
		scanned = append(scanned, r)
		return nil
	}))
	gt.A(t, scanned).Length(1)
	gt.Equal(t, scanned[0].Embedding, rec.Embedding)
	gt.Equal(t, scanned[0].Source, model.SourceExchange)
}

func TestScanMemoriesPages(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "mnemo.db"), 2)
	for i := 0; i < 7; i++ {
		gt.NoError(t, sqlite.InsertMemory(ctx, db.DB(), &model.MemoryRecord{
			ID:        fmt.Sprintf("m%d", i),
			Text:      fmt.Sprintf("doc %d", i),
			Embedding: []float32{float32(i), 1},
			Source:    model.SourceDocument,
		}))
	}

	var ids []string
	gt.NoError(t, db.ScanMemories(ctx, 3, func(r model.MemoryRecord) error {
		ids = append(ids, r.ID)
		return nil
	}))
	gt.Equal(t, ids, []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6"})
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, filepath.Join(t.TempDir(), "mnemo.db"), 2)

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		turn := &model.Turn{ID: model.NewID(), UserInput: "q", AgentResponse: "a"}
		if err := sqlite.InsertTurn(ctx, tx, turn); err != nil {
			return err
		}
		// empty embedding is rejected, so the turn must not survive
		return sqlite.InsertMemory(ctx, tx, &model.MemoryRecord{ID: model.NewID(), Text: "x"})
	})
	gt.Error(t, err)

	turns, err := db.CountTurns(ctx)
	gt.NoError(t, err)
	gt.Equal(t, turns, int64(0))
	memories, err := db.CountMemories(ctx)
	gt.NoError(t, err)
	gt.Equal(t, memories, int64(0))
}
